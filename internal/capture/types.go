package capture

import (
	"strings"
	"time"
)

// DefaultDeviceListTimeout is how long an enumerated device list is served
// from cache before the next read re-enumerates.
const DefaultDeviceListTimeout = 5000 * time.Millisecond

// DefaultNameMaxLength is the size of a device name buffer including the NUL
// terminator. Display names are truncated to DefaultNameMaxLength-1 bytes.
const DefaultNameMaxLength = 64

// DeviceRecord describes one attached capture device.
//
// UniqueID is the identity of the device and is stable across refreshes for
// as long as the device stays attached. DisplayName is for humans and may
// collide between identical devices.
type DeviceRecord struct {
	DisplayName string `json:"display_name"`
	UniqueID    string `json:"unique_id"`
	ProductID   string `json:"product_id,omitempty"`
	DevicePath  string `json:"device_path,omitempty"`
}

// DeviceList is an immutable snapshot of the enumerated devices.
//
// A DeviceList is never mutated once published; a refresh replaces it.
type DeviceList struct {
	Epoch       string         `json:"epoch"`
	Devices     []DeviceRecord `json:"devices"`
	RefreshedAt time.Time      `json:"refreshed_at"`

	// refs maps each UniqueID to the backend's own handle for the device.
	refs map[string]DeviceRef
}

// Len returns the number of devices in the snapshot.
func (l *DeviceList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Devices)
}

// Index returns the position of the device with the given unique ID, or -1.
func (l *DeviceList) Index(uniqueID string) int {
	if l == nil {
		return -1
	}
	for i := range l.Devices {
		if l.Devices[i].UniqueID == uniqueID {
			return i
		}
	}
	return -1
}

// ref returns the backend handle of the device with the given unique ID.
func (l *DeviceList) ref(uniqueID string) (DeviceRef, bool) {
	if l == nil {
		return DeviceRef{}, false
	}
	r, ok := l.refs[uniqueID]
	return r, ok
}

// PixelFormat is the pixel format or codec a capability delivers frames in.
type PixelFormat string

// Pixel formats. PixelFormatAny is only meaningful in a request and means the
// caller accepts whatever format the device delivers.
const (
	PixelFormatAny      PixelFormat = ""
	PixelFormatI420     PixelFormat = "I420"
	PixelFormatYV12     PixelFormat = "YV12"
	PixelFormatYUY2     PixelFormat = "YUY2"
	PixelFormatUYVY     PixelFormat = "UYVY"
	PixelFormatIYUV     PixelFormat = "IYUV"
	PixelFormatARGB     PixelFormat = "ARGB"
	PixelFormatBGRA     PixelFormat = "BGRA"
	PixelFormatRGB24    PixelFormat = "RGB24"
	PixelFormatRGB565   PixelFormat = "RGB565"
	PixelFormatARGB4444 PixelFormat = "ARGB4444"
	PixelFormatARGB1555 PixelFormat = "ARGB1555"
	PixelFormatMJPEG    PixelFormat = "MJPEG"
	PixelFormatNV12     PixelFormat = "NV12"
	PixelFormatNV21     PixelFormat = "NV21"
	PixelFormatH264     PixelFormat = "H264"
	PixelFormatUnknown  PixelFormat = "UNKNOWN"
)

// fourCCFormats maps V4L2/DirectShow style FourCC codes to pixel formats.
var fourCCFormats = map[string]PixelFormat{
	"I420": PixelFormatI420,
	"YU12": PixelFormatI420,
	"YV12": PixelFormatYV12,
	"YUY2": PixelFormatYUY2,
	"YUYV": PixelFormatYUY2,
	"UYVY": PixelFormatUYVY,
	"IYUV": PixelFormatIYUV,
	"AR24": PixelFormatARGB,
	"BA24": PixelFormatARGB,
	"RA24": PixelFormatBGRA,
	"BGR4": PixelFormatBGRA,
	"RGB3": PixelFormatRGB24,
	"BGR3": PixelFormatRGB24,
	"RGBP": PixelFormatRGB565,
	"AR12": PixelFormatARGB4444,
	"AR15": PixelFormatARGB1555,
	"MJPG": PixelFormatMJPEG,
	"JPEG": PixelFormatMJPEG,
	"NV12": PixelFormatNV12,
	"NV21": PixelFormatNV21,
	"H264": PixelFormatH264,
}

// PixelFormatFromFourCC maps a four character code to a PixelFormat.
// Unrecognised codes map to PixelFormatUnknown; an empty code maps to
// PixelFormatAny.
func PixelFormatFromFourCC(code string) PixelFormat {
	code = strings.TrimRight(code, " \x00")
	if code == "" {
		return PixelFormatAny
	}
	if f, ok := fourCCFormats[strings.ToUpper(code)]; ok {
		return f
	}
	return PixelFormatUnknown
}

// ParsePixelFormat accepts either a PixelFormat name ("YUY2", "MJPEG") or a
// FourCC code ("YUYV", "MJPG"). Matching is case-insensitive.
func ParsePixelFormat(s string) PixelFormat {
	s = strings.TrimSpace(s)
	if s == "" {
		return PixelFormatAny
	}
	upper := PixelFormat(strings.ToUpper(s))
	switch upper {
	case PixelFormatI420, PixelFormatYV12, PixelFormatYUY2, PixelFormatUYVY,
		PixelFormatIYUV, PixelFormatARGB, PixelFormatBGRA, PixelFormatRGB24,
		PixelFormatRGB565, PixelFormatARGB4444, PixelFormatARGB1555,
		PixelFormatMJPEG, PixelFormatNV12, PixelFormatNV21, PixelFormatH264,
		PixelFormatUnknown:
		return upper
	}
	return PixelFormatFromFourCC(s)
}

// CaptureCapability is one capture mode a device supports.
type CaptureCapability struct {
	Width       uint32      `json:"width"`
	Height      uint32      `json:"height"`
	MaxFPS      float64     `json:"max_fps"`
	PixelFormat PixelFormat `json:"pixel_format"`
	Interlaced  bool        `json:"interlaced,omitempty"`

	// ExpectedCaptureDelay is the backend's estimate of capture latency in
	// milliseconds, zero when unknown.
	ExpectedCaptureDelay int `json:"expected_capture_delay_ms,omitempty"`

	// Raw is the platform token needed to open the device in this mode.
	Raw any `json:"-"`
}

// Area returns Width*Height.
func (c CaptureCapability) Area() int64 {
	return int64(c.Width) * int64(c.Height)
}

// Encoding identifies how a backend encoded a raw string.
type Encoding int

const (
	// EncodingUTF8 is plain UTF-8, optionally NUL-terminated.
	EncodingUTF8 Encoding = iota
	// EncodingPascal is a length-prefixed Mac OS Roman string.
	EncodingPascal
	// EncodingUTF16LE is little-endian UTF-16, optionally NUL-terminated.
	EncodingUTF16LE
)

// String returns the encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "utf-8"
	case EncodingPascal:
		return "pascal"
	case EncodingUTF16LE:
		return "utf-16le"
	default:
		return "unknown"
	}
}

// RawDevice is a device as reported by the platform backend, before decoding.
type RawDevice struct {
	Name      []byte
	UniqueID  []byte
	ProductID []byte
	Encoding  Encoding
	Path      string
}

// DeviceRef identifies a device to the backend that reported it.
//
// The directory may assign a device a UniqueID the backend never issued
// (a name fallback or a duplicate suffix), so backends are always addressed
// through the values they reported themselves.
type DeviceRef struct {
	// UniqueID is the decoded ID as reported; it may be empty or shared.
	UniqueID string
	// Name is the decoded, untruncated name.
	Name string
	// Path is RawDevice.Path.
	Path string
	// Position is the device's index in the enumeration that produced the
	// current snapshot.
	Position int
}

// Fraction is a frame interval in seconds, Num/Den.
type Fraction struct {
	Num uint32
	Den uint32
}

// RawFormat is a format descriptor as reported by the platform backend.
//
// Either MaxFPS or Interval must be set. When both are, MaxFPS wins.
type RawFormat struct {
	FourCC               string
	Width                uint32
	Height               uint32
	MaxFPS               float64
	Interval             Fraction
	Interlaced           bool
	ExpectedCaptureDelay int
	Token                any
}

// RefreshEvent describes one refresh attempt of a Directory.
type RefreshEvent struct {
	// List is the published snapshot; nil when Err is set.
	List     *DeviceList
	Added    []DeviceRecord
	Removed  []DeviceRecord
	Duration time.Duration
	Err      error
}
