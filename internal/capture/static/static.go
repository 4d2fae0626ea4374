// Package static provides a capture backend whose devices are declared in
// configuration rather than discovered from hardware.
//
// It serves development hosts, CI and platforms without a native backend.
// When built from a file, the file is re-read on every enumeration and
// watched for changes, so editing it behaves like plugging a device in.
package static

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

// Format is one declared capture mode.
type Format struct {
	PixelFormat string  `yaml:"pixel_format" json:"pixel_format"`
	Width       uint32  `yaml:"width" json:"width"`
	Height      uint32  `yaml:"height" json:"height"`
	FPS         float64 `yaml:"fps" json:"fps"`
	Interlaced  bool    `yaml:"interlaced" json:"interlaced"`
}

// Device is one declared capture device.
type Device struct {
	Name      string   `yaml:"name" json:"name"`
	UniqueID  string   `yaml:"unique_id" json:"unique_id"`
	ProductID string   `yaml:"product_id" json:"product_id"`
	Formats   []Format `yaml:"formats" json:"formats"`
}

// file is the on-disk layout of a static device file.
type file struct {
	Devices []Device `yaml:"devices"`
}

// Backend serves a fixed or file-backed device list.
type Backend struct {
	mu       sync.Mutex
	path     string
	devices  []Device
	interval time.Duration
}

// New creates a backend serving devices.
func New(devices []Device) *Backend {
	return &Backend{devices: devices}
}

// NewFromFile creates a backend that reads its devices from a YAML file on
// every enumeration. pollInterval controls how often Watch checks the file;
// zero disables watching.
func NewFromFile(path string, pollInterval time.Duration) (*Backend, error) {
	b := &Backend{path: path, interval: pollInterval}
	if _, err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// load returns the current device list, re-reading the file if there is one.
func (b *Backend) load() ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.path == "" {
		return b.devices, nil
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("reading device file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing device file: %w", err)
	}
	b.devices = f.Devices
	return b.devices, nil
}

// EnumerateDevices returns the declared devices.
func (b *Backend) EnumerateDevices(_ context.Context) ([]capture.RawDevice, error) {
	devices, err := b.load()
	if err != nil {
		return nil, err
	}
	out := make([]capture.RawDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, capture.RawDevice{
			Name:      []byte(d.Name),
			UniqueID:  []byte(d.UniqueID),
			ProductID: []byte(d.ProductID),
		})
	}
	return out, nil
}

// EnumerateFormats returns the declared formats of a device.
//
// The device is found by its position in the last enumeration, so identical
// declarations stay distinct. If the list changed since, it falls back to the
// first declaration with the same ID, or the same name when none was declared.
func (b *Backend) EnumerateFormats(_ context.Context, ref capture.DeviceRef) ([]capture.RawFormat, error) {
	b.mu.Lock()
	devices := b.devices
	b.mu.Unlock()

	d, ok := findDevice(devices, ref)
	if !ok {
		return nil, fmt.Errorf("device %q (%q) not declared", ref.UniqueID, ref.Name)
	}

	out := make([]capture.RawFormat, 0, len(d.Formats))
	for _, f := range d.Formats {
		out = append(out, capture.RawFormat{
			FourCC:     f.PixelFormat,
			Width:      f.Width,
			Height:     f.Height,
			MaxFPS:     f.FPS,
			Interlaced: f.Interlaced,
			Token:      f,
		})
	}
	return out, nil
}

func findDevice(devices []Device, ref capture.DeviceRef) (Device, bool) {
	matches := func(d Device) bool {
		if ref.UniqueID != "" {
			return d.UniqueID == ref.UniqueID
		}
		return d.UniqueID == "" && d.Name == ref.Name
	}
	if ref.Position >= 0 && ref.Position < len(devices) && matches(devices[ref.Position]) {
		return devices[ref.Position], true
	}
	for _, d := range devices {
		if matches(d) {
			return d, true
		}
	}
	return Device{}, false
}

// Watch polls the device file for modifications and calls notify when it
// changes. Without a file it only waits for ctx.
func (b *Backend) Watch(ctx context.Context, notify func()) error {
	if b.path == "" || b.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	last, err := modTime(b.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mt, err := modTime(b.path)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				continue
			}
			if !mt.Equal(last) {
				last = mt
				notify()
			}
		}
	}
}

func modTime(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}
