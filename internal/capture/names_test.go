package capture

import (
	"testing"
	"unicode/utf8"
)

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		enc  Encoding
		want string
	}{
		{"utf8 plain", []byte("FaceTime HD"), EncodingUTF8, "FaceTime HD"},
		{"utf8 NUL terminated", []byte("Cam\x00garbage"), EncodingUTF8, "Cam"},
		{"utf8 invalid bytes", []byte{'C', 0xff, 'm'}, EncodingUTF8, "C\uFFFDm"},
		{"pascal", []byte{3, 'C', 'a', 'm', 'x', 'x'}, EncodingPascal, "Cam"},
		{"pascal short body", []byte{9, 'C', 'a', 'm'}, EncodingPascal, "Cam"},
		{"pascal mac roman", []byte{4, 'C', 0x8a, 'm', 'e'}, EncodingPascal, "Cäme"},
		{"pascal empty", nil, EncodingPascal, ""},
		{"utf16le", []byte{'C', 0, 'a', 0, 'm', 0}, EncodingUTF16LE, "Cam"},
		{"utf16le NUL terminated", []byte{'C', 0, 0, 0, 'x', 0}, EncodingUTF16LE, "C"},
		{"utf16le odd length", []byte{'C', 0, 'a'}, EncodingUTF16LE, "C"},
		{"utf16le non ascii", []byte{0xfc, 0x00, 'b', 0}, EncodingUTF16LE, "üb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeString(tt.raw, tt.enc)
			if err != nil {
				t.Fatalf("DecodeString() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeString_UnknownEncoding(t *testing.T) {
	if _, err := DecodeString([]byte("x"), Encoding(42)); err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestTruncateName(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 63, "short"},
		{"abcdef", 3, "abc"},
		{"aü", 2, "a"},
		{"aü", 3, "aü"},
		{"unbounded", 0, "unbounded"},
	}
	for _, tt := range tests {
		got := TruncateName(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("TruncateName(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("TruncateName(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}

func TestPixelFormatFromFourCC(t *testing.T) {
	tests := map[string]PixelFormat{
		"YUYV":     PixelFormatYUY2,
		"yuyv":     PixelFormatYUY2,
		"MJPG":     PixelFormatMJPEG,
		"YU12":     PixelFormatI420,
		"H264":     PixelFormatH264,
		"NV12\x00": PixelFormatNV12,
		"WXYZ":     PixelFormatUnknown,
		"":         PixelFormatAny,
	}
	for code, want := range tests {
		if got := PixelFormatFromFourCC(code); got != want {
			t.Errorf("PixelFormatFromFourCC(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestParsePixelFormat(t *testing.T) {
	tests := map[string]PixelFormat{
		"mjpeg": PixelFormatMJPEG,
		"YUY2":  PixelFormatYUY2,
		"YUYV":  PixelFormatYUY2,
		" ":     PixelFormatAny,
		"rgb24": PixelFormatRGB24,
	}
	for in, want := range tests {
		if got := ParsePixelFormat(in); got != want {
			t.Errorf("ParsePixelFormat(%q) = %q, want %q", in, got, want)
		}
	}
}
