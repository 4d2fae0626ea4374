package capture

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DecodeString converts a raw backend string to canonical UTF-8.
//
// Trailing NUL bytes (and anything after the first NUL) are dropped. Invalid
// UTF-8 sequences are replaced with U+FFFD.
func DecodeString(raw []byte, enc Encoding) (string, error) {
	switch enc {
	case EncodingUTF8:
		return strings.ToValidUTF8(string(cutNUL(raw)), "\uFFFD"), nil

	case EncodingPascal:
		if len(raw) == 0 {
			return "", nil
		}
		n := int(raw[0])
		body := raw[1:]
		if n < len(body) {
			body = body[:n]
		}
		out, err := charmap.Macintosh.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("decoding pascal string: %w", err)
		}
		return string(cutNUL(out)), nil

	case EncodingUTF16LE:
		if len(raw)%2 == 1 {
			raw = raw[:len(raw)-1]
		}
		for i := 0; i+1 < len(raw); i += 2 {
			if raw[i] == 0 && raw[i+1] == 0 {
				raw = raw[:i]
				break
			}
		}
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		out, err := dec.Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decoding utf-16 string: %w", err)
		}
		return string(out), nil

	default:
		return "", fmt.Errorf("unknown string encoding %d", enc)
	}
}

func cutNUL(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

// TruncateName shortens s to at most max bytes without splitting a rune.
// A max of zero or less leaves s unchanged.
func TruncateName(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// NameBuffers holds caller-provided output buffers for GetDeviceName.
// A nil ProductID skips the product ID.
type NameBuffers struct {
	Name      []byte
	UniqueID  []byte
	ProductID []byte
}

// fits reports whether every requested value fits its buffer with a NUL
// terminator.
func (b NameBuffers) fits(rec DeviceRecord) bool {
	if len(rec.DisplayName)+1 > len(b.Name) {
		return false
	}
	if len(rec.UniqueID)+1 > len(b.UniqueID) {
		return false
	}
	if b.ProductID != nil && len(rec.ProductID)+1 > len(b.ProductID) {
		return false
	}
	return true
}

func (b NameBuffers) write(rec DeviceRecord) {
	putCString(b.Name, rec.DisplayName)
	putCString(b.UniqueID, rec.UniqueID)
	if b.ProductID != nil {
		putCString(b.ProductID, rec.ProductID)
	}
}

func putCString(dst []byte, s string) {
	n := copy(dst, s)
	dst[n] = 0
}

// CString returns the string stored in a NUL-terminated buffer.
func CString(buf []byte) string {
	return string(cutNUL(buf))
}
