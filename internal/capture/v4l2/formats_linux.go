//go:build linux

package v4l2

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/blackjack/webcam"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

// queryFormats enumerates formats through the V4L2 VIDIOC_ENUM_* ioctls.
func queryFormats(ctx context.Context, path string) ([]capture.RawFormat, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer cam.Close()

	supported := cam.GetSupportedFormats()
	codes := make([]webcam.PixelFormat, 0, len(supported))
	for pf := range supported {
		codes = append(codes, pf)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	var out []capture.RawFormat
	for _, pf := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fourCC := fourCCString(uint32(pf))
		for _, size := range frameSizes(cam.GetSupportedFrameSizes(pf)) {
			rates := cam.GetSupportedFramerates(pf, size[0], size[1])
			for _, r := range rates {
				out = append(out, capture.RawFormat{
					FourCC: fourCC,
					Width:  size[0],
					Height: size[1],
					// Shortest interval gives the highest rate.
					Interval: capture.Fraction{Num: r.MinNumerator, Den: r.MaxDenominator},
					Token:    pf,
				})
			}
		}
	}
	return out, nil
}

// frameSizes flattens discrete and stepwise sizes. Stepwise ranges
// contribute their smallest and largest size.
func frameSizes(sizes []webcam.FrameSize) [][2]uint32 {
	var out [][2]uint32
	for _, s := range sizes {
		out = append(out, [2]uint32{s.MaxWidth, s.MaxHeight})
		if s.MinWidth != s.MaxWidth || s.MinHeight != s.MaxHeight {
			out = append(out, [2]uint32{s.MinWidth, s.MinHeight})
		}
	}
	return out
}

func fourCCString(code uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], code)
	return string(b[:])
}
