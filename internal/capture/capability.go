package capture

import (
	"fmt"
	"math"
)

// CapabilityMap is the ordered capability list of one device.
//
// Index i is the i-th distinct format the backend reported. A CapabilityMap
// is immutable once built and safe for concurrent reads.
type CapabilityMap struct {
	uniqueID string
	epoch    string
	caps     []CaptureCapability
}

// NewCapabilityMap normalizes raw backend descriptors into a CapabilityMap.
//
// Descriptors with a zero width, height or frame rate are dropped, as are
// exact duplicates of an earlier descriptor. The second return value is the
// number of descriptors dropped.
func NewCapabilityMap(uniqueID string, raw []RawFormat) (*CapabilityMap, int) {
	m := &CapabilityMap{
		uniqueID: uniqueID,
		caps:     make([]CaptureCapability, 0, len(raw)),
	}

	type key struct {
		w, h   uint32
		fps    float64
		format PixelFormat
		inter  bool
	}
	seen := make(map[key]struct{}, len(raw))
	dropped := 0

	for _, rf := range raw {
		c, ok := normalizeFormat(rf)
		if !ok {
			dropped++
			continue
		}
		k := key{c.Width, c.Height, c.MaxFPS, c.PixelFormat, c.Interlaced}
		if _, dup := seen[k]; dup {
			dropped++
			continue
		}
		seen[k] = struct{}{}
		m.caps = append(m.caps, c)
	}
	return m, dropped
}

func normalizeFormat(rf RawFormat) (CaptureCapability, bool) {
	fps := rf.MaxFPS
	if fps <= 0 && rf.Interval.Num > 0 {
		fps = float64(rf.Interval.Den) / float64(rf.Interval.Num)
	}
	if rf.Width == 0 || rf.Height == 0 || fps <= 0 || math.IsInf(fps, 0) || math.IsNaN(fps) {
		return CaptureCapability{}, false
	}

	format := PixelFormatFromFourCC(rf.FourCC)
	if format == PixelFormatAny {
		format = PixelFormatUnknown
	}
	return CaptureCapability{
		Width:                rf.Width,
		Height:               rf.Height,
		MaxFPS:               fps,
		PixelFormat:          format,
		Interlaced:           rf.Interlaced,
		ExpectedCaptureDelay: rf.ExpectedCaptureDelay,
		Raw:                  rf.Token,
	}, true
}

// UniqueID returns the device the map belongs to.
func (m *CapabilityMap) UniqueID() string { return m.uniqueID }

// Epoch returns the device list epoch the map was built against.
func (m *CapabilityMap) Epoch() string { return m.epoch }

// Len returns the number of capabilities.
func (m *CapabilityMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.caps)
}

// At returns the capability at index.
// The error wraps both ErrOutOfRange and ErrNotFound.
func (m *CapabilityMap) At(index int) (CaptureCapability, error) {
	if index < 0 || index >= m.Len() {
		return CaptureCapability{}, fmt.Errorf("%w: %w: capability %d of %d for %q",
			ErrOutOfRange, ErrNotFound, index, m.Len(), m.uniqueID)
	}
	return m.caps[index], nil
}

// All returns a copy of the capability list.
func (m *CapabilityMap) All() []CaptureCapability {
	out := make([]CaptureCapability, m.Len())
	copy(out, m.caps)
	return out
}

// matchCost orders candidates lexicographically: area delta, then frame
// rate delta, then pixel format mismatch. Lower is better.
type matchCost struct {
	area     int64
	rate     float64
	mismatch int
}

func (c matchCost) less(o matchCost) bool {
	if c.area != o.area {
		return c.area < o.area
	}
	if c.rate != o.rate {
		return c.rate < o.rate
	}
	return c.mismatch < o.mismatch
}

func costOf(req, c CaptureCapability) matchCost {
	area := req.Area() - c.Area()
	if area < 0 {
		area = -area
	}
	mismatch := 0
	if req.PixelFormat != PixelFormatAny && req.PixelFormat != c.PixelFormat {
		mismatch = 1
	}
	return matchCost{
		area:     area,
		rate:     math.Abs(req.MaxFPS - c.MaxFPS),
		mismatch: mismatch,
	}
}

// IsExactMatch reports whether got satisfies req exactly. An unset requested
// pixel format matches any format.
func IsExactMatch(req, got CaptureCapability) bool {
	return req.Width == got.Width &&
		req.Height == got.Height &&
		req.MaxFPS == got.MaxFPS &&
		(req.PixelFormat == PixelFormatAny || req.PixelFormat == got.PixelFormat)
}

// BestMatch returns the index and record of the capability closest to req.
//
// An exact match wins immediately. Otherwise the candidate with the smallest
// area difference wins, ties broken by frame rate difference, then by an
// exact pixel format match, then by the lowest index. Returns ErrNotFound if
// the map is empty.
func (m *CapabilityMap) BestMatch(req CaptureCapability) (int, CaptureCapability, error) {
	if m.Len() == 0 {
		return -1, CaptureCapability{}, fmt.Errorf("%w: no capabilities for %q", ErrNotFound, m.uniqueID)
	}

	best := -1
	var bestCost matchCost
	for i, c := range m.caps {
		if IsExactMatch(req, c) {
			return i, c, nil
		}
		cost := costOf(req, c)
		// Strict less keeps the lowest index on a full tie.
		if best < 0 || cost.less(bestCost) {
			best, bestCost = i, cost
		}
	}
	return best, m.caps[best], nil
}
