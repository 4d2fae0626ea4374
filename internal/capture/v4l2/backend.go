// Package v4l2 provides the Video4Linux2 capture backend.
//
// Devices are discovered from /dev/videoN nodes and described through
// sysfs; capture formats are queried from the driver with the V4L2 ioctls
// wrapped by github.com/blackjack/webcam. Only primary capture nodes
// (sysfs index 0) are reported, so a camera exposing a metadata node
// appears once.
package v4l2

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

// Default paths and polling interval.
const (
	DefaultDevDir        = "/dev"
	DefaultSysfsDir      = "/sys/class/video4linux"
	DefaultWatchInterval = 2 * time.Second
)

// Config configures the backend. Zero values select defaults.
type Config struct {
	DevDir        string
	SysfsDir      string
	WatchInterval time.Duration

	// IncludeAllNodes reports secondary nodes (metadata, output) too.
	IncludeAllNodes bool
}

// Backend is the V4L2 device backend.
type Backend struct {
	cfg Config

	mu    sync.Mutex
	paths map[string]string // unique ID -> device node from the last enumeration
}

// New creates a V4L2 backend.
func New(cfg Config) *Backend {
	if cfg.DevDir == "" {
		cfg.DevDir = DefaultDevDir
	}
	if cfg.SysfsDir == "" {
		cfg.SysfsDir = DefaultSysfsDir
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = DefaultWatchInterval
	}
	return &Backend{
		cfg:   cfg,
		paths: make(map[string]string),
	}
}

// EnumerateDevices lists the attached capture nodes.
//
// The unique ID is the /dev/v4l/by-id link when udev created one, which
// survives renumbering across replugs, and the node path otherwise.
func (b *Backend) EnumerateDevices(_ context.Context) ([]capture.RawDevice, error) {
	nodes, err := scanNodes(b.cfg.DevDir, b.cfg.SysfsDir)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]string, len(nodes))
	out := make([]capture.RawDevice, 0, len(nodes))
	for _, n := range nodes {
		if n.Index != 0 && !b.cfg.IncludeAllNodes {
			continue
		}
		id := n.ByID
		if id == "" {
			id = n.Path
		}
		name := n.Name
		if name == "" {
			name = n.Path
		}
		paths[id] = n.Path
		out = append(out, capture.RawDevice{
			Name:      []byte(name),
			UniqueID:  []byte(id),
			ProductID: []byte(n.ProductID),
			Path:      n.Path,
		})
	}

	b.mu.Lock()
	b.paths = paths
	b.mu.Unlock()
	return out, nil
}

// EnumerateFormats opens the device and lists every pixel format, frame
// size and frame interval the driver reports.
func (b *Backend) EnumerateFormats(ctx context.Context, ref capture.DeviceRef) ([]capture.RawFormat, error) {
	path := ref.Path
	if path == "" {
		b.mu.Lock()
		path = b.paths[ref.UniqueID]
		b.mu.Unlock()
	}
	if path == "" {
		return nil, fmt.Errorf("device %q not enumerated", ref.UniqueID)
	}
	return queryFormats(ctx, path)
}

// Watch polls the device directory and calls notify when the set of video
// nodes changes.
func (b *Backend) Watch(ctx context.Context, notify func()) error {
	last, err := videoNodes(b.cfg.DevDir)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(b.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur, err := videoNodes(b.cfg.DevDir)
			if err != nil {
				continue
			}
			if !slices.Equal(cur, last) {
				last = cur
				notify()
			}
		}
	}
}
