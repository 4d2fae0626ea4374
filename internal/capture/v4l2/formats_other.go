//go:build !linux

package v4l2

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

func queryFormats(_ context.Context, path string) ([]capture.RawFormat, error) {
	return nil, fmt.Errorf("querying %s: %w: v4l2 requires linux", path, capture.ErrNotSupported)
}
