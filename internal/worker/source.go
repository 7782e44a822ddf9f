// Package worker implements the frame producer, the detect worker pool and
// the supervisor that owns their lifecycle.
package worker

import (
	"context"
	"image"

	"github.com/cvkitio/cvkit-go/internal/errors"
)

// ErrEndOfStream is returned by a FrameSource when the stream has ended
// cleanly. It triggers a graceful pipeline drain rather than an error.
var ErrEndOfStream = errors.NewStd("end of stream")

// FrameSource supplies raw frames on demand. Any error other than
// ErrEndOfStream is treated as transient and retried with backoff up to the
// configured budget.
type FrameSource interface {
	Open() error
	NextFrame(ctx context.Context) (image.Image, error)
	Close() error
}
