// Package frame defines the frame hand-off structures between the single
// producer and the detect worker pool.
package frame

import (
	"image"
	"time"
)

// Frame is one captured video frame. The producer owns the frame until it
// is published to a Channel; ownership then transfers to whichever consumer
// dequeues it and the producer must not touch it again.
type Frame struct {
	Seq       uint64      // monotonically increasing, producer-assigned
	Timestamp time.Time   // capture time
	Source    string      // originating source identifier
	Image     image.Image // pixel data, transformed in place by preprocessing
}

// Bounds returns the pixel bounds of the frame image.
func (f *Frame) Bounds() image.Rectangle {
	if f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}
