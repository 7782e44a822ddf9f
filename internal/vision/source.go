// Package vision adapts OpenCV (via gocv) to the pipeline's frame source
// and detector boundaries. Everything gocv-specific stays behind this
// package so the rest of the pipeline works on plain image.Image values.
package vision

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
	"github.com/cvkitio/cvkit-go/internal/worker"
)

// CaptureSource reads frames from a video file, webcam device or RTSP
// stream through gocv.VideoCapture. It is not safe for concurrent use;
// the single frame producer owns it.
type CaptureSource struct {
	cfg     conf.SourceSettings
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// NewCaptureSource builds a source from validated settings. The capture
// device is not touched until Open.
func NewCaptureSource(cfg conf.SourceSettings) *CaptureSource {
	return &CaptureSource{cfg: cfg}
}

// Open connects to the configured capture target.
func (s *CaptureSource) Open() error {
	var target any
	switch s.cfg.Type {
	case conf.SourceTypeFile:
		target = s.cfg.Path
	case conf.SourceTypeWebcam:
		target = s.cfg.Device
	case conf.SourceTypeRTSP:
		target = s.cfg.URL
	default:
		return errors.Newf("unsupported source type %q", s.cfg.Type).
			Component("vision").
			Category(errors.CategoryConfiguration).
			Build()
	}

	capture, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return errors.New(err).
			Component("vision").
			Category(errors.CategoryFrameSource).
			Context("target", target).
			Build()
	}
	if !capture.IsOpened() {
		capture.Close()
		return errors.Newf("video capture did not open").
			Component("vision").
			Category(errors.CategoryFrameSource).
			Context("target", target).
			Build()
	}

	s.capture = capture
	s.mat = gocv.NewMat()
	return nil
}

// NextFrame reads one frame and converts it to an image.Image the rest of
// the pipeline can own. A failed read on a file source is end of stream;
// for live sources it is a transient error left to the producer's retry
// policy. An empty frame is treated the same way.
func (s *CaptureSource) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.capture == nil {
		return nil, errors.Newf("capture source not open").
			Component("vision").
			Category(errors.CategoryFrameSource).
			Build()
	}

	if !s.capture.Read(&s.mat) || s.mat.Empty() {
		if s.cfg.Type == conf.SourceTypeFile {
			return nil, worker.ErrEndOfStream
		}
		return nil, errors.Newf("failed to read frame from capture").
			Component("vision").
			Category(errors.CategoryFrameSource).
			Build()
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return nil, errors.New(err).
			Component("vision").
			Category(errors.CategoryFrameSource).
			Build()
	}
	return img, nil
}

// Close releases the capture device and read buffer.
func (s *CaptureSource) Close() error {
	if !s.mat.Closed() {
		s.mat.Close()
	}
	if s.capture == nil {
		return nil
	}
	err := s.capture.Close()
	s.capture = nil
	return err
}
