package vision

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/detect"
	"github.com/cvkitio/cvkit-go/internal/errors"
)

func init() {
	detect.RegisterDetector("face", newHaarDetector)
	detect.RegisterDetector("haar", newHaarDetector)
}

const defaultHaarScale = 1.1

// HaarDetector wraps a gocv cascade classifier. Instances are built once
// per worker by the chain factory and are not safe for concurrent use.
type HaarDetector struct {
	classifier gocv.CascadeClassifier
	label      string
}

func newHaarDetector(cfg conf.DetectorConfig) (detect.Detector, error) {
	if cfg.ModelPath == "" {
		return nil, errors.Newf("detector %q requires a model path to a cascade file", cfg.Name).
			Component("vision").
			Category(errors.CategoryConfiguration).
			Build()
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.ModelPath) {
		classifier.Close()
		return nil, errors.Newf("failed to load cascade file %q", cfg.ModelPath).
			Component("vision").
			Category(errors.CategoryModelLoad).
			Context("node", cfg.Name).
			Build()
	}

	return &HaarDetector{classifier: classifier, label: cfg.Name}, nil
}

// Detect runs the cascade over the image. Cascade matches carry no
// confidence, so every hit scores 1.0 and thresholding is a no-op.
// Detected rectangles are offset back into the input's coordinate space,
// which for cropped sub-images is the full-frame space.
func (d *HaarDetector) Detect(ctx context.Context, img image.Image, params detect.Parameters) ([]detect.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(toRGBA(img))
	if err != nil {
		return nil, errors.New(err).
			Component("vision").
			Category(errors.CategoryDetectorNode).
			Build()
	}
	defer mat.Close()

	scale := params.Scale
	if scale <= 1 {
		scale = defaultHaarScale
	}

	rects := d.classifier.DetectMultiScaleWithParams(
		mat, scale, 3, 0, image.Point{}, image.Point{})

	offset := img.Bounds().Min
	detections := make([]detect.Detection, 0, len(rects))
	for _, r := range rects {
		detections = append(detections, detect.Detection{
			Label:  d.label,
			Score:  1.0,
			Region: r.Add(offset),
		})
	}
	return detections, nil
}

// Close releases the classifier.
func (d *HaarDetector) Close() error {
	return d.classifier.Close()
}

// toRGBA normalizes any image to *image.RGBA at origin for gocv conversion.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
