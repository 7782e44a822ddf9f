package preprocess

import (
	"image"
	"image/draw"
)

// Grayscale converts a frame to a single luma channel. Already-gray frames
// pass through untouched, making the stage idempotent.
type Grayscale struct{}

// Name implements Stage.
func (g *Grayscale) Name() string { return "grayscale" }

// Apply implements Stage.
func (g *Grayscale) Apply(img image.Image) (image.Image, error) {
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}

	bounds := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst, nil
}
