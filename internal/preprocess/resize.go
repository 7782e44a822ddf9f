package preprocess

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Resize scales a frame. With only Width set the height is derived from the
// original aspect ratio, and symmetrically for Height. With both set the
// image is scaled to exactly that size, distorting if necessary. With
// neither set the frame passes through unchanged.
type Resize struct {
	Width  int // target width, 0 to derive
	Height int // target height, 0 to derive
}

// Name implements Stage.
func (r *Resize) Name() string { return "resize" }

// TargetSize computes the output dimensions for an input of the given size.
func (r *Resize) TargetSize(origWidth, origHeight int) (int, int) {
	switch {
	case r.Width > 0 && r.Height > 0:
		return r.Width, r.Height
	case r.Width > 0:
		h := int(math.Round(float64(r.Width) * float64(origHeight) / float64(origWidth)))
		return r.Width, h
	case r.Height > 0:
		w := int(math.Round(float64(r.Height) * float64(origWidth) / float64(origHeight)))
		return w, r.Height
	default:
		return origWidth, origHeight
	}
}

// Apply implements Stage.
func (r *Resize) Apply(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	w, h := r.TargetSize(bounds.Dx(), bounds.Dy())
	if w == bounds.Dx() && h == bounds.Dy() {
		return img, nil
	}

	dstRect := image.Rect(0, 0, w, h)
	// Keep single-channel frames single-channel through scaling so a
	// grayscale stage earlier in the chain stays idempotent.
	var dst xdraw.Image
	if _, gray := img.(*image.Gray); gray {
		dst = image.NewGray(dstRect)
	} else {
		dst = image.NewRGBA(dstRect)
	}

	xdraw.CatmullRom.Scale(dst, dstRect, img, bounds, xdraw.Src, nil)
	return dst, nil
}
