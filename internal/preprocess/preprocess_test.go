package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
)

func newTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func TestResizeTargetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"width only preserves aspect", 640, 0, 640, 360},
		{"height only preserves aspect rounded", 0, 480, 853, 480},
		{"neither is identity", 0, 0, 1920, 1080},
		{"both distorts to exact size", 640, 480, 640, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &Resize{Width: tt.width, Height: tt.height}
			w, h := r.TargetSize(1920, 1080)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestResizeApply(t *testing.T) {
	t.Parallel()

	r := &Resize{Width: 640}
	out, err := r.Apply(newTestImage(1920, 1080))
	require.NoError(t, err)
	assert.Equal(t, 640, out.Bounds().Dx())
	assert.Equal(t, 360, out.Bounds().Dy())
}

func TestResizeIdentityReturnsInput(t *testing.T) {
	t.Parallel()

	src := newTestImage(320, 240)
	r := &Resize{}
	out, err := r.Apply(src)
	require.NoError(t, err)
	assert.Same(t, image.Image(src), out)
}

func TestResizeKeepsGrayFramesGray(t *testing.T) {
	t.Parallel()

	g := &Grayscale{}
	gray, err := g.Apply(newTestImage(1920, 1080))
	require.NoError(t, err)

	r := &Resize{Width: 640}
	out, err := r.Apply(gray)
	require.NoError(t, err)
	assert.IsType(t, &image.Gray{}, out)
}

func TestGrayscaleIdempotent(t *testing.T) {
	t.Parallel()

	g := &Grayscale{}
	once, err := g.Apply(newTestImage(64, 48))
	require.NoError(t, err)

	twice, err := g.Apply(once)
	require.NoError(t, err)
	assert.Same(t, once, twice, "already-gray frames must pass through unchanged")
}

func TestChainComposesLeftToRight(t *testing.T) {
	t.Parallel()

	chain, err := NewChain([]conf.PreprocessorConfig{
		{Type: "resize", Width: 640},
		{Type: "grayscale"},
	})
	require.NoError(t, err)

	out, err := chain.Apply(newTestImage(1920, 1080))
	require.NoError(t, err)
	assert.Equal(t, 640, out.Bounds().Dx())
	assert.Equal(t, 360, out.Bounds().Dy())
	assert.IsType(t, &image.Gray{}, out)
}

func TestChainIdempotentOnProcessedFrame(t *testing.T) {
	t.Parallel()

	chain, err := NewChain([]conf.PreprocessorConfig{
		{Type: "resize", Width: 640},
		{Type: "grayscale"},
	})
	require.NoError(t, err)

	once, err := chain.Apply(newTestImage(1920, 1080))
	require.NoError(t, err)
	twice, err := chain.Apply(once)
	require.NoError(t, err)

	assert.Same(t, once, twice, "running the chain on its own output must not change it")
}

func TestChainRejectsUnknownStage(t *testing.T) {
	t.Parallel()

	_, err := NewChain([]conf.PreprocessorConfig{{Type: "sharpen"}})
	require.Error(t, err)

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, errors.CategoryConfiguration, ee.Category)
}

type failingStage struct{}

func (failingStage) Name() string                           { return "failing" }
func (failingStage) Apply(image.Image) (image.Image, error) { return nil, errors.NewStd("boom") }

func TestChainAbortsFrameOnStageFailure(t *testing.T) {
	t.Parallel()

	chain := &Chain{stages: []Stage{failingStage{}, &Grayscale{}}}
	out, err := chain.Apply(newTestImage(10, 10))

	require.Error(t, err)
	assert.Nil(t, out, "a failed frame is dropped, not partially processed")
	assert.Contains(t, err.Error(), "failing")
}
