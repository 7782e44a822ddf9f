// Package preprocess implements the ordered chain of pure frame
// transformations applied by the producer before frames enter the channel.
package preprocess

import (
	"fmt"
	"image"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
)

// Stage is one preprocessing transformation. Stages must be total functions
// over a single frame with no state shared across frames, so the same stage
// value can process frames concurrently.
type Stage interface {
	Name() string
	Apply(img image.Image) (image.Image, error)
}

// Chain composes stages left to right in configured order.
type Chain struct {
	stages []Stage
}

// NewChain builds a chain from configuration. Unknown stage types are a
// configuration error.
func NewChain(cfgs []conf.PreprocessorConfig) (*Chain, error) {
	stages := make([]Stage, 0, len(cfgs))
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "resize":
			stages = append(stages, &Resize{Width: cfg.Width, Height: cfg.Height})
		case "grayscale":
			stages = append(stages, &Grayscale{})
		default:
			return nil, errors.Newf("unknown preprocessor type %q", cfg.Type).
				Component("preprocess").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	return &Chain{stages: stages}, nil
}

// Stages returns the configured stage list.
func (c *Chain) Stages() []Stage { return c.stages }

// Apply runs every stage in order. A failing stage aborts the whole frame;
// the caller drops it and counts a producer-side error.
func (c *Chain) Apply(img image.Image) (image.Image, error) {
	for _, stage := range c.stages {
		out, err := stage.Apply(img)
		if err != nil {
			return nil, errors.New(fmt.Errorf("stage %s: %w", stage.Name(), err)).
				Component("preprocess").
				Category(errors.CategoryPreprocess).
				Context("stage", stage.Name()).
				Build()
		}
		img = out
	}
	return img, nil
}
