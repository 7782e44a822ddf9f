// Package detect implements the hierarchical detector chain graph: a forest
// of detector nodes evaluated in topological order against each frame, with
// child nodes fanned out over their parent's detection regions.
package detect

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
)

// Detection is one detected region with its label and confidence score.
// Regions are expressed in the coordinate space of the evaluated image's
// bounds, so sub-image evaluation yields full-frame coordinates.
type Detection struct {
	Label  string
	Score  float64
	Region image.Rectangle
}

// Parameters carries the per-node tuning handed to a detector invocation.
type Parameters struct {
	Threshold     float64
	MaxDetections int
	ModelPath     string
	Scale         float64
}

// Detector is the opaque detection boundary. Implementations are resolved
// by type through the registry and invoked once per node per applicable
// input region. They must be safe for repeated calls from a single worker;
// each worker constructs its own detector instances.
type Detector interface {
	Detect(ctx context.Context, img image.Image, params Parameters) ([]Detection, error)
}

// Factory constructs a detector for a configured node. Model loading
// happens here, once per worker, not per frame.
type Factory func(cfg conf.DetectorConfig) (Detector, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterDetector registers a factory under a detector type name.
// Detector plugins register themselves from an init function.
func RegisterDetector(detectorType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[detectorType] = factory
}

func newDetector(cfg conf.DetectorConfig) (Detector, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf("unknown detector type %q for node %q", cfg.Type, cfg.Name).
			Component("detect").
			Category(errors.CategoryConfiguration).
			Context("node", cfg.Name).
			Build()
	}
	return factory(cfg)
}

// truncateDetections applies the max-detections policy: retain the top-max
// detections by descending confidence, ties broken by first-seen order.
func truncateDetections(detections []Detection, maxDetections int) []Detection {
	if maxDetections <= 0 || len(detections) <= maxDetections {
		return detections
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
	return detections[:maxDetections]
}

// filterByThreshold drops detections scoring below the node threshold.
func filterByThreshold(detections []Detection, threshold float64) []Detection {
	if threshold <= 0 {
		return detections
	}
	kept := detections[:0]
	for _, d := range detections {
		if d.Score >= threshold {
			kept = append(kept, d)
		}
	}
	return kept
}
