package detect

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"time"

	"github.com/cvkitio/cvkit-go/internal/conf"
	"github.com/cvkitio/cvkit-go/internal/errors"
	"github.com/cvkitio/cvkit-go/internal/frame"
	"github.com/cvkitio/cvkit-go/internal/timing"
)

// Node is one configured detection stage bound to its detector instance.
type Node struct {
	Name   string
	Type   string
	Parent string
	Params Parameters

	detector Detector
}

// MetricsRecorder receives per-node evaluation outcomes. Implemented by the
// observability package; a nil recorder is ignored.
type MetricsRecorder interface {
	ObserveDetectorDuration(node string, seconds float64)
	IncDetectorError(node string)
	AddDetections(node string, count int)
}

// Chain is a detector-chain graph prepared for evaluation: nodes in
// topological order (roots first), each holding its own detector instance.
// A Chain is not safe for concurrent use; every worker builds its own so
// model-load cost is paid once per worker.
type Chain struct {
	nodes  []*Node
	byName map[string]*Node

	hook    *timing.Hook
	log     *slog.Logger
	metrics MetricsRecorder
}

// Option configures optional chain collaborators.
type Option func(*Chain)

// WithHook attaches the timing instrumentation hook.
func WithHook(hook *timing.Hook) Option {
	return func(c *Chain) { c.hook = hook }
}

// WithLogger attaches a logger for node-level failures.
func WithLogger(log *slog.Logger) Option {
	return func(c *Chain) { c.log = log }
}

// WithMetrics attaches a metrics recorder for node evaluations.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Chain) { c.metrics = m }
}

// NewChain validates the configured detector graph, resolves each node's
// detector through the registry (loading models), and fixes the evaluation
// order by topologically sorting the parent relation.
func NewChain(cfgs []conf.DetectorConfig, opts ...Option) (*Chain, error) {
	ordered, err := topoSort(cfgs)
	if err != nil {
		return nil, err
	}

	c := &Chain{
		byName: make(map[string]*Node, len(ordered)),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, cfg := range ordered {
		detector, err := newDetector(cfg)
		if err != nil {
			return nil, err
		}
		node := &Node{
			Name:   cfg.Name,
			Type:   cfg.Type,
			Parent: cfg.Parent,
			Params: Parameters{
				Threshold:     cfg.Threshold,
				MaxDetections: cfg.MaxDetections,
				ModelPath:     cfg.ModelPath,
				Scale:         cfg.Scale,
			},
			detector: detector,
		}
		c.nodes = append(c.nodes, node)
		c.byName[node.Name] = node
	}

	return c, nil
}

// Nodes returns the nodes in evaluation order.
func (c *Chain) Nodes() []*Node { return c.nodes }

// topoSort orders nodes roots-first, preserving configuration order among
// nodes whose dependencies are satisfied. Unknown parents, duplicates and
// cycles are rejected.
func topoSort(cfgs []conf.DetectorConfig) ([]conf.DetectorConfig, error) {
	byName := make(map[string]conf.DetectorConfig, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Name == "" {
			return nil, chainError("detector node with empty name")
		}
		if _, dup := byName[cfg.Name]; dup {
			return nil, chainError("duplicate detector node %q", cfg.Name)
		}
		byName[cfg.Name] = cfg
	}

	for _, cfg := range cfgs {
		if cfg.Parent != "" {
			if _, ok := byName[cfg.Parent]; !ok {
				return nil, chainError("node %q references unknown parent %q", cfg.Name, cfg.Parent)
			}
		}
	}

	ordered := make([]conf.DetectorConfig, 0, len(cfgs))
	placed := make(map[string]bool, len(cfgs))
	remaining := append([]conf.DetectorConfig(nil), cfgs...)

	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]
		for _, cfg := range remaining {
			if cfg.Parent == "" || placed[cfg.Parent] {
				ordered = append(ordered, cfg)
				placed[cfg.Name] = true
				progressed = true
			} else {
				next = append(next, cfg)
			}
		}
		remaining = next
		if !progressed {
			return nil, chainError("detector graph contains a cycle involving %q", remaining[0].Name)
		}
	}

	return ordered, nil
}

// Evaluate runs the full detector graph against one frame and returns the
// per-node results. Root nodes see the full frame; a non-root node runs
// once per qualifying detection from its parent, against that detection's
// region. If a parent produced nothing, its descendants are skipped
// silently. A node failure is isolated: it is recorded in the result set
// and siblings still run.
func (c *Chain) Evaluate(ctx context.Context, f *frame.Frame) *FrameResultSet {
	rs := NewFrameResultSet(f)

	for _, node := range c.nodes {
		var inputs []image.Image

		if node.Parent == "" {
			inputs = []image.Image{f.Image}
		} else {
			parentResult, ok := rs.Get(node.Parent)
			if !ok || parentResult.Empty() {
				// Parent skipped or produced nothing: skip, not an error.
				continue
			}
			for _, d := range parentResult.Detections {
				if region := cropImage(f.Image, d.Region); region != nil {
					inputs = append(inputs, region)
				}
			}
			if len(inputs) == 0 {
				continue
			}
		}

		rs.Add(c.evaluateNode(ctx, node, f.Seq, inputs))
	}

	return rs
}

// evaluateNode invokes one node's detector over its input regions. The
// invocation is independently timed and fault-isolated.
func (c *Chain) evaluateNode(ctx context.Context, node *Node, seq uint64, inputs []image.Image) *DetectionResult {
	result := &DetectionResult{Node: node.Name, Seq: seq}

	var measureCtx map[string]any
	if c.hook.Enabled() {
		measureCtx = map[string]any{"node": node.Name, "type": node.Type, "seq": seq}
	}

	start := time.Now()
	err := c.hook.Measure("detect."+node.Name, measureCtx, func() error {
		for _, input := range inputs {
			detections, err := node.detector.Detect(ctx, input, node.Params)
			if err != nil {
				return err
			}
			result.Detections = append(result.Detections, detections...)
		}
		return nil
	})
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.ObserveDetectorDuration(node.Name, elapsed.Seconds())
	}

	if err != nil {
		result.Detections = nil
		result.Err = errors.New(fmt.Errorf("node %s: %w", node.Name, err)).
			Component("detect").
			Category(errors.CategoryDetectorNode).
			Context("node", node.Name).
			Timing("detect."+node.Name, elapsed).
			Build()
		if c.metrics != nil {
			c.metrics.IncDetectorError(node.Name)
		}
		if c.log != nil {
			c.log.Error("detector node failed", "node", node.Name, "seq", seq, "error", err)
		}
		return result
	}

	result.Detections = filterByThreshold(result.Detections, node.Params.Threshold)
	result.Detections = truncateDetections(result.Detections, node.Params.MaxDetections)
	if c.metrics != nil {
		c.metrics.AddDetections(node.Name, len(result.Detections))
	}
	return result
}

// cropImage extracts the sub-image for a detection region, clamped to the
// source bounds. Coordinates are preserved so child detections land in
// full-frame space. Returns nil for empty regions.
func cropImage(img image.Image, region image.Rectangle) image.Image {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return nil
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(region)
	}

	// Fallback copy keeps the region's coordinate space.
	dst := image.NewRGBA(region)
	draw.Draw(dst, region, img, region.Min, draw.Src)
	return dst
}

func chainError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("detect").
		Category(errors.CategoryValidation).
		Build()
}
