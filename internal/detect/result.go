package detect

import (
	"time"

	"github.com/cvkitio/cvkit-go/internal/frame"
)

// DetectionResult holds the outcome of evaluating one node against one
// frame: zero or more detections, or the node's failure. A node failure is
// recorded here rather than omitted silently so dispatchers can see it.
type DetectionResult struct {
	Node       string
	Seq        uint64
	Detections []Detection
	Err        error
}

// Empty reports whether the node produced no qualifying detections.
func (r *DetectionResult) Empty() bool {
	return r == nil || len(r.Detections) == 0
}

// FrameResultSet collects the per-node results for a single frame,
// insertion order matching evaluation order.
type FrameResultSet struct {
	Seq       uint64
	Timestamp time.Time
	Source    string

	order   []string
	results map[string]*DetectionResult
}

// NewFrameResultSet creates an empty result set for a frame.
func NewFrameResultSet(f *frame.Frame) *FrameResultSet {
	return &FrameResultSet{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Source:    f.Source,
		results:   make(map[string]*DetectionResult),
	}
}

// Add appends a node result. Adding the same node twice replaces the result
// but keeps its original position.
func (s *FrameResultSet) Add(r *DetectionResult) {
	if _, exists := s.results[r.Node]; !exists {
		s.order = append(s.order, r.Node)
	}
	s.results[r.Node] = r
}

// Get returns the result for a node name, if that node was evaluated.
func (s *FrameResultSet) Get(node string) (*DetectionResult, bool) {
	r, ok := s.results[node]
	return r, ok
}

// Results returns all node results in evaluation order.
func (s *FrameResultSet) Results() []*DetectionResult {
	out := make([]*DetectionResult, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.results[name])
	}
	return out
}

// Len returns the number of evaluated nodes.
func (s *FrameResultSet) Len() int { return len(s.order) }

// HasDetections reports whether any node produced at least one detection.
func (s *FrameResultSet) HasDetections() bool {
	for _, r := range s.results {
		if !r.Empty() {
			return true
		}
	}
	return false
}

// Errors returns the results that carry node errors, in evaluation order.
func (s *FrameResultSet) Errors() []*DetectionResult {
	var out []*DetectionResult
	for _, name := range s.order {
		if r := s.results[name]; r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
