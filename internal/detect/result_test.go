package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cvkitio/cvkit-go/internal/frame"
)

func TestFrameResultSetOrderAndLookup(t *testing.T) {
	f := &frame.Frame{Seq: 42, Timestamp: time.Now(), Source: "cam0"}
	rs := NewFrameResultSet(f)

	rs.Add(&DetectionResult{Node: "face"})
	rs.Add(&DetectionResult{Node: "eyes", Detections: []Detection{{Label: "eyes", Score: 0.8}}})
	rs.Add(&DetectionResult{Node: "motion"})

	assert.Equal(t, uint64(42), rs.Seq)
	assert.Equal(t, 3, rs.Len())

	var order []string
	for _, r := range rs.Results() {
		order = append(order, r.Node)
	}
	assert.Equal(t, []string{"face", "eyes", "motion"}, order)

	got, ok := rs.Get("eyes")
	assert.True(t, ok)
	assert.False(t, got.Empty())
	assert.True(t, rs.HasDetections())

	_, ok = rs.Get("absent")
	assert.False(t, ok)
}

func TestFrameResultSetReplaceKeepsPosition(t *testing.T) {
	rs := NewFrameResultSet(&frame.Frame{Seq: 1})
	rs.Add(&DetectionResult{Node: "a"})
	rs.Add(&DetectionResult{Node: "b"})
	rs.Add(&DetectionResult{Node: "a", Detections: []Detection{{Label: "a", Score: 0.5}}})

	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, "a", rs.Results()[0].Node)
	assert.True(t, rs.HasDetections())
}

func TestFrameResultSetErrors(t *testing.T) {
	rs := NewFrameResultSet(&frame.Frame{Seq: 7})
	rs.Add(&DetectionResult{Node: "ok"})
	rs.Add(&DetectionResult{Node: "bad", Err: assert.AnError})

	errs := rs.Errors()
	assert.Len(t, errs, 1)
	assert.Equal(t, "bad", errs[0].Node)
	assert.False(t, rs.HasDetections())
}
