package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/livesense/internal/detector"
)

func box(x, y float32) detector.FaceBox {
	return detector.FaceBox{X: x, Y: y, Width: 100, Height: 100, Confidence: 0.9}
}

func TestTrackerKeepsIDs(t *testing.T) {
	tr := New(DefaultMinIoU, DefaultMaxMissing)

	ids, lost := tr.Update([]detector.FaceBox{box(0, 0), box(300, 0)})
	assert.Equal(t, []int{1, 2}, ids)
	assert.Empty(t, lost)

	// order swapped and slightly moved
	ids, lost = tr.Update([]detector.FaceBox{box(305, 5), box(10, 0)})
	assert.Equal(t, []int{2, 1}, ids)
	assert.Empty(t, lost)

	tracks := tr.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, 2, tracks[0].Hits)
	assert.Equal(t, float32(10), tracks[0].Box.X)
}

func TestTrackerNewTrackOnJump(t *testing.T) {
	tr := New(DefaultMinIoU, DefaultMaxMissing)
	tr.Update([]detector.FaceBox{box(0, 0)})

	ids, _ := tr.Update([]detector.FaceBox{box(80, 0)})
	assert.Equal(t, []int{2}, ids)
	assert.Len(t, tr.Tracks(), 2)
}

func TestTrackerGreedyPrefersBestOverlap(t *testing.T) {
	tr := New(DefaultMinIoU, DefaultMaxMissing)
	tr.Update([]detector.FaceBox{box(0, 0)})

	// both overlap track 1; the closer one wins
	ids, _ := tr.Update([]detector.FaceBox{box(30, 0), box(5, 0)})
	assert.Equal(t, []int{2, 1}, ids)
}

func TestTrackerLosesTrack(t *testing.T) {
	tr := New(DefaultMinIoU, 2)
	tr.Update([]detector.FaceBox{box(0, 0)})

	for i := 0; i < 2; i++ {
		_, lost := tr.Update(nil)
		assert.Empty(t, lost)
	}
	_, lost := tr.Update(nil)
	assert.Equal(t, []int{1}, lost)
	assert.Empty(t, tr.Tracks())

	ids, _ := tr.Update([]detector.FaceBox{box(0, 0)})
	assert.Equal(t, []int{2}, ids)
}

func TestTrackerMissingResetOnMatch(t *testing.T) {
	tr := New(DefaultMinIoU, 1)
	tr.Update([]detector.FaceBox{box(0, 0)})
	tr.Update(nil)
	ids, lost := tr.Update([]detector.FaceBox{box(0, 0)})
	assert.Equal(t, []int{1}, ids)
	assert.Empty(t, lost)
	assert.Zero(t, tr.Tracks()[0].Missing)
}

func TestTrackerReset(t *testing.T) {
	tr := New(DefaultMinIoU, DefaultMaxMissing)
	tr.Update([]detector.FaceBox{box(0, 0), box(300, 0)})

	assert.ElementsMatch(t, []int{1, 2}, tr.Reset())
	assert.Empty(t, tr.Tracks())

	ids, _ := tr.Update([]detector.FaceBox{box(0, 0)})
	assert.Equal(t, []int{3}, ids)
}
