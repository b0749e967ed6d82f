package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x, y, w, h, conf float32) FaceBox {
	return FaceBox{X: x, Y: y, Width: w, Height: h, Confidence: conf}
}

func TestIoU(t *testing.T) {
	a := box(10, 10, 20, 20, 1)

	assert.InDelta(t, 1.0, IoU(a, a), 1e-6)
	assert.Equal(t, float32(0), IoU(a, box(100, 100, 5, 5, 1)))
	// touching edges do not overlap
	assert.Equal(t, float32(0), IoU(a, box(30, 10, 20, 20, 1)))
	// half overlap: 200 / (400 + 400 - 200)
	assert.InDelta(t, 1.0/3.0, IoU(a, box(20, 10, 20, 20, 1)), 1e-5)
}

func TestIoUDegenerate(t *testing.T) {
	z := box(5, 5, 0, 0, 1)
	assert.Equal(t, float32(0), IoU(z, z))
	assert.Equal(t, float32(0), IoU(z, box(0, 0, 10, 10, 1)))
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	boxes := []FaceBox{
		box(0, 0, 10, 10, 0.6),
		box(1, 1, 10, 10, 0.9),
		box(50, 50, 10, 10, 0.7),
	}

	got := NMS(boxes, 0.3, 0)
	require.Len(t, got, 2)
	assert.Equal(t, float32(0.9), got[0].Confidence)
	assert.Equal(t, float32(0.7), got[1].Confidence)

	// input untouched
	assert.Equal(t, float32(0.6), boxes[0].Confidence)
}

func TestNMSStableTies(t *testing.T) {
	boxes := []FaceBox{
		box(0, 0, 10, 10, 0.8),
		box(100, 0, 10, 10, 0.8),
		box(200, 0, 10, 10, 0.8),
	}

	got := NMS(boxes, 0.3, 0)
	require.Len(t, got, 3)
	assert.Equal(t, float32(0), got[0].X)
	assert.Equal(t, float32(100), got[1].X)
	assert.Equal(t, float32(200), got[2].X)
}

func TestNMSTopK(t *testing.T) {
	boxes := []FaceBox{
		box(0, 0, 10, 10, 0.5),
		box(100, 0, 10, 10, 0.9),
		box(200, 0, 10, 10, 0.7),
	}

	got := NMS(boxes, 0.3, 2)
	require.Len(t, got, 2)
	assert.Equal(t, float32(0.9), got[0].Confidence)
	assert.Equal(t, float32(0.7), got[1].Confidence)
}

func TestNMSIdempotent(t *testing.T) {
	boxes := []FaceBox{
		box(0, 0, 10, 10, 0.6),
		box(2, 2, 10, 10, 0.9),
		box(6, 6, 10, 10, 0.8),
		box(40, 40, 12, 12, 0.4),
		box(41, 41, 12, 12, 0.4),
	}

	once := NMS(boxes, 0.3, 0)
	twice := NMS(once, 0.3, 0)
	assert.Equal(t, once, twice)
}

func TestNMSEmpty(t *testing.T) {
	assert.Empty(t, NMS(nil, 0.3, 2))
}
