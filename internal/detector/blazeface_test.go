package detector

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/livesense/internal/imgproc"
	"github.com/dudu/livesense/internal/inference"
)

// fakeEngine emits BlazeFace-shaped outputs. Every score logit is fixed
// except the rows listed in hot, which get a confident score.
type fakeEngine struct {
	shape   []int64
	rows    int
	hot     []int
	boxLen  int
	extra   bool
	inputs  int
	closed  bool
	lastSum float32
}

func newFakeEngine(hot ...int) *fakeEngine {
	return &fakeEngine{shape: []int64{1, 128, 128, 3}, rows: 896, hot: hot, boxLen: 896 * 16}
}

func (f *fakeEngine) InputShape() []int64 { return f.shape }

func (f *fakeEngine) Run(input []float32) ([]inference.Tensor, error) {
	f.inputs++
	f.lastSum = 0
	for _, v := range input {
		f.lastSum += v
	}

	scores := make([]float32, f.rows)
	for i := range scores {
		scores[i] = -20
	}
	for _, i := range f.hot {
		scores[i] = 6
	}

	out := []inference.Tensor{
		{Name: "regressors", Shape: []int64{1, int64(f.rows), 16}, Data: make([]float32, f.boxLen)},
		{Name: "classificators", Shape: []int64{1, int64(f.rows), 1}, Data: scores},
	}
	if f.extra {
		out = append(out, inference.Tensor{Name: "extra", Shape: []int64{1}, Data: []float32{0}})
	}
	return out, nil
}

func (f *fakeEngine) Close() error {
	f.closed = true
	return nil
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newTestDetector(t *testing.T, eng *fakeEngine) *Detector {
	t.Helper()
	d, err := New(eng, DefaultOptions())
	require.NoError(t, err)
	return d
}

func TestDetectBlankImage(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDetector(t, eng)

	faces, err := d.Detect(solid(320, 240, color.Black))
	require.NoError(t, err)
	assert.Empty(t, faces)
	assert.Equal(t, 1, eng.inputs)
	assert.Zero(t, eng.lastSum)
}

func TestDetectEmptyImage(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDetector(t, eng)

	faces, err := d.Detect(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.NoError(t, err)
	assert.Empty(t, faces)
	assert.Zero(t, eng.inputs)
}

func TestDetectMapsThroughLetterbox(t *testing.T) {
	// cell (8,8) of the stride-8 map, base and interpolated scale
	idx := (8*16 + 8) * 2
	eng := newFakeEngine(idx, idx+1)
	d := newTestDetector(t, eng)

	// 256x128 fits 128x128 with scale 0.5 and 32px vertical padding
	faces, err := d.Detect(solid(256, 128, color.Gray{Y: 128}))
	require.NoError(t, err)
	require.Len(t, faces, 1, "overlapping scale variants collapse in NMS")

	f := faces[0]
	size := float32(0.1484375 * 128 * 2)
	assert.InDelta(t, size, f.Width, 0.5)
	assert.InDelta(t, size, f.Height, 0.5)

	c := f.Center()
	assert.InDelta(t, 8.5/16*128*2, c.X, 0.5)
	assert.InDelta(t, (8.5/16*128-32)*2, c.Y, 0.5)

	require.Len(t, f.Landmarks, 6)
	assert.InDelta(t, c.X, f.Landmarks[0].X, 0.5)
	assert.False(t, f.DetectionTime.IsZero())
}

func TestDetectDropsBoxesInPadding(t *testing.T) {
	// cell (0,8): top row of the stride-8 map lies inside the 32px top padding
	idx := 8 * 2
	eng := newFakeEngine(idx)
	d := newTestDetector(t, eng)

	faces, err := d.Detect(solid(256, 128, color.White))
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestPostprocessUnsupportedFormat(t *testing.T) {
	eng := newFakeEngine(10)
	eng.extra = true
	d := newTestDetector(t, eng)

	faces, err := d.Detect(solid(128, 128, color.White))
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestPostprocessShortBuffer(t *testing.T) {
	eng := newFakeEngine(10)
	eng.boxLen = 896*16 - 3
	d := newTestDetector(t, eng)

	faces, err := d.Detect(solid(128, 128, color.White))
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Empty(t, faces)
}

func TestPostprocessRowMismatch(t *testing.T) {
	eng := newFakeEngine()
	eng.rows = 500
	eng.boxLen = 500 * 16
	d := newTestDetector(t, eng)

	_, err := d.Detect(solid(128, 128, color.White))
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestAnchorsCachedAcrossFrames(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDetector(t, eng)

	lb := imgproc.NewLetterbox(128, 128, 128, 128)
	outs, err := eng.Run(make([]float32, 128*128*3))
	require.NoError(t, err)

	_, err = d.Postprocess(outs, lb)
	require.NoError(t, err)
	first := &d.anchors[0]

	_, err = d.Postprocess(outs, lb)
	require.NoError(t, err)
	assert.Same(t, first, &d.anchors[0])
}

func TestNewRejectsNonImageInput(t *testing.T) {
	eng := newFakeEngine()
	eng.shape = []int64{1, 896}
	_, err := New(eng, DefaultOptions())
	assert.Error(t, err)
}

func TestCloseReleasesEngine(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDetector(t, eng)
	require.NoError(t, d.Close())
	assert.True(t, eng.closed)
}
