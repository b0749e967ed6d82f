package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDecoder(t *testing.T, modify func(*DecoderOptions)) *Decoder {
	t.Helper()
	opts := DefaultDecoderOptions(128, 128)
	if modify != nil {
		modify(&opts)
	}
	d, err := NewDecoder(opts)
	require.NoError(t, err)
	return d
}

func TestDecodeExponential(t *testing.T) {
	d := newTestDecoder(t, func(o *DecoderOptions) { o.Layout = LayoutYXHW })
	a := Anchor{X: 0.5, Y: 0.5, W: 0.25, H: 0.25}

	// dy moves the center by 0.1 anchor heights, dw doubles the width
	row := make([]float32, 16)
	row[0] = 12.8
	row[3] = 128 * float32(math.Log(2))

	box, ok, err := d.Decode(row, 5, a)
	require.NoError(t, err)
	require.True(t, ok)

	// center (64, 64+0.1*0.25*128), size (64, 32)
	assert.InDelta(t, 32, box.X, 1e-3)
	assert.InDelta(t, 64, box.Width, 1e-3)
	assert.InDelta(t, 32, box.Height, 1e-3)
	assert.InDelta(t, 64+3.2-16, box.Y, 1e-3)
	assert.Greater(t, box.Confidence, float32(0.99))
	require.Len(t, box.Landmarks, 6)
	assert.InDelta(t, 64, box.Landmarks[0].X, 1e-3)
}

func TestDecodeLinear(t *testing.T) {
	d := newTestDecoder(t, func(o *DecoderOptions) {
		o.Layout = LayoutYXHW
		o.SizeEncoding = SizeLinear
	})
	a := Anchor{X: 0.5, Y: 0.5, W: 1, H: 1}

	row := make([]float32, 16)
	row[2] = 32
	row[3] = 64

	box, ok, err := d.Decode(row, 5, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 64, box.Width, 1e-3)
	assert.InDelta(t, 32, box.Height, 1e-3)
	assert.InDelta(t, 32, box.X, 1e-3)
	assert.InDelta(t, 48, box.Y, 1e-3)
}

func TestDecodeXYWHLayout(t *testing.T) {
	d := newTestDecoder(t, func(o *DecoderOptions) { o.Layout = LayoutXYWH })
	a := Anchor{X: 0.5, Y: 0.5, W: 0.25, H: 0.25}

	row := make([]float32, 16)
	row[0] = 12.8 // dx

	box, ok, err := d.Decode(row, 5, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 64+3.2, box.Center().X, 1e-3)
	assert.InDelta(t, 64, box.Center().Y, 1e-3)
}

func TestDecodeDefaultLayoutIsXYWH(t *testing.T) {
	a := Anchor{X: 0.5, Y: 0.5, W: 1, H: 1}
	row := make([]float32, 16)
	row[0] = 32

	tests := []struct {
		layout BoxLayout
		cx, cy float32
	}{
		{LayoutXYWH, 96, 64},
		{LayoutYXHW, 64, 96},
	}
	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			d := newTestDecoder(t, func(o *DecoderOptions) { o.Layout = tt.layout })
			box, ok, err := d.Decode(row, 5, a)
			require.NoError(t, err)
			require.True(t, ok)
			assert.InDelta(t, tt.cx, box.Center().X, 1e-3)
			assert.InDelta(t, tt.cy, box.Center().Y, 1e-3)
		})
	}

	assert.Equal(t, LayoutXYWH, DefaultDecoderOptions(128, 128).Layout)
}

func TestParseBoxLayout(t *testing.T) {
	l, err := ParseBoxLayout("YXHW")
	require.NoError(t, err)
	assert.Equal(t, LayoutYXHW, l)

	l, err = ParseBoxLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutXYWH, l)
	assert.Equal(t, "xywh", l.String())

	_, err = ParseBoxLayout("hwxy")
	assert.Error(t, err)
}

func TestDecodeClampsCornersNotLandmarks(t *testing.T) {
	d := newTestDecoder(t, nil)
	a := Anchor{X: 0.95, Y: 0.5, W: 0.5, H: 0.5}

	row := make([]float32, 16)
	row[4] = 128 * 4 // keypoint 0 x pushed far outside

	box, ok, err := d.Decode(row, 5, a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.LessOrEqual(t, box.Right(), float32(128))
	assert.GreaterOrEqual(t, box.X, float32(0))
	assert.Greater(t, box.Landmarks[0].X, float32(128))
}

func TestDecodeRejectsLowScore(t *testing.T) {
	d := newTestDecoder(t, nil)
	box, ok, err := d.Decode(make([]float32, 16), -3, Anchor{X: 0.5, Y: 0.5, W: 0.1, H: 0.1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, box.Landmarks)
}

func TestDecodeShortRow(t *testing.T) {
	d := newTestDecoder(t, nil)
	_, _, err := d.Decode(make([]float32, 10), 5, Anchor{X: 0.5, Y: 0.5, W: 0.1, H: 0.1})
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestScoreClipping(t *testing.T) {
	d := newTestDecoder(t, nil)

	hi := d.Score(1e9)
	lo := d.Score(-1e9)
	assert.False(t, math.IsNaN(float64(hi)))
	assert.False(t, math.IsNaN(float64(lo)))
	assert.InDelta(t, 1, hi, 1e-6)
	assert.InDelta(t, 0, lo, 1e-6)
	assert.InDelta(t, 0.5, d.Score(0), 1e-6)
}

func TestDecodeAll(t *testing.T) {
	d := newTestDecoder(t, nil)
	anchors := []Anchor{
		{X: 0.25, Y: 0.25, W: 0.1, H: 0.1},
		{X: 0.75, Y: 0.75, W: 0.1, H: 0.1},
		{X: 0.5, Y: 0.5, W: 0.1, H: 0.1},
	}
	boxes := make([]float32, 3*16)
	scores := []float32{4, -4, 3}

	got, err := d.DecodeAll(boxes, scores, anchors)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 32, got[0].Center().X, 1e-3)
	assert.InDelta(t, 64, got[1].Center().X, 1e-3)
}

func TestDecodeAllShortBuffer(t *testing.T) {
	d := newTestDecoder(t, nil)
	anchors := make([]Anchor, 4)
	_, err := d.DecodeAll(make([]float32, 3*16+5), []float32{1, 1, 1, 1}, anchors)
	assert.ErrorIs(t, err, ErrMalformedOutput)

	_, err = d.DecodeAll(make([]float32, 4*16), []float32{1, 1, 1, 1}, anchors[:3])
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestNewDecoderRejectsBadLayout(t *testing.T) {
	opts := DefaultDecoderOptions(128, 128)
	opts.NumCoords = 10
	_, err := NewDecoder(opts)
	assert.Error(t, err)

	opts = DefaultDecoderOptions(0, 128)
	_, err = NewDecoder(opts)
	assert.Error(t, err)
}

func TestParseSizeEncoding(t *testing.T) {
	e, err := ParseSizeEncoding("Linear")
	require.NoError(t, err)
	assert.Equal(t, SizeLinear, e)

	e, err = ParseSizeEncoding("exponential")
	require.NoError(t, err)
	assert.Equal(t, SizeExponential, e)
	assert.Equal(t, "exponential", e.String())

	_, err = ParseSizeEncoding("cubic")
	assert.Error(t, err)
}
