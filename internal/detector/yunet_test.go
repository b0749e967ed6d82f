package detector

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yunetRow(x, y, w, h, score float32) []float32 {
	row := []float32{x, y, w, h}
	for k := 0; k < 5; k++ {
		row = append(row, x+float32(k), y+float32(k))
	}
	return append(row, score)
}

func TestParseYuNet(t *testing.T) {
	var data []float32
	data = append(data, yunetRow(10, 20, 30, 40, 0.7)...)
	data = append(data, yunetRow(100, 100, 50, 50, 0.95)...)

	faces, err := ParseYuNet(data, 0.5)
	require.NoError(t, err)
	require.Len(t, faces, 2)

	assert.Equal(t, float32(0.95), faces[0].Confidence)
	first := faces[1]
	assert.Equal(t, float32(10), first.X)
	assert.Equal(t, float32(40), first.Height)
	require.Len(t, first.Landmarks, 5)
	assert.Equal(t, Point{X: 12, Y: 22}, first.Landmarks[YuNetNose])
	assert.False(t, first.DetectionTime.IsZero())
}

func TestParseYuNetFilters(t *testing.T) {
	nan := float32(math.NaN())
	var data []float32
	data = append(data, yunetRow(0, 0, 10, 10, 0.3)...)
	data = append(data, yunetRow(0, 0, 0, 10, 0.9)...)
	data = append(data, yunetRow(nan, 0, 10, 10, 0.9)...)

	faces, err := ParseYuNet(data, 0.5)
	require.NoError(t, err)
	assert.Empty(t, faces)

	faces, err = ParseYuNet(nil, 0.5)
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestParseYuNetMalformed(t *testing.T) {
	_, err := ParseYuNet(make([]float32, 14), 0.5)
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}
