package detector

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAnchorConfig is returned for anchor options that cannot produce anchors
var ErrInvalidAnchorConfig = errors.New("invalid anchor configuration")

// Anchor is a reference box normalized to [0,1] of the model input
type Anchor struct {
	X, Y float32 // center
	W, H float32
}

// AnchorOptions configures SSD-style anchor generation
type AnchorOptions struct {
	InputWidth  int
	InputHeight int
	Strides     []int
	MinScale    float32
	MaxScale    float32
	OffsetX     float32
	OffsetY     float32
}

// BlazeFaceAnchorOptions returns the short-range BlazeFace layout (896 anchors at 128x128)
func BlazeFaceAnchorOptions() AnchorOptions {
	return AnchorOptions{
		InputWidth:  128,
		InputHeight: 128,
		Strides:     []int{8, 16, 16, 16},
		MinScale:    0.1484375,
		MaxScale:    0.75,
		OffsetX:     0.5,
		OffsetY:     0.5,
	}
}

// Validate checks that the options describe at least one feature map
func (o AnchorOptions) Validate() error {
	if o.InputWidth <= 0 || o.InputHeight <= 0 {
		return fmt.Errorf("%w: input size %dx%d", ErrInvalidAnchorConfig, o.InputWidth, o.InputHeight)
	}
	if len(o.Strides) == 0 {
		return fmt.Errorf("%w: no strides", ErrInvalidAnchorConfig)
	}
	for _, s := range o.Strides {
		if s <= 0 {
			return fmt.Errorf("%w: stride %d", ErrInvalidAnchorConfig, s)
		}
	}
	return nil
}

// scale returns the linearly interpolated scale of layer i out of n
func (o AnchorOptions) scale(i, n int) float32 {
	if n == 1 {
		return (o.MinScale + o.MaxScale) * 0.5
	}
	return o.MinScale + (o.MaxScale-o.MinScale)*float32(i)/float32(n-1)
}

// GenerateAnchors produces the anchor sequence in detector output order:
// stride group, then feature row, then feature column, then per-cell scales.
// Consecutive equal strides share one feature map and contribute two anchors
// per cell each (base scale, interpolated scale).
func GenerateAnchors(opts AnchorOptions) ([]Anchor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	n := len(opts.Strides)
	var anchors []Anchor

	layer := 0
	for layer < n {
		var scales []float32

		last := layer
		for last < n && opts.Strides[last] == opts.Strides[layer] {
			s := opts.scale(last, n)
			next := float32(1.0)
			if last < n-1 {
				next = opts.scale(last+1, n)
			}
			scales = append(scales, s, float32(math.Sqrt(float64(s*next))))
			last++
		}

		stride := opts.Strides[layer]
		rows := ceilDiv(opts.InputHeight, stride)
		cols := ceilDiv(opts.InputWidth, stride)

		for y := 0; y < rows; y++ {
			cy := (float32(y) + opts.OffsetY) / float32(rows)
			for x := 0; x < cols; x++ {
				cx := (float32(x) + opts.OffsetX) / float32(cols)
				for _, s := range scales {
					anchors = append(anchors, Anchor{X: cx, Y: cy, W: s, H: s})
				}
			}
		}

		layer = last
	}

	return anchors, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
