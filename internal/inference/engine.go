package inference

import (
	"fmt"
)

// Tensor is a flat float output buffer plus its shape
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// Rows returns the number of records when the last dimension is the record width
func (t Tensor) Rows() int {
	w := t.Width()
	if w == 0 {
		return 0
	}
	return len(t.Data) / w
}

// Width returns the size of the last dimension, or the data length for a scalar shape
func (t Tensor) Width() int {
	if len(t.Shape) == 0 {
		return len(t.Data)
	}
	return int(t.Shape[len(t.Shape)-1])
}

// Engine runs a single-input image model
type Engine interface {
	// InputShape is the declared input shape with dynamic batch resolved to 1
	InputShape() []int64
	// Run executes one forward pass over a flat input matching InputShape
	Run(input []float32) ([]Tensor, error)
	Close() error
}

// ImageInput describes the spatial layout of a 4D image input
type ImageInput struct {
	Width, Height int
	ChannelsFirst bool
}

// InputDims interprets a [1,H,W,3] or [1,3,H,W] shape
func InputDims(shape []int64) (ImageInput, error) {
	if len(shape) != 4 {
		return ImageInput{}, fmt.Errorf("expected 4D image input, got shape %v", shape)
	}
	switch {
	case shape[3] == 3:
		if shape[1] <= 0 || shape[2] <= 0 {
			return ImageInput{}, fmt.Errorf("dynamic spatial dims unsupported: %v", shape)
		}
		return ImageInput{Width: int(shape[2]), Height: int(shape[1])}, nil
	case shape[1] == 3:
		if shape[2] <= 0 || shape[3] <= 0 {
			return ImageInput{}, fmt.Errorf("dynamic spatial dims unsupported: %v", shape)
		}
		return ImageInput{Width: int(shape[3]), Height: int(shape[2]), ChannelsFirst: true}, nil
	default:
		return ImageInput{}, fmt.Errorf("no 3-channel axis in input shape %v", shape)
	}
}

func elementCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
