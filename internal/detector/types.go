package detector

import (
	"image"
	"time"
)

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// FaceBox is a detected face. Coordinates are in pixels of the image the
// producing stage worked on: the decoder yields model-input space, the
// detector yields original-image space.
type FaceBox struct {
	X, Y          float32 // top-left
	Width, Height float32
	Confidence    float32

	// Landmarks length depends on the producer: 0, 5 (YuNet), 6 (BlazeFace
	// keypoints) or 468 (face mesh). Check the count before indexing by name.
	Landmarks     []Point
	DetectionTime time.Time
}

// Right returns the x coordinate of the right edge
func (b FaceBox) Right() float32 {
	return b.X + b.Width
}

// Bottom returns the y coordinate of the bottom edge
func (b FaceBox) Bottom() float32 {
	return b.Y + b.Height
}

// Center returns box center point
func (b FaceBox) Center() Point {
	return Point{
		X: b.X + b.Width/2,
		Y: b.Y + b.Height/2,
	}
}

// Area returns box area, zero for degenerate boxes
func (b FaceBox) Area() float32 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Rect returns the box as an integer rectangle
func (b FaceBox) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.Right()+0.5), int(b.Bottom()+0.5))
}

// Clone returns a copy that shares no memory with b
func (b FaceBox) Clone() FaceBox {
	c := b
	if b.Landmarks != nil {
		c.Landmarks = make([]Point, len(b.Landmarks))
		copy(c.Landmarks, b.Landmarks)
	}
	return c
}

// Scale returns a copy with every coordinate multiplied by s
func (b FaceBox) Scale(s float32) FaceBox {
	c := b.Clone()
	c.X *= s
	c.Y *= s
	c.Width *= s
	c.Height *= s
	for i := range c.Landmarks {
		c.Landmarks[i].X *= s
		c.Landmarks[i].Y *= s
	}
	return c
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
