// Package imgproc prepares images for model input: letterboxing, cropping,
// resizing and conversion to float tensors.
package imgproc

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Letterbox records the aspect-preserving fit of a source image into a
// model input, with the resized image centered and the rest padded black.
type Letterbox struct {
	Scale      float32
	PadX, PadY float32

	SrcWidth, SrcHeight int
	DstWidth, DstHeight int
}

// NewLetterbox computes the fit of a srcW x srcH image into dstW x dstH
func NewLetterbox(srcW, srcH, dstW, dstH int) Letterbox {
	scale := min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w, h := scaledSize(srcW, srcH, scale)
	return Letterbox{
		Scale:     float32(scale),
		PadX:      float32((dstW - w) / 2),
		PadY:      float32((dstH - h) / 2),
		SrcWidth:  srcW,
		SrcHeight: srcH,
		DstWidth:  dstW,
		DstHeight: dstH,
	}
}

// content returns the rectangle of the destination holding image pixels
func (l Letterbox) content() image.Rectangle {
	w, h := scaledSize(l.SrcWidth, l.SrcHeight, float64(l.Scale))
	x, y := int(l.PadX), int(l.PadY)
	return image.Rect(x, y, x+w, y+h)
}

// ToSource maps a point from model-input pixels to source pixels, clamped to the source bounds
func (l Letterbox) ToSource(x, y float32) (float32, float32) {
	if l.Scale <= 0 {
		return 0, 0
	}
	sx := (x - l.PadX) / l.Scale
	sy := (y - l.PadY) / l.Scale
	return clampf(sx, 0, float32(l.SrcWidth)), clampf(sy, 0, float32(l.SrcHeight))
}

// ToModel maps a point from source pixels to model-input pixels
func (l Letterbox) ToModel(x, y float32) (float32, float32) {
	return x*l.Scale + l.PadX, y*l.Scale + l.PadY
}

// LetterboxResize fits img into a dstW x dstH canvas without distortion
func LetterboxResize(img image.Image, dstW, dstH int) (*image.RGBA, Letterbox) {
	b := img.Bounds()
	lb := NewLetterbox(b.Dx(), b.Dy(), dstW, dstH)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, lb.content(), img, b, draw.Src, nil)

	return dst, lb
}

// Resize stretches img to exactly w x h
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies the part of img inside r. The result is empty when r does not
// intersect the image.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	if !r.Empty() {
		draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	}
	return dst
}

func scaledSize(w, h int, scale float64) (int, int) {
	return int(math.Round(float64(w) * scale)), int(math.Round(float64(h) * scale))
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
