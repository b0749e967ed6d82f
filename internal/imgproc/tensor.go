package imgproc

import (
	"image"

	"golang.org/x/image/draw"
)

// Layout is the memory order of an image tensor
type Layout int

const (
	NHWC Layout = iota
	NCHW
)

// Norm maps a byte channel v to (v/255 - Mean) / Std
type Norm struct {
	Mean float32
	Std  float32
}

var (
	// UnitNorm scales channels to [0,1]
	UnitNorm = Norm{Mean: 0, Std: 1}
	// SignedNorm scales channels to [-1,1]
	SignedNorm = Norm{Mean: 0.5, Std: 0.5}
)

// ToTensor flattens img into an RGB float tensor of one batch
func ToTensor(img image.Image, layout Layout, norm Norm) []float32 {
	rgba := toRGBA(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	plane := w * h
	out := make([]float32, plane*3)

	std := norm.Std
	if std == 0 {
		std = 1
	}

	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			for c := 0; c < 3; c++ {
				v := (float32(px[c])/255 - norm.Mean) / std
				if layout == NCHW {
					out[c*plane+i] = v
				} else {
					out[i*3+c] = v
				}
			}
		}
	}
	return out
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
