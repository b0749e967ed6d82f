package detector

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedOutput is returned when a model output does not match the decoder layout
var ErrMalformedOutput = errors.New("malformed model output")

// SizeEncoding selects how box width and height are regressed
type SizeEncoding int

const (
	// SizeExponential decodes size as anchor * exp(raw / scale)
	SizeExponential SizeEncoding = iota
	// SizeLinear decodes size as raw / scale * anchor
	SizeLinear
)

// String returns the configuration name of the encoding
func (e SizeEncoding) String() string {
	switch e {
	case SizeExponential:
		return "exponential"
	case SizeLinear:
		return "linear"
	default:
		return fmt.Sprintf("SizeEncoding(%d)", int(e))
	}
}

// ParseSizeEncoding parses "exponential" or "linear"
func ParseSizeEncoding(s string) (SizeEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exponential", "exp", "":
		return SizeExponential, nil
	case "linear":
		return SizeLinear, nil
	default:
		return 0, fmt.Errorf("unknown size encoding %q", s)
	}
}

// BoxLayout is the order of the four box regression values in a row
type BoxLayout int

const (
	LayoutXYWH BoxLayout = iota // dx, dy, dw, dh
	LayoutYXHW                  // dy, dx, dh, dw
)

// String returns the configuration name of the layout
func (l BoxLayout) String() string {
	switch l {
	case LayoutXYWH:
		return "xywh"
	case LayoutYXHW:
		return "yxhw"
	default:
		return fmt.Sprintf("BoxLayout(%d)", int(l))
	}
}

// ParseBoxLayout parses "xywh" or "yxhw"
func ParseBoxLayout(s string) (BoxLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "xywh", "":
		return LayoutXYWH, nil
	case "yxhw":
		return LayoutYXHW, nil
	default:
		return 0, fmt.Errorf("unknown box layout %q", s)
	}
}

// DecoderOptions describes one detector output row
type DecoderOptions struct {
	InputWidth  int
	InputHeight int

	// Regression scales, usually the input dimensions
	XScale, YScale float32
	WScale, HScale float32

	NumCoords         int // floats per row
	KeypointOffset    int // index of the first keypoint value
	NumKeypoints      int
	ValuesPerKeypoint int

	Layout              BoxLayout
	SizeEncoding        SizeEncoding
	ScoreClippingThresh float32
	MinScore            float32
}

// DefaultDecoderOptions returns the two-tensor BlazeFace row layout of the
// MediaPipe short range model: x, y, w, h followed by 6 keypoints of (x, y).
func DefaultDecoderOptions(inputWidth, inputHeight int) DecoderOptions {
	return DecoderOptions{
		InputWidth:          inputWidth,
		InputHeight:         inputHeight,
		XScale:              float32(inputWidth),
		YScale:              float32(inputHeight),
		WScale:              float32(inputWidth),
		HScale:              float32(inputHeight),
		NumCoords:           16,
		KeypointOffset:      4,
		NumKeypoints:        6,
		ValuesPerKeypoint:   2,
		Layout:              LayoutXYWH,
		SizeEncoding:        SizeExponential,
		ScoreClippingThresh: 100,
		MinScore:            0.5,
	}
}

// Decoder turns raw regression rows into candidate face boxes
type Decoder struct {
	opts DecoderOptions
}

// NewDecoder validates the row layout and creates a decoder
func NewDecoder(opts DecoderOptions) (*Decoder, error) {
	if opts.InputWidth <= 0 || opts.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid decoder input size %dx%d", opts.InputWidth, opts.InputHeight)
	}
	if opts.XScale <= 0 || opts.YScale <= 0 || opts.WScale <= 0 || opts.HScale <= 0 {
		return nil, fmt.Errorf("decoder scales must be positive")
	}
	if opts.NumKeypoints > 0 && opts.ValuesPerKeypoint < 2 {
		return nil, fmt.Errorf("keypoints need at least 2 values, got %d", opts.ValuesPerKeypoint)
	}
	if need := opts.KeypointOffset + opts.NumKeypoints*opts.ValuesPerKeypoint; opts.NumCoords < 4 || opts.NumCoords < need {
		return nil, fmt.Errorf("row of %d coords cannot hold %d box and keypoint values", opts.NumCoords, need)
	}
	return &Decoder{opts: opts}, nil
}

// Options returns the decoder options
func (d *Decoder) Options() DecoderOptions {
	return d.opts
}

// Score maps a raw logit to a probability, clipping it first so exp cannot overflow
func (d *Decoder) Score(raw float32) float32 {
	if t := d.opts.ScoreClippingThresh; t > 0 {
		raw = clamp(raw, -t, t)
	}
	return sigmoid(raw)
}

// Decode converts one row and its anchor into a box in model-input pixels.
// ok is false when the score is below MinScore. The row slice must start at
// the anchor's record; a slice shorter than NumCoords is ErrMalformedOutput.
func (d *Decoder) Decode(row []float32, rawScore float32, a Anchor) (box FaceBox, ok bool, err error) {
	score := d.Score(rawScore)
	if score < d.opts.MinScore {
		return FaceBox{}, false, nil
	}
	if len(row) < d.opts.NumCoords {
		return FaceBox{}, false, fmt.Errorf("%w: row has %d values, need %d", ErrMalformedOutput, len(row), d.opts.NumCoords)
	}

	o := d.opts
	var dx, dy, dw, dh float32
	switch o.Layout {
	case LayoutYXHW:
		dy, dx, dh, dw = row[0], row[1], row[2], row[3]
	default:
		dx, dy, dw, dh = row[0], row[1], row[2], row[3]
	}

	cx := a.X + dx/o.XScale*a.W
	cy := a.Y + dy/o.YScale*a.H

	var w, h float32
	if o.SizeEncoding == SizeLinear {
		w = dw / o.WScale * a.W
		h = dh / o.HScale * a.H
	} else {
		w = a.W * float32(math.Exp(float64(dw/o.WScale)))
		h = a.H * float32(math.Exp(float64(dh/o.HScale)))
	}

	inW := float32(o.InputWidth)
	inH := float32(o.InputHeight)

	x1 := clamp(cx-w/2, 0, 1) * inW
	y1 := clamp(cy-h/2, 0, 1) * inH
	x2 := clamp(cx+w/2, 0, 1) * inW
	y2 := clamp(cy+h/2, 0, 1) * inH

	box = FaceBox{
		X:          x1,
		Y:          y1,
		Width:      x2 - x1,
		Height:     y2 - y1,
		Confidence: score,
	}

	if o.NumKeypoints > 0 {
		box.Landmarks = make([]Point, o.NumKeypoints)
		for k := 0; k < o.NumKeypoints; k++ {
			off := o.KeypointOffset + k*o.ValuesPerKeypoint
			box.Landmarks[k] = Point{
				X: (a.X + row[off]/o.XScale*a.W) * inW,
				Y: (a.Y + row[off+1]/o.YScale*a.H) * inH,
			}
		}
	}

	return box, true, nil
}

// DecodeAll decodes every row whose score passes MinScore. boxes holds
// len(scores) records of NumCoords floats; anchors must match scores row for row.
func (d *Decoder) DecodeAll(boxes, scores []float32, anchors []Anchor) ([]FaceBox, error) {
	rows := len(scores)
	if len(anchors) != rows {
		return nil, fmt.Errorf("%w: %d anchors for %d score rows", ErrMalformedOutput, len(anchors), rows)
	}
	if need := rows * d.opts.NumCoords; len(boxes) < need {
		return nil, fmt.Errorf("%w: box tensor has %d values, need %d", ErrMalformedOutput, len(boxes), need)
	}

	var candidates []FaceBox
	for i := 0; i < rows; i++ {
		off := i * d.opts.NumCoords
		box, ok, err := d.Decode(boxes[off:], scores[i], anchors[i])
		if err != nil {
			return nil, err
		}
		if ok {
			candidates = append(candidates, box)
		}
	}
	return candidates, nil
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}
