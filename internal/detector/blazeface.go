package detector

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudu/livesense/internal/imgproc"
	"github.com/dudu/livesense/internal/inference"
	"github.com/dudu/livesense/internal/log"
)

// Options configures the anchor-based detector. Input dimensions in Anchors
// and Decoder are overwritten with the dimensions the engine declares.
type Options struct {
	Anchors      AnchorOptions
	Decoder      DecoderOptions
	NMSThreshold float32
	TopK         int
	Norm         imgproc.Norm
}

// DefaultOptions returns the short-range BlazeFace configuration tuned for
// at most a couple of faces
func DefaultOptions() Options {
	a := BlazeFaceAnchorOptions()
	dec := DefaultDecoderOptions(a.InputWidth, a.InputHeight)
	// zero scales follow the engine's input size
	dec.XScale, dec.YScale, dec.WScale, dec.HScale = 0, 0, 0, 0
	return Options{
		Anchors:      a,
		Decoder:      dec,
		NMSThreshold: 0.3,
		TopK:         2,
		Norm:         imgproc.UnitNorm,
	}
}

// Detector runs a two-tensor (regressors + scores) anchor-based face model
type Detector struct {
	engine  inference.Engine
	input   inference.ImageInput
	opts    Options
	decoder *Decoder
	log     *logrus.Entry

	mu      sync.Mutex
	anchors []Anchor
}

// New creates a detector over an already loaded engine
func New(engine inference.Engine, opts Options) (*Detector, error) {
	input, err := inference.InputDims(engine.InputShape())
	if err != nil {
		return nil, fmt.Errorf("unsupported detector input: %w", err)
	}

	opts.Anchors.InputWidth = input.Width
	opts.Anchors.InputHeight = input.Height
	if err := opts.Anchors.Validate(); err != nil {
		return nil, err
	}

	d := opts.Decoder
	d.InputWidth, d.InputHeight = input.Width, input.Height
	if d.XScale <= 0 || d.WScale <= 0 {
		d.XScale, d.WScale = float32(input.Width), float32(input.Width)
	}
	if d.YScale <= 0 || d.HScale <= 0 {
		d.YScale, d.HScale = float32(input.Height), float32(input.Height)
	}
	decoder, err := NewDecoder(d)
	if err != nil {
		return nil, err
	}
	opts.Decoder = d

	return &Detector{
		engine:  engine,
		input:   input,
		opts:    opts,
		decoder: decoder,
		log:     log.WithComponent("detector"),
	}, nil
}

// InputSize returns the model input dimensions
func (d *Detector) InputSize() (int, int) {
	return d.input.Width, d.input.Height
}

// Detect finds faces in img and returns them in img's pixel coordinates.
// An empty image yields no faces. Outputs the decoder cannot interpret yield
// no faces and an error wrapping ErrMalformedOutput.
func (d *Detector) Detect(img image.Image) ([]FaceBox, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}

	padded, lb := imgproc.LetterboxResize(img, d.input.Width, d.input.Height)
	layout := imgproc.NHWC
	if d.input.ChannelsFirst {
		layout = imgproc.NCHW
	}

	outputs, err := d.engine.Run(imgproc.ToTensor(padded, layout, d.opts.Norm))
	if err != nil {
		return nil, fmt.Errorf("detection inference failed: %w", err)
	}

	return d.Postprocess(outputs, lb)
}

// Postprocess decodes raw outputs and maps surviving faces back through the letterbox
func (d *Detector) Postprocess(outputs []inference.Tensor, lb imgproc.Letterbox) ([]FaceBox, error) {
	if len(outputs) != 2 {
		d.log.Debugf("unsupported output format: %d tensors", len(outputs))
		return nil, nil
	}

	boxes, scores := outputs[0], outputs[1]
	if boxes.Width() < scores.Width() {
		boxes, scores = scores, boxes
	}
	if w := scores.Width(); w != 1 {
		return nil, fmt.Errorf("%w: score tensor width %d", ErrMalformedOutput, w)
	}

	anchors, err := d.anchorsFor(len(scores.Data))
	if err != nil {
		return nil, err
	}

	candidates, err := d.decoder.DecodeAll(boxes.Data, scores.Data, anchors)
	if err != nil {
		return nil, err
	}

	kept := NMS(candidates, d.opts.NMSThreshold, d.opts.TopK)

	now := time.Now()
	faces := make([]FaceBox, 0, len(kept))
	for _, f := range kept {
		x1, y1 := lb.ToSource(f.X, f.Y)
		x2, y2 := lb.ToSource(f.Right(), f.Bottom())
		if x2-x1 <= 0 || y2-y1 <= 0 {
			continue
		}

		face := FaceBox{
			X:             x1,
			Y:             y1,
			Width:         x2 - x1,
			Height:        y2 - y1,
			Confidence:    f.Confidence,
			DetectionTime: now,
		}
		if len(f.Landmarks) > 0 {
			face.Landmarks = make([]Point, len(f.Landmarks))
			for i, p := range f.Landmarks {
				x, y := lb.ToSource(p.X, p.Y)
				face.Landmarks[i] = Point{X: x, Y: y}
			}
		}
		faces = append(faces, face)
	}

	return faces, nil
}

// anchorsFor returns anchors for rows output rows, generating them only when
// the cached set has a different length
func (d *Detector) anchorsFor(rows int) ([]Anchor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.anchors) == rows {
		return d.anchors, nil
	}

	anchors, err := GenerateAnchors(d.opts.Anchors)
	if err != nil {
		return nil, err
	}
	if len(anchors) != rows {
		return nil, fmt.Errorf("%w: model has %d rows, anchor config yields %d", ErrMalformedOutput, rows, len(anchors))
	}

	d.log.WithField("anchors", len(anchors)).Debug("anchors generated")
	d.anchors = anchors
	return anchors, nil
}

// Close releases the engine
func (d *Detector) Close() error {
	return d.engine.Close()
}
