package emotion

import (
	"errors"
	"fmt"
	"image"

	"github.com/dudu/livesense/internal/imgproc"
	"github.com/dudu/livesense/internal/inference"
)

// ErrUnexpectedOutput is returned when the model does not produce NumClasses scores
var ErrUnexpectedOutput = errors.New("unexpected emotion output")

// Recognizer runs an expression classifier on face crops
type Recognizer struct {
	engine        inference.Engine
	input         inference.ImageInput
	minConfidence float32
}

// NewRecognizer wraps an engine whose input is a 3-channel face image
func NewRecognizer(engine inference.Engine, minConfidence float32) (*Recognizer, error) {
	input, err := inference.InputDims(engine.InputShape())
	if err != nil {
		return nil, fmt.Errorf("unsupported emotion input: %w", err)
	}
	return &Recognizer{
		engine:        engine,
		input:         input,
		minConfidence: minConfidence,
	}, nil
}

// Predict classifies a face crop
func (r *Recognizer) Predict(face image.Image) (Result, error) {
	if face.Bounds().Empty() {
		return Result{Emotion: Unknown}, fmt.Errorf("empty face crop")
	}

	boxed, _ := imgproc.LetterboxResize(face, r.input.Width, r.input.Height)
	layout := imgproc.NHWC
	if r.input.ChannelsFirst {
		layout = imgproc.NCHW
	}

	outputs, err := r.engine.Run(imgproc.ToTensor(boxed, layout, imgproc.UnitNorm))
	if err != nil {
		return Result{Emotion: Unknown}, fmt.Errorf("emotion inference failed: %w", err)
	}
	if len(outputs) == 0 || len(outputs[0].Data) != NumClasses {
		n := 0
		if len(outputs) > 0 {
			n = len(outputs[0].Data)
		}
		return Result{Emotion: Unknown}, fmt.Errorf("%w: got %d scores, expected %d", ErrUnexpectedOutput, n, NumClasses)
	}

	return Classify(Softmax(outputs[0].Data), r.minConfidence), nil
}

// Close releases the engine
func (r *Recognizer) Close() error {
	return r.engine.Close()
}
