// Package emotion classifies facial expressions from face crops.
package emotion

import (
	"fmt"
	"math"
)

// Emotion is a facial expression label
type Emotion int

// Model output order. Unknown is never produced by the model itself.
const (
	Anger Emotion = iota
	Disgust
	Fear
	Happiness
	Sadness
	Surprise
	Neutral
	Unknown
)

// NumClasses is the classifier output width
const NumClasses = 7

var names = [...]string{"anger", "disgust", "fear", "happiness", "sadness", "surprise", "neutral", "unknown"}

func (e Emotion) String() string {
	if e < 0 || int(e) >= len(names) {
		return fmt.Sprintf("Emotion(%d)", int(e))
	}
	return names[e]
}

// MarshalText renders the label name in JSON
func (e Emotion) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Parse maps a label name back to its Emotion
func Parse(s string) (Emotion, error) {
	for i, n := range names {
		if n == s {
			return Emotion(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown emotion %q", s)
}

// Result is one classification
type Result struct {
	Emotion    Emotion
	Confidence float32
	// Probabilities holds the softmax output in model order
	Probabilities []float32
}

// Softmax converts logits to probabilities. The maximum logit is subtracted
// before exponentiation; a non-finite or zero exponent sum yields a uniform
// distribution.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxLogit))
		sum += exps[i]
	}

	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		u := 1 / float32(len(logits))
		for i := range out {
			out[i] = u
		}
		return out
	}

	for i, e := range exps {
		out[i] = float32(e / sum)
	}
	return out
}

// Classify picks the most probable label, or Unknown when its probability
// is below minConfidence
func Classify(probs []float32, minConfidence float32) Result {
	res := Result{Emotion: Unknown, Probabilities: probs}
	if len(probs) == 0 {
		return res
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}

	res.Confidence = probs[best]
	if res.Confidence >= minConfidence && best < NumClasses {
		res.Emotion = Emotion(best)
	}
	return res
}
