package analysis

import (
	"image"

	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/emotion"
)

// FaceDetector finds faces in an image. Boxes are in image pixels, highest
// confidence first.
type FaceDetector interface {
	Detect(img image.Image) ([]detector.FaceBox, error)
	Close() error
}

// LandmarkModel produces a dense mesh for one face
type LandmarkModel interface {
	Landmarks(img image.Image, face detector.FaceBox) ([]detector.Point, error)
	Close() error
}

// EmotionModel classifies a face crop
type EmotionModel interface {
	Predict(face image.Image) (emotion.Result, error)
	Close() error
}
