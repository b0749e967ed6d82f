package server

import (
	"time"

	"github.com/dudu/livesense/internal/analysis"
	"github.com/dudu/livesense/internal/detector"
)

// PointDTO is a landmark in image pixels
type PointDTO struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// BoxDTO is a face box in image pixels
type BoxDTO struct {
	X          float32    `json:"x"`
	Y          float32    `json:"y"`
	Width      float32    `json:"width"`
	Height     float32    `json:"height"`
	Confidence float32    `json:"confidence"`
	Landmarks  []PointDTO `json:"landmarks,omitempty"`
}

// EmotionDTO is the top expression label
type EmotionDTO struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// LivenessDTO is the liveness verdict for a tracked face
type LivenessDTO struct {
	Status     string  `json:"status"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// FaceDTO is one analyzed face
type FaceDTO struct {
	TrackID  int         `json:"trackId"`
	Box      BoxDTO      `json:"box"`
	Emotion  EmotionDTO  `json:"emotion"`
	Liveness LivenessDTO `json:"liveness"`
}

// TimingDTO holds per-stage latency in milliseconds
type TimingDTO struct {
	DetectionMs float64 `json:"detectionMs"`
	LandmarksMs float64 `json:"landmarksMs"`
	EmotionMs   float64 `json:"emotionMs"`
	TotalMs     float64 `json:"totalMs"`
}

// FrameDTO is the JSON result of one analyzed image
type FrameDTO struct {
	Session string    `json:"session,omitempty"`
	Index   int       `json:"index"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Faces   []FaceDTO `json:"faces"`
	Timing  TimingDTO `json:"timing"`
}

// ErrorDTO is returned for rejected requests and frames
type ErrorDTO struct {
	Error string `json:"error"`
}

// HealthDTO is the /healthz response
type HealthDTO struct {
	Status string `json:"status"`
}

// NewFrameDTO converts an analysis frame. Landmarks are included only when
// requested since a full mesh dominates the payload.
func NewFrameDTO(session string, f *analysis.Frame, landmarks bool) FrameDTO {
	out := FrameDTO{
		Session: session,
		Index:   f.Index,
		Width:   f.Width,
		Height:  f.Height,
		Faces:   make([]FaceDTO, 0, len(f.Faces)),
		Timing: TimingDTO{
			DetectionMs: ms(f.Timing.Detection),
			LandmarksMs: ms(f.Timing.Landmarks),
			EmotionMs:   ms(f.Timing.Emotion),
			TotalMs:     ms(f.Timing.Total),
		},
	}

	for _, face := range f.Faces {
		out.Faces = append(out.Faces, FaceDTO{
			TrackID: face.TrackID,
			Box:     newBoxDTO(face.Box, landmarks),
			Emotion: EmotionDTO{
				Label:      face.Emotion.Emotion.String(),
				Confidence: face.Emotion.Confidence,
			},
			Liveness: LivenessDTO{
				Status:     face.Liveness.Status.String(),
				Confidence: face.Liveness.Confidence,
				Reason:     face.Liveness.Reason,
			},
		})
	}
	return out
}

func newBoxDTO(b detector.FaceBox, landmarks bool) BoxDTO {
	out := BoxDTO{
		X:          b.X,
		Y:          b.Y,
		Width:      b.Width,
		Height:     b.Height,
		Confidence: b.Confidence,
	}
	if landmarks && len(b.Landmarks) > 0 {
		out.Landmarks = make([]PointDTO, len(b.Landmarks))
		for i, p := range b.Landmarks {
			out.Landmarks[i] = PointDTO{X: p.X, Y: p.Y}
		}
	}
	return out
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
