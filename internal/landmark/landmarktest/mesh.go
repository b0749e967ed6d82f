// Package landmarktest builds synthetic face meshes for tests.
package landmarktest

import (
	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/landmark"
)

// Face describes a synthetic frontal face. Only the points the feature
// extractors read are placed; every other mesh point sits at the face center.
type Face struct {
	CenterX, CenterY float32
	EyeSpacing       float32
	EyeWidth         float32
	Height           float32

	// EAR is the eye aspect ratio both eyes are drawn with
	EAR float32
	// Yaw and Pitch are nose offsets in units of eye spacing and face height
	Yaw, Pitch float32
}

// Open returns a frontal face with open eyes
func Open() Face {
	return Face{
		CenterX:    320,
		CenterY:    240,
		EyeSpacing: 60,
		EyeWidth:   30,
		Height:     160,
		EAR:        0.35,
	}
}

// Closed returns f with nearly shut eyes
func (f Face) Closed() Face {
	f.EAR = 0.02
	return f
}

// Turned returns f with the given yaw and pitch
func (f Face) Turned(yaw, pitch float32) Face {
	f.Yaw, f.Pitch = yaw, pitch
	return f
}

// Mesh renders the face as a full 468-point mesh
func (f Face) Mesh() []detector.Point {
	pts := make([]detector.Point, landmark.MeshSize)
	for i := range pts {
		pts[i] = detector.Point{X: f.CenterX, Y: f.CenterY}
	}

	eyeY := f.CenterY - f.Height/8
	placeEye(pts, landmark.LeftEye, f.CenterX+f.EyeSpacing/2, eyeY, f.EyeWidth, f.EAR)
	placeEye(pts, landmark.RightEye, f.CenterX-f.EyeSpacing/2, eyeY, f.EyeWidth, f.EAR)

	pts[landmark.NoseTip] = detector.Point{
		X: f.CenterX + f.Yaw*f.EyeSpacing,
		Y: f.CenterY + f.Pitch*f.Height,
	}
	pts[landmark.Forehead] = detector.Point{X: f.CenterX, Y: f.CenterY - f.Height/2}
	pts[landmark.Chin] = detector.Point{X: f.CenterX, Y: f.CenterY + f.Height/2}

	mouthY := f.CenterY + f.Height/4
	pts[landmark.MouthLeft] = detector.Point{X: f.CenterX - 20, Y: mouthY}
	pts[landmark.MouthRight] = detector.Point{X: f.CenterX + 20, Y: mouthY}
	pts[landmark.MouthTop] = detector.Point{X: f.CenterX, Y: mouthY - 2}
	pts[landmark.MouthBottom] = detector.Point{X: f.CenterX, Y: mouthY + 2}

	return pts
}

// placeEye lays out 6 eye points whose aspect ratio is exactly ear and whose
// mean is (cx, cy)
func placeEye(pts []detector.Point, idx [6]int, cx, cy, w, ear float32) {
	h := ear * w
	eye := [6]detector.Point{
		{X: cx - w/2, Y: cy},
		{X: cx - w/6, Y: cy - h/2},
		{X: cx + w/6, Y: cy - h/2},
		{X: cx + w/2, Y: cy},
		{X: cx + w/6, Y: cy + h/2},
		{X: cx - w/6, Y: cy + h/2},
	}
	for i, j := range idx {
		pts[j] = eye[i]
	}
}
