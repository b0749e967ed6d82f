// Package landmark derives geometric features from dense face-mesh landmarks
// and runs the mesh model that produces them.
package landmark

import (
	"errors"
	"fmt"
	"math"

	"github.com/dudu/livesense/internal/detector"
)

// MeshSize is the number of points in a full face mesh
const MeshSize = 468

// Mesh indices
var (
	// LeftEye and RightEye are ordered corner, two upper lid points, opposite
	// corner, two lower lid points. Lower lid points 4 and 5 sit below upper
	// lid points 2 and 1.
	LeftEye  = [6]int{362, 385, 387, 263, 373, 380}
	RightEye = [6]int{33, 160, 158, 133, 153, 144}

	// Lips traces the lower outer lip then the upper inner lip
	Lips = [20]int{61, 146, 91, 181, 84, 17, 314, 405, 320, 307, 325, 308, 78, 191, 80, 81, 82, 13, 312, 311}

	FaceOval = []int{
		10, 338, 297, 332, 284, 251, 389, 356, 454, 323, 361, 288,
		397, 365, 379, 378, 400, 377, 152, 148, 176, 149, 150, 136,
		172, 58, 132, 93, 234, 127, 162, 21, 54, 103, 67, 109,
	}
)

const (
	NoseTip  = 1
	Forehead = 10
	Chin     = 175

	// MouthLeft and MouthRight are the lip corners, MouthTop and MouthBottom the inner lip midpoints
	MouthLeft   = 78
	MouthRight  = 308
	MouthTop    = 13
	MouthBottom = 14
)

// Degenerate denominators
const (
	earEpsilon  = 1e-6
	poseEpsilon = 1e-3
)

// coordinate sanity range for Validate
const (
	minCoord = -1000
	maxCoord = 10000
)

// ErrInvalidLandmarks is returned by Validate
var ErrInvalidLandmarks = errors.New("invalid landmarks")

func dist(a, b detector.Point) float32 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

// EAR computes the eye aspect ratio of 6 ordered eye points, clamped to
// [0,1]. It returns -1 when the eye width is degenerate.
func EAR(eye [6]detector.Point) float32 {
	horizontal := dist(eye[0], eye[3])
	if horizontal < earEpsilon {
		return -1
	}
	v1 := dist(eye[1], eye[5])
	v2 := dist(eye[2], eye[4])
	ear := (v1 + v2) / (2 * horizontal)
	return min(max(ear, 0), 1)
}

// EyePoints gathers the 6 points of an eye index set from a full mesh
func EyePoints(landmarks []detector.Point, idx [6]int) ([6]detector.Point, bool) {
	var eye [6]detector.Point
	if len(landmarks) != MeshSize {
		return eye, false
	}
	for i, j := range idx {
		eye[i] = landmarks[j]
	}
	return eye, true
}

// EyeEARs returns the left and right eye aspect ratios. Both are -1 when the
// mesh is incomplete.
func EyeEARs(landmarks []detector.Point) (left, right float32) {
	l, ok := EyePoints(landmarks, LeftEye)
	if !ok {
		return -1, -1
	}
	r, _ := EyePoints(landmarks, RightEye)
	return EAR(l), EAR(r)
}

// EyeCenter averages the points of an eye index set
func EyeCenter(landmarks []detector.Point, idx [6]int) detector.Point {
	var c detector.Point
	if len(landmarks) != MeshSize {
		return c
	}
	for _, j := range idx {
		c.X += landmarks[j].X
		c.Y += landmarks[j].Y
	}
	c.X /= float32(len(idx))
	c.Y /= float32(len(idx))
	return c
}

// HeadYaw estimates horizontal head rotation in [-1,1] from the nose tip's
// offset to the midpoint between the eyes, normalized by eye distance.
// An incomplete mesh or coincident eyes read as 0.
func HeadYaw(landmarks []detector.Point) float32 {
	if len(landmarks) != MeshSize {
		return 0
	}
	left := EyeCenter(landmarks, LeftEye)
	right := EyeCenter(landmarks, RightEye)

	eyeDist := float32(math.Abs(float64(left.X - right.X)))
	if eyeDist < poseEpsilon {
		return 0
	}
	mid := (left.X + right.X) / 2
	yaw := (landmarks[NoseTip].X - mid) / eyeDist
	return min(max(yaw, -1), 1)
}

// HeadPitch estimates vertical head rotation in [-1,1] from the nose tip's
// offset to the forehead-chin midpoint, normalized by face height.
func HeadPitch(landmarks []detector.Point) float32 {
	if len(landmarks) != MeshSize {
		return 0
	}
	top := landmarks[Forehead]
	bottom := landmarks[Chin]

	height := float32(math.Abs(float64(bottom.Y - top.Y)))
	if height < poseEpsilon {
		return 0
	}
	mid := (top.Y + bottom.Y) / 2
	pitch := (landmarks[NoseTip].Y - mid) / height
	return min(max(pitch, -1), 1)
}

// MAR computes the mouth aspect ratio (inner lip opening over mouth width),
// or -1 when the mesh is incomplete or the width is degenerate.
func MAR(landmarks []detector.Point) float32 {
	if len(landmarks) != MeshSize {
		return -1
	}
	width := dist(landmarks[MouthLeft], landmarks[MouthRight])
	if width < earEpsilon {
		return -1
	}
	return dist(landmarks[MouthTop], landmarks[MouthBottom]) / width
}

// Subset returns the points at the given indices, skipping any out of range
func Subset(landmarks []detector.Point, idx []int) []detector.Point {
	out := make([]detector.Point, 0, len(idx))
	for _, i := range idx {
		if i >= 0 && i < len(landmarks) {
			out = append(out, landmarks[i])
		}
	}
	return out
}

// Validate rejects meshes with the wrong point count, non-finite values or
// coordinates far outside any plausible image
func Validate(landmarks []detector.Point) error {
	if len(landmarks) != MeshSize {
		return fmt.Errorf("%w: got %d points, expected %d", ErrInvalidLandmarks, len(landmarks), MeshSize)
	}
	for i, p := range landmarks {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidLandmarks, i)
		}
		if p.X < minCoord || p.X > maxCoord || p.Y < minCoord || p.Y > maxCoord {
			return fmt.Errorf("%w: point %d (%.1f, %.1f) out of range", ErrInvalidLandmarks, i, p.X, p.Y)
		}
	}
	return nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
