package detector

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// YuNetColumns is the row width of OpenCV FaceDetectorYN output:
// x, y, w, h, five keypoint pairs, score
const YuNetColumns = 15

// YuNet keypoint order
const (
	YuNetRightEye = iota
	YuNetLeftEye
	YuNetNose
	YuNetRightMouth
	YuNetLeftMouth
)

// ParseYuNet converts flat FaceDetectorYN rows into faces ranked by
// confidence. Rows below minScore or with a non-positive size are skipped.
func ParseYuNet(data []float32, minScore float32) ([]FaceBox, error) {
	if len(data)%YuNetColumns != 0 {
		return nil, fmt.Errorf("%w: %d values is not a multiple of %d", ErrMalformedOutput, len(data), YuNetColumns)
	}

	now := time.Now()
	faces := make([]FaceBox, 0, len(data)/YuNetColumns)
	for off := 0; off < len(data); off += YuNetColumns {
		row := data[off : off+YuNetColumns]
		score := row[14]
		if score < minScore || !finiteRow(row) || row[2] <= 0 || row[3] <= 0 {
			continue
		}

		face := FaceBox{
			X:             row[0],
			Y:             row[1],
			Width:         row[2],
			Height:        row[3],
			Confidence:    score,
			Landmarks:     make([]Point, 5),
			DetectionTime: now,
		}
		for k := range face.Landmarks {
			face.Landmarks[k] = Point{X: row[4+2*k], Y: row[5+2*k]}
		}
		faces = append(faces, face)
	}

	sort.SliceStable(faces, func(i, j int) bool {
		return faces[i].Confidence > faces[j].Confidence
	})
	return faces, nil
}

func finiteRow(row []float32) bool {
	for _, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
