package ui

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/livesense/internal/analysis"
	"github.com/dudu/livesense/internal/emotion"
	"github.com/dudu/livesense/internal/liveness"
)

var (
	colorLive    = color.RGBA{G: 255, A: 255}
	colorNotLive = color.RGBA{R: 255, A: 255}
	colorUnknown = color.RGBA{R: 255, G: 200, A: 255}
	colorMesh    = color.RGBA{R: 80, G: 200, B: 255, A: 255}
	colorText    = color.RGBA{G: 255, A: 255}
)

func statusColor(s liveness.Status) color.RGBA {
	switch s {
	case liveness.StatusLive:
		return colorLive
	case liveness.StatusNotLive:
		return colorNotLive
	default:
		return colorUnknown
	}
}

// DrawFrame paints boxes, labels and optionally landmarks for every face
func DrawFrame(img *gocv.Mat, f *analysis.Frame, landmarks bool) {
	if f == nil {
		return
	}

	for _, face := range f.Faces {
		c := statusColor(face.Liveness.Status)
		r := face.Box.Rect()
		gocv.Rectangle(img, r, c, 2)

		label := fmt.Sprintf("#%d %s %.2f", face.TrackID, face.Liveness.Status, face.Liveness.Confidence)
		if face.Emotion.Emotion != emotion.Unknown {
			label += fmt.Sprintf(" | %s %.0f%%", face.Emotion.Emotion, face.Emotion.Confidence*100)
		}
		y := r.Min.Y - 8
		if y < 12 {
			y = r.Max.Y + 16
		}
		gocv.PutText(img, label, image.Pt(r.Min.X, y), gocv.FontHersheyPlain, 1.2, c, 2)
		gocv.PutText(img, face.Liveness.Reason, image.Pt(r.Min.X, y+18), gocv.FontHersheyPlain, 0.9, c, 1)

		if !landmarks {
			continue
		}
		radius := 1
		if len(face.Box.Landmarks) <= 6 {
			radius = 3
		}
		for _, p := range face.Box.Landmarks {
			gocv.Circle(img, image.Pt(int(p.X), int(p.Y)), radius, colorMesh, -1)
		}
	}
}

// DrawTiming prints per-stage latency under the FPS counter
func DrawTiming(img *gocv.Mat, t analysis.Timing) {
	text := fmt.Sprintf("D:%.0fms L:%.0fms E:%.0fms T:%.0fms",
		ms(t.Detection), ms(t.Landmarks), ms(t.Emotion), ms(t.Total))
	gocv.PutText(img, text, image.Pt(10, 60), gocv.FontHersheyPlain, 1.5, colorText, 2)
}
