// Package analysis runs the per-frame face analysis: detection, face mesh,
// emotion and liveness, tied together by per-session track state.
package analysis

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/emotion"
	"github.com/dudu/livesense/internal/imgproc"
	"github.com/dudu/livesense/internal/liveness"
	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/metrics"
	"github.com/dudu/livesense/internal/tracking"
)

const noMeshReason = "No landmark model configured"

// Timing holds performance timing information
type Timing struct {
	Detection time.Duration
	Landmarks time.Duration
	Emotion   time.Duration
	Total     time.Duration
}

// FaceResult is the analysis of one face
type FaceResult struct {
	TrackID  int
	Box      detector.FaceBox
	Emotion  emotion.Result
	Liveness liveness.Result
}

// Frame is the analysis of one image
type Frame struct {
	Index         int
	Width, Height int
	Faces         []FaceResult
	Timing        Timing
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithLandmarks enables the face mesh and with it liveness
func WithLandmarks(m LandmarkModel) Option {
	return func(a *Analyzer) { a.mesh = m }
}

// WithEmotion enables expression classification
func WithEmotion(m EmotionModel) Option {
	return func(a *Analyzer) { a.emotion = m }
}

// WithPolicy sets the liveness thresholds for new sessions
func WithPolicy(p liveness.Policy) Option {
	return func(a *Analyzer) { a.policy = p }
}

// WithMaxFaces caps the faces analyzed per frame
func WithMaxFaces(n int) Option {
	return func(a *Analyzer) { a.maxFaces = n }
}

// WithMaxMissing sets how many frames a track survives without a match
func WithMaxMissing(frames int) Option {
	return func(a *Analyzer) { a.maxMissing = frames }
}

// WithMetrics records frame and stage counters; nil disables them
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithClock replaces time.Now for liveness timing
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// Analyzer owns the models. Analyze serializes model access, so one
// Analyzer can serve many sessions.
type Analyzer struct {
	mu sync.Mutex

	detector FaceDetector
	mesh     LandmarkModel
	emotion  EmotionModel

	policy     liveness.Policy
	maxFaces   int
	maxMissing int
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *logrus.Entry
}

// New creates an analyzer around a detector
func New(det FaceDetector, opts ...Option) *Analyzer {
	a := &Analyzer{
		detector:   det,
		policy:     liveness.DefaultPolicy(),
		maxFaces:   2,
		maxMissing: tracking.DefaultMaxMissing,
		now:        time.Now,
		log:        log.WithComponent("analysis"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasLandmarks reports whether liveness can be evaluated
func (a *Analyzer) HasLandmarks() bool {
	return a.mesh != nil
}

// Analyze processes one image of a session. A detector failure returns the
// empty frame together with the error; mesh and emotion failures only
// degrade the affected face.
func (a *Analyzer) Analyze(sess *Session, img image.Image) (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	totalStart := time.Now()
	b := img.Bounds()
	frame := &Frame{Index: sess.frames, Width: b.Dx(), Height: b.Dy()}
	sess.frames++

	detectStart := time.Now()
	boxes, err := a.detector.Detect(img)
	frame.Timing.Detection = time.Since(detectStart)
	if err != nil {
		a.metrics.DetectionFailed()
		frame.Timing.Total = time.Since(totalStart)
		return frame, fmt.Errorf("detection failed: %w", err)
	}
	if a.maxFaces > 0 && len(boxes) > a.maxFaces {
		boxes = boxes[:a.maxFaces]
	}

	ids, lost := sess.tracker.Update(boxes)
	sess.forget(lost)

	frame.Faces = make([]FaceResult, 0, len(boxes))
	for i, box := range boxes {
		face := FaceResult{
			TrackID: ids[i],
			Box:     box.Clone(),
			Emotion: emotion.Result{Emotion: emotion.Unknown},
		}

		if a.mesh != nil {
			start := time.Now()
			face.Liveness = a.checkLiveness(sess, img, &face)
			frame.Timing.Landmarks += time.Since(start)
			a.metrics.ObserveVerdict(face.Liveness.Status.String())
		} else {
			face.Liveness = liveness.Result{Status: liveness.StatusUnknown, Reason: noMeshReason}
		}

		if a.emotion != nil {
			start := time.Now()
			face.Emotion = a.classify(img, face.Box)
			frame.Timing.Emotion += time.Since(start)
		}

		frame.Faces = append(frame.Faces, face)
	}

	frame.Timing.Total = time.Since(totalStart)
	a.metrics.ObserveFrame(len(frame.Faces), frame.Timing.Total)
	return frame, nil
}

// checkLiveness runs the mesh and feeds the track's checker. The mesh replaces the
// detector keypoints on the face box.
func (a *Analyzer) checkLiveness(sess *Session, img image.Image, face *FaceResult) liveness.Result {
	pts, err := a.mesh.Landmarks(img, face.Box)
	if err != nil {
		a.metrics.LandmarkFailed()
		a.log.WithFields(log.Fields{"track": face.TrackID, "session": sess.ID}).
			Warnf("face mesh failed: %v", err)
	}
	if len(pts) > 0 {
		face.Box.Landmarks = pts
	}
	return sess.registry.Check(face.TrackID, pts)
}

func (a *Analyzer) classify(img image.Image, box detector.FaceBox) emotion.Result {
	r := box.Rect().Intersect(img.Bounds())
	if r.Empty() {
		return emotion.Result{Emotion: emotion.Unknown}
	}
	res, err := a.emotion.Predict(imgproc.Crop(img, r))
	if err != nil {
		a.metrics.EmotionFailed()
		a.log.Warnf("emotion classification failed: %v", err)
		return emotion.Result{Emotion: emotion.Unknown}
	}
	return res
}

// Close releases all models
func (a *Analyzer) Close() error {
	var errs []error

	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.mesh != nil {
		if err := a.mesh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.emotion != nil {
		if err := a.emotion.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
