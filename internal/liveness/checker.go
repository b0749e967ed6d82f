package liveness

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/landmark"
	"github.com/dudu/livesense/internal/log"
)

const (
	historySize = 10

	// normalized pose units to approximate degrees
	degreesPerUnit = 45

	baselineFactor    = 0.6
	minBlinkThreshold = 0.12
	maxBlinkThreshold = 0.25

	liveBaseConfidence = 0.85
	liveConfidenceStep = 0.03
	maxLiveConfidence  = 0.98
)

const (
	staticReason     = "Static image - no temporal data available"
	staticConfidence = 0.95
)

// Option configures a Checker
type Option func(*Checker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// WithLogger replaces the component logger
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Checker) {
		c.log = entry
	}
}

// Checker is the liveness state machine for one tracked subject. It is not
// safe for concurrent use.
type Checker struct {
	policy Policy
	now    func() time.Time
	log    *logrus.Entry

	video bool
	state State

	calibrated   int
	baselineEAR  float32
	closedFrames int
	earHistory   ring

	poseReady   bool
	smoothYaw   float32
	smoothPitch float32
	refYaw      float32
	refPitch    float32

	firstDetection time.Time
	lastMovement   time.Time
	lastActivity   time.Time

	blinks    int
	movements int
	proven    bool
}

// NewChecker creates a checker in static-image mode
func NewChecker(policy Policy, opts ...Option) *Checker {
	c := &Checker{
		policy: policy,
		now:    time.Now,
		log:    log.WithComponent("liveness"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c
}

// SetVideoMode switches between still-image and temporal analysis. Changing
// the mode resets all accumulated state.
func (c *Checker) SetVideoMode(enabled bool) {
	if c.video == enabled {
		return
	}
	c.video = enabled
	c.Reset()
}

// VideoMode reports whether temporal analysis is enabled
func (c *Checker) VideoMode() bool {
	return c.video
}

// Reset discards all subject history
func (c *Checker) Reset() {
	c.state = StateUninitialized
	c.calibrated = 0
	c.baselineEAR = 0
	c.closedFrames = 0
	c.earHistory = newRing(historySize)
	c.poseReady = false
	c.smoothYaw, c.smoothPitch = 0, 0
	c.refYaw, c.refPitch = 0, 0
	c.firstDetection = time.Time{}
	c.lastMovement = time.Time{}
	c.lastActivity = time.Time{}
	c.blinks = 0
	c.movements = 0
	c.proven = false
}

// Stats returns a snapshot of the checker state
func (c *Checker) Stats() Stats {
	return Stats{
		State:          c.state,
		Blinks:         c.blinks,
		Movements:      c.movements,
		Proven:         c.proven,
		BaselineEAR:    c.baselineEAR,
		RecentEAR:      c.earHistory.mean(),
		BlinkThreshold: c.blinkThreshold(),
		Yaw:            c.smoothYaw,
		Pitch:          c.smoothPitch,
	}
}

// Check consumes one frame of landmarks and returns the current verdict.
// It never panics; every failure resolves to StatusNotLive.
func (c *Checker) Check(landmarks []detector.Point) (res Result) {
	if !c.video {
		return Result{Status: StatusNotLive, Confidence: staticConfidence, Reason: staticReason}
	}

	if len(landmarks) == 0 {
		return Result{Status: StatusNotLive, Confidence: 0.5, Reason: "No landmarks available"}
	}
	if len(landmarks) != landmark.MeshSize {
		return Result{
			Status:     StatusNotLive,
			Confidence: 0.5,
			Reason:     fmt.Sprintf("Invalid landmark count: %d (expected %d)", len(landmarks), landmark.MeshSize),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("liveness check failed: %v", r)
			res = Result{Status: StatusNotLive, Confidence: 0.5, Reason: fmt.Sprintf("Processing error: %v", r)}
		}
	}()

	if err := landmark.Validate(landmarks); err != nil {
		return Result{Status: StatusNotLive, Confidence: 0.5, Reason: err.Error()}
	}

	left, right := landmark.EyeEARs(landmarks)
	if left < 0 || right < 0 {
		return Result{Status: StatusNotLive, Confidence: 0.5, Reason: "Could not compute eye aspect ratio"}
	}

	now := c.now()
	if c.state == StateUninitialized {
		c.firstDetection = now
		c.state = StateCalibrating
		if c.policy.CalibrationFrames <= 0 {
			c.state = StateTracking
		}
	}

	ear := (left + right) / 2
	c.earHistory.push(ear)
	c.updateBlinks(ear, now)
	c.updatePose(landmarks, now)

	if !c.proven && c.hasProof() {
		c.proven = true
		c.log.WithFields(log.Fields{"blinks": c.blinks, "movements": c.movements}).Debug("liveness proven")
	}

	return c.verdict(now)
}

// blinkThreshold is the calibrated closed-eye threshold, or the configured
// one before calibration completes
func (c *Checker) blinkThreshold() float32 {
	if c.state != StateTracking || c.calibrated == 0 {
		return c.policy.EARClosedThreshold
	}
	return min(max(c.baselineEAR*baselineFactor, minBlinkThreshold), maxBlinkThreshold)
}

func (c *Checker) updateBlinks(ear float32, now time.Time) {
	if c.state == StateCalibrating {
		c.calibrated++
		c.baselineEAR += (ear - c.baselineEAR) / float32(c.calibrated)
		if c.calibrated >= c.policy.CalibrationFrames {
			c.state = StateTracking
			c.log.WithFields(log.Fields{
				"baseline":  c.baselineEAR,
				"threshold": c.blinkThreshold(),
			}).Debug("calibration complete")
		}
		return
	}

	if ear < c.blinkThreshold() {
		c.closedFrames++
		return
	}

	switch {
	case c.closedFrames >= c.policy.BlinkMinFrames && c.closedFrames <= c.policy.BlinkMaxFrames:
		c.blinks++
		c.lastActivity = now
		c.log.WithFields(log.Fields{"frames": c.closedFrames, "blinks": c.blinks}).Debug("blink")
	case c.closedFrames > c.policy.BlinkMaxFrames:
		c.log.WithField("frames", c.closedFrames).Debug("sustained eye closure ignored")
	}
	c.closedFrames = 0
}

func (c *Checker) updatePose(landmarks []detector.Point, now time.Time) {
	yaw := landmark.HeadYaw(landmarks)
	pitch := landmark.HeadPitch(landmarks)

	if !c.poseReady {
		c.smoothYaw, c.smoothPitch = yaw, pitch
		c.refYaw, c.refPitch = yaw, pitch
		c.poseReady = true
		return
	}

	a := c.policy.PoseSmoothingAlpha
	c.smoothYaw = a*yaw + (1-a)*c.smoothYaw
	c.smoothPitch = a*pitch + (1-a)*c.smoothPitch

	dYaw := abs32(c.smoothYaw-c.refYaw) * degreesPerUnit
	dPitch := abs32(c.smoothPitch-c.refPitch) * degreesPerUnit
	if dYaw <= c.policy.HeadYawChangeMinDeg && dPitch <= c.policy.HeadPitchChangeMinDeg {
		return
	}
	if !c.lastMovement.IsZero() && now.Sub(c.lastMovement) < c.policy.MovementDebounce {
		return
	}

	c.movements++
	c.lastMovement = now
	c.lastActivity = now
	c.refYaw, c.refPitch = c.smoothYaw, c.smoothPitch
	c.log.WithFields(log.Fields{
		"yaw_deg":   dYaw,
		"pitch_deg": dPitch,
		"movements": c.movements,
	}).Debug("head movement")
}

func (c *Checker) hasProof() bool {
	return (c.blinks >= 1 && c.movements >= 1) || c.blinks >= 2 || c.movements >= 2
}

func (c *Checker) verdict(now time.Time) Result {
	if !c.proven {
		elapsed := now.Sub(c.firstDetection)
		if elapsed < c.policy.Probation {
			remaining := c.policy.Probation - elapsed
			return Result{
				Status:     StatusNotLive,
				Confidence: 0.6,
				Reason: fmt.Sprintf("Verifying liveness: %.1fs remaining (blinks: %d, movements: %d)",
					remaining.Seconds(), c.blinks, c.movements),
			}
		}
		return Result{
			Status:     StatusNotLive,
			Confidence: 0.9,
			Reason:     "No liveness cues detected - likely static image",
		}
	}

	idle := now.Sub(c.lastActivity)
	if idle <= c.policy.Window {
		conf := min(liveBaseConfidence+liveConfidenceStep*float32(c.blinks+c.movements), maxLiveConfidence)
		return Result{
			Status:     StatusLive,
			Confidence: conf,
			Reason:     fmt.Sprintf("Live: %d blinks, %d head movements", c.blinks, c.movements),
		}
	}

	if idle > time.Duration(float64(c.policy.Window)*float64(c.policy.InactivityFactor)) {
		c.log.WithField("idle", idle).Debug("inactivity reset")
		c.restartProbation(now)
		return Result{
			Status:     StatusNotLive,
			Confidence: 0.6,
			Reason:     fmt.Sprintf("No activity for %.1fs, re-verifying liveness", idle.Seconds()),
		}
	}

	return Result{
		Status:     StatusNotLive,
		Confidence: 0.7,
		Reason:     fmt.Sprintf("No recent liveness activity (%.1fs)", idle.Seconds()),
	}
}

// restartProbation drops counters and proof but keeps the calibration baseline
func (c *Checker) restartProbation(now time.Time) {
	c.blinks = 0
	c.movements = 0
	c.proven = false
	c.closedFrames = 0
	c.firstDetection = now
	c.lastMovement = time.Time{}
	c.lastActivity = time.Time{}
	c.refYaw, c.refPitch = c.smoothYaw, c.smoothPitch
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

// ring is a fixed-capacity history of recent values
type ring struct {
	buf  []float32
	next int
	full bool
}

func newRing(size int) ring {
	return ring{buf: make([]float32, size)}
}

func (r *ring) push(v float32) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) mean() float32 {
	n := r.len()
	if n == 0 {
		return 0
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += r.buf[i]
	}
	return sum / float32(n)
}
