package liveness_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/landmark/landmarktest"
	"github.com/dudu/livesense/internal/liveness"
)

const frameInterval = 100 * time.Millisecond

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newVideoChecker(t *testing.T, p liveness.Policy) (*liveness.Checker, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := liveness.NewChecker(p, liveness.WithClock(clk.Now))
	c.SetVideoMode(true)
	require.True(t, c.VideoMode())
	return c, clk
}

// feed checks n frames of face, advancing the clock before each one
func feed(c *liveness.Checker, clk *fakeClock, face landmarktest.Face, n int) liveness.Result {
	var res liveness.Result
	for i := 0; i < n; i++ {
		clk.Advance(frameInterval)
		res = c.Check(face.Mesh())
	}
	return res
}

func blink(c *liveness.Checker, clk *fakeClock) liveness.Result {
	feed(c, clk, landmarktest.Open().Closed(), 2)
	return feed(c, clk, landmarktest.Open(), 1)
}

// posePolicy disables smoothing and calibration so head pose deltas are exact
func posePolicy() liveness.Policy {
	p := liveness.DefaultPolicy()
	p.PoseSmoothingAlpha = 1
	p.CalibrationFrames = 0
	return p
}

func TestStaticModeNeverLive(t *testing.T) {
	c := liveness.NewChecker(liveness.DefaultPolicy())
	assert.False(t, c.VideoMode())

	for i := 0; i < 5; i++ {
		res := c.Check(landmarktest.Open().Mesh())
		assert.Equal(t, liveness.StatusNotLive, res.Status)
		assert.InDelta(t, 0.95, res.Confidence, 1e-6)
		assert.Equal(t, "Static image - no temporal data available", res.Reason)
	}

	res := c.Check(nil)
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	assert.Equal(t, liveness.StateUninitialized, c.Stats().State)
}

func TestRejectsWrongLandmarkCount(t *testing.T) {
	c, _ := newVideoChecker(t, liveness.DefaultPolicy())
	mesh := landmarktest.Open().Mesh()

	for _, pts := range [][]detector.Point{mesh[:467], append(mesh, mesh[0]), nil} {
		res := c.Check(pts)
		assert.Equal(t, liveness.StatusNotLive, res.Status)
		assert.InDelta(t, 0.5, res.Confidence, 1e-6)
	}
	assert.Equal(t, liveness.StateUninitialized, c.Stats().State)
}

func TestRejectsNaNLandmarks(t *testing.T) {
	c, _ := newVideoChecker(t, liveness.DefaultPolicy())
	mesh := landmarktest.Open().Mesh()
	mesh[42].X = float32(math.NaN())

	res := c.Check(mesh)
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	assert.Equal(t, liveness.StateUninitialized, c.Stats().State)
}

func TestCalibration(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())

	feed(c, clk, landmarktest.Open(), 9)
	st := c.Stats()
	assert.Equal(t, liveness.StateCalibrating, st.State)
	assert.InDelta(t, 0.20, st.BlinkThreshold, 1e-6)

	feed(c, clk, landmarktest.Open(), 1)
	st = c.Stats()
	assert.Equal(t, liveness.StateTracking, st.State)
	assert.InDelta(t, 0.35, st.BaselineEAR, 1e-4)
	assert.InDelta(t, 0.35, st.RecentEAR, 1e-4)
	assert.InDelta(t, 0.21, st.BlinkThreshold, 1e-4)
}

func TestClosedEyesDuringCalibrationNotCounted(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())

	feed(c, clk, landmarktest.Open().Closed(), 3)
	feed(c, clk, landmarktest.Open(), 7)
	assert.Equal(t, 0, c.Stats().Blinks)
}

func TestSingleBlink(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 10)

	res := blink(c, clk)
	st := c.Stats()
	assert.Equal(t, 1, st.Blinks)
	assert.False(t, st.Proven)
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	assert.InDelta(t, 0.6, res.Confidence, 1e-6)
	assert.Contains(t, res.Reason, "remaining")
}

func TestBlinkDurationLimits(t *testing.T) {
	tests := []struct {
		name   string
		closed int
		blinks int
	}{
		{"single frame", 1, 0},
		{"minimum", 2, 1},
		{"maximum", 8, 1},
		{"sustained", 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newVideoChecker(t, liveness.DefaultPolicy())
			feed(c, clk, landmarktest.Open(), 10)
			feed(c, clk, landmarktest.Open().Closed(), tt.closed)
			feed(c, clk, landmarktest.Open(), 1)
			assert.Equal(t, tt.blinks, c.Stats().Blinks)
		})
	}
}

func TestTwoBlinksLive(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 10)

	blink(c, clk)
	res := blink(c, clk)
	assert.Equal(t, liveness.StatusLive, res.Status)
	assert.InDelta(t, 0.91, res.Confidence, 1e-5)
	assert.True(t, c.Stats().Proven)
}

func TestConfidenceCapped(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 10)

	var res liveness.Result
	for i := 0; i < 6; i++ {
		res = blink(c, clk)
	}
	assert.Equal(t, 6, c.Stats().Blinks)
	assert.Equal(t, liveness.StatusLive, res.Status)
	assert.InDelta(t, 0.98, res.Confidence, 1e-6)
}

func TestStaticFaceNeverLive(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())

	for i := 0; i < 30; i++ {
		res := feed(c, clk, landmarktest.Open(), 1)
		require.NotEqual(t, liveness.StatusLive, res.Status, "frame %d", i)
	}

	clk.Advance(20 * time.Second)
	res := c.Check(landmarktest.Open().Mesh())
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	assert.InDelta(t, 0.9, res.Confidence, 1e-6)
	assert.Contains(t, res.Reason, "likely static")
}

func TestSmoothingDampsSingleFrameTurn(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 1)
	feed(c, clk, landmarktest.Open().Turned(0.6, 0), 1)

	st := c.Stats()
	assert.InDelta(t, 0.09, st.Yaw, 1e-4)
	assert.Equal(t, 0, st.Movements)
}

func TestSustainedTurnCounted(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 1)

	feed(c, clk, landmarktest.Open().Turned(0.6, 0), 2)
	assert.Equal(t, 0, c.Stats().Movements)
	feed(c, clk, landmarktest.Open().Turned(0.6, 0), 1)
	assert.Equal(t, 1, c.Stats().Movements)
}

func TestMovementThresholds(t *testing.T) {
	tests := []struct {
		name       string
		yaw, pitch float32
		movements  int
	}{
		{"small yaw", 0.2, 0, 0},
		{"yaw", 0.3, 0, 1},
		{"small pitch", 0, 0.15, 0},
		{"pitch", 0, 0.2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clk := newVideoChecker(t, posePolicy())
			feed(c, clk, landmarktest.Open(), 1)
			feed(c, clk, landmarktest.Open().Turned(tt.yaw, tt.pitch), 1)
			assert.Equal(t, tt.movements, c.Stats().Movements)
		})
	}
}

func TestMovementDebounce(t *testing.T) {
	c, clk := newVideoChecker(t, posePolicy())
	feed(c, clk, landmarktest.Open(), 1)

	feed(c, clk, landmarktest.Open().Turned(0.3, 0), 1)
	require.Equal(t, 1, c.Stats().Movements)

	// back to frontal within the debounce interval
	feed(c, clk, landmarktest.Open(), 1)
	assert.Equal(t, 1, c.Stats().Movements)

	clk.Advance(400 * time.Millisecond)
	res := c.Check(landmarktest.Open().Mesh())
	assert.Equal(t, 2, c.Stats().Movements)
	assert.Equal(t, liveness.StatusLive, res.Status)
}

func TestBlinkAndMovementLive(t *testing.T) {
	p := posePolicy()
	c, clk := newVideoChecker(t, p)
	feed(c, clk, landmarktest.Open(), 1)

	res := blink(c, clk)
	require.Equal(t, 1, c.Stats().Blinks)
	assert.Equal(t, liveness.StatusNotLive, res.Status)

	res = feed(c, clk, landmarktest.Open().Turned(0.3, 0), 1)
	assert.Equal(t, liveness.StatusLive, res.Status)
	assert.InDelta(t, 0.91, res.Confidence, 1e-5)
}

func TestLiveExpiresAndResets(t *testing.T) {
	c, clk := newVideoChecker(t, posePolicy())
	feed(c, clk, landmarktest.Open(), 1)
	feed(c, clk, landmarktest.Open().Turned(0.3, 0), 1)
	clk.Advance(500 * time.Millisecond)
	res := c.Check(landmarktest.Open().Mesh())
	require.Equal(t, liveness.StatusLive, res.Status)

	// proof survives brief inactivity
	clk.Advance(1500 * time.Millisecond)
	res = c.Check(landmarktest.Open().Mesh())
	assert.Equal(t, liveness.StatusLive, res.Status)

	clk.Advance(1000 * time.Millisecond)
	res = c.Check(landmarktest.Open().Mesh())
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	assert.InDelta(t, 0.7, res.Confidence, 1e-6)
	assert.True(t, c.Stats().Proven)

	clk.Advance(2 * time.Second)
	res = c.Check(landmarktest.Open().Mesh())
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	st := c.Stats()
	assert.False(t, st.Proven)
	assert.Zero(t, st.Movements)
	assert.Zero(t, st.Blinks)

	res = feed(c, clk, landmarktest.Open(), 1)
	assert.Contains(t, res.Reason, "remaining")
}

func TestProofRequiresTwoCues(t *testing.T) {
	c, clk := newVideoChecker(t, posePolicy())
	feed(c, clk, landmarktest.Open(), 1)
	res := feed(c, clk, landmarktest.Open().Turned(0.3, 0), 1)
	assert.Equal(t, 1, c.Stats().Movements)
	assert.Equal(t, liveness.StatusNotLive, res.Status)
}

func TestUncalibratedUsesFixedThreshold(t *testing.T) {
	p := liveness.DefaultPolicy()
	p.CalibrationFrames = 0
	c, clk := newVideoChecker(t, p)

	feed(c, clk, landmarktest.Open(), 1)
	st := c.Stats()
	assert.Equal(t, liveness.StateTracking, st.State)
	assert.InDelta(t, 0.20, st.BlinkThreshold, 1e-6)

	blink(c, clk)
	assert.Equal(t, 1, c.Stats().Blinks)
}

func TestPanicRecovered(t *testing.T) {
	c := liveness.NewChecker(liveness.DefaultPolicy(), liveness.WithClock(func() time.Time {
		panic("clock stopped")
	}))
	c.SetVideoMode(true)

	var res liveness.Result
	require.NotPanics(t, func() {
		res = c.Check(landmarktest.Open().Mesh())
	})
	assert.Equal(t, liveness.StatusNotLive, res.Status)
	assert.Contains(t, res.Reason, "Processing error")
}

func TestModeChangeResets(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 10)
	blink(c, clk)
	require.Equal(t, 1, c.Stats().Blinks)

	c.SetVideoMode(true)
	assert.Equal(t, 1, c.Stats().Blinks)

	c.SetVideoMode(false)
	st := c.Stats()
	assert.Zero(t, st.Blinks)
	assert.Equal(t, liveness.StateUninitialized, st.State)
	assert.Equal(t, liveness.StatusNotLive, c.Check(landmarktest.Open().Mesh()).Status)
}

func TestReset(t *testing.T) {
	c, clk := newVideoChecker(t, liveness.DefaultPolicy())
	feed(c, clk, landmarktest.Open(), 10)
	blink(c, clk)

	c.Reset()
	st := c.Stats()
	assert.Zero(t, st.Blinks)
	assert.Zero(t, st.BaselineEAR)
	assert.Equal(t, liveness.StateUninitialized, st.State)
	assert.True(t, c.VideoMode())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "UNKNOWN", liveness.StatusUnknown.String())
	assert.Equal(t, "NOT_LIVE", liveness.StatusNotLive.String())
	assert.Equal(t, "LIVE", liveness.StatusLive.String())

	b, err := liveness.StatusLive.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "LIVE", string(b))
}
