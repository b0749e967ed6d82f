package analysis

import (
	"github.com/google/uuid"

	"github.com/dudu/livesense/internal/liveness"
	"github.com/dudu/livesense/internal/tracking"
)

// Session carries the temporal state of one image source: track IDs and a
// liveness checker per track. A session must not be analyzed concurrently.
type Session struct {
	ID string

	video    bool
	frames   int
	tracker  *tracking.Tracker
	registry *liveness.Registry
}

// NewSession starts a session. video enables temporal liveness analysis;
// a still-image session always reports NOT_LIVE.
func (a *Analyzer) NewSession(video bool) *Session {
	return &Session{
		ID:       uuid.NewString(),
		video:    video,
		tracker:  tracking.New(tracking.DefaultMinIoU, a.maxMissing),
		registry: liveness.NewRegistry(a.policy, video, liveness.WithClock(a.now)),
	}
}

// Video reports whether the session analyzes a frame sequence
func (s *Session) Video() bool {
	return s.video
}

// SetVideoMode switches the session's liveness mode, resetting every checker
func (s *Session) SetVideoMode(enabled bool) {
	s.video = enabled
	s.registry.SetVideoMode(enabled)
}

// Frames is the number of frames analyzed so far
func (s *Session) Frames() int {
	return s.frames
}

// Tracks lists the IDs of faces currently followed
func (s *Session) Tracks() []int {
	tracks := s.tracker.Tracks()
	ids := make([]int, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}

// Liveness returns the checker stats of a track
func (s *Session) Liveness(track int) (liveness.Stats, bool) {
	c, ok := s.registry.Get(track)
	if !ok {
		return liveness.Stats{}, false
	}
	return c.Stats(), true
}

// Reset forgets all tracks and liveness history
func (s *Session) Reset() {
	for _, id := range s.tracker.Reset() {
		s.registry.Remove(id)
	}
}

// forget drops liveness state of tracks that ended
func (s *Session) forget(lost []int) {
	for _, id := range lost {
		s.registry.Remove(id)
	}
}
