package liveness

import (
	"sort"

	"github.com/dudu/livesense/internal/detector"
)

// Registry keeps one Checker per track ID
type Registry struct {
	policy   Policy
	opts     []Option
	video    bool
	checkers map[int]*Checker
}

// NewRegistry creates an empty registry. Checkers created later inherit
// policy, video mode and opts.
func NewRegistry(policy Policy, video bool, opts ...Option) *Registry {
	return &Registry{
		policy:   policy,
		opts:     opts,
		video:    video,
		checkers: make(map[int]*Checker),
	}
}

// Check runs the track's checker, creating it on first sight
func (r *Registry) Check(track int, landmarks []detector.Point) Result {
	return r.checker(track).Check(landmarks)
}

// Get returns the checker of a track, if any
func (r *Registry) Get(track int) (*Checker, bool) {
	c, ok := r.checkers[track]
	return c, ok
}

// Remove forgets a lost track
func (r *Registry) Remove(track int) {
	delete(r.checkers, track)
}

// SetVideoMode applies the mode to every existing and future checker
func (r *Registry) SetVideoMode(enabled bool) {
	r.video = enabled
	for _, c := range r.checkers {
		c.SetVideoMode(enabled)
	}
}

// Len is the number of live checkers
func (r *Registry) Len() int {
	return len(r.checkers)
}

// Tracks lists the known track IDs in ascending order
func (r *Registry) Tracks() []int {
	ids := make([]int, 0, len(r.checkers))
	for id := range r.checkers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (r *Registry) checker(track int) *Checker {
	if c, ok := r.checkers[track]; ok {
		return c
	}
	c := NewChecker(r.policy, r.opts...)
	c.log = c.log.WithField("track", track)
	c.SetVideoMode(r.video)
	r.checkers[track] = c
	return c
}
