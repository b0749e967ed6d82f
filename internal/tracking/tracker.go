// Package tracking assigns stable IDs to face boxes across frames.
package tracking

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dudu/livesense/internal/detector"
	"github.com/dudu/livesense/internal/log"
)

const (
	DefaultMinIoU     = 0.3
	DefaultMaxMissing = 5
)

// Track is one face followed across frames
type Track struct {
	ID  int
	Box detector.FaceBox
	// Hits counts frames the track was matched in
	Hits int
	// Missing counts consecutive frames without a match
	Missing int
}

// Tracker greedily matches detections to tracks by IoU. It is not safe for
// concurrent use.
type Tracker struct {
	minIoU     float32
	maxMissing int
	nextID     int
	tracks     []*Track
	log        *logrus.Entry
}

// New creates a tracker. A track unmatched for more than maxMissing
// consecutive frames is dropped.
func New(minIoU float32, maxMissing int) *Tracker {
	return &Tracker{
		minIoU:     minIoU,
		maxMissing: maxMissing,
		nextID:     1,
		log:        log.WithComponent("tracking"),
	}
}

type candidate struct {
	track, box int
	iou        float32
}

// Update matches boxes against live tracks. ids[i] is the track of boxes[i];
// lost lists the tracks dropped in this update.
func (t *Tracker) Update(boxes []detector.FaceBox) (ids []int, lost []int) {
	var cands []candidate
	for ti, tr := range t.tracks {
		for bi, b := range boxes {
			if iou := detector.IoU(tr.Box, b); iou >= t.minIoU {
				cands = append(cands, candidate{track: ti, box: bi, iou: iou})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].iou > cands[j].iou
	})

	ids = make([]int, len(boxes))
	trackUsed := make([]bool, len(t.tracks))
	boxUsed := make([]bool, len(boxes))
	for _, c := range cands {
		if trackUsed[c.track] || boxUsed[c.box] {
			continue
		}
		trackUsed[c.track] = true
		boxUsed[c.box] = true

		tr := t.tracks[c.track]
		tr.Box = boxes[c.box]
		tr.Hits++
		tr.Missing = 0
		ids[c.box] = tr.ID
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.Missing++
			if tr.Missing > t.maxMissing {
				lost = append(lost, tr.ID)
				t.log.WithField("track", tr.ID).Debug("track lost")
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for bi, b := range boxes {
		if boxUsed[bi] {
			continue
		}
		tr := &Track{ID: t.nextID, Box: b, Hits: 1}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		ids[bi] = tr.ID
		t.log.WithField("track", tr.ID).Debug("track created")
	}

	return ids, lost
}

// Tracks returns a copy of the live tracks
func (t *Tracker) Tracks() []Track {
	out := make([]Track, len(t.tracks))
	for i, tr := range t.tracks {
		out[i] = *tr
	}
	return out
}

// Reset drops every track and returns their IDs. IDs are never reused.
func (t *Tracker) Reset() []int {
	ids := make([]int, len(t.tracks))
	for i, tr := range t.tracks {
		ids[i] = tr.ID
	}
	t.tracks = nil
	return ids
}
