// Package tracking maintains per-face identity across video frames. Tracks
// are anchored once from user-drawn seed regions on a key frame and then
// followed through subsequent frames by greedy IOU matching with a
// centroid-distance fallback for fast motion.
package tracking

import (
	"sort"
	"sync"

	"github.com/keggin-CHN/Magic-Mirror/internal/geometry"
)

const (
	// matchIOUGate is the minimum overlap for an IOU candidate pair.
	matchIOUGate = 0.05
	// fallbackRadiusFactor bounds the centroid fallback by the track box
	// diagonal, so a vanished face cannot latch onto an unrelated one.
	fallbackRadiusFactor = 0.65
	// missedLimit is how many consecutive unmatched frames a track
	// survives before it is dropped. Dropped identities never resume.
	missedLimit = 45
)

// Seed is a user-selected region binding a face source to a location on
// the key frame.
type Seed struct {
	Box          geometry.Box
	FaceSourceID string
}

// Track follows one seeded identity across frames.
type Track struct {
	ID           uint32
	FaceSourceID string
	Box          geometry.Box
	Missed       uint32
}

// Match pairs a live track with a detection index for the current frame.
type Match struct {
	TrackID      uint32
	FaceSourceID string
	Detection    int
}

// Tracker holds the live track set for one job. All mutation happens
// inside Observe under a single mutex; callers never see intermediate
// state.
type Tracker struct {
	mu     sync.Mutex
	tracks map[uint32]*Track
}

// NewTracker anchors one track per seed against the key-frame detections.
// Seeds are processed in input order; each seed claims the unused
// detection with the highest IOU against its box, falling back to the
// unused detection nearest by center distance when nothing overlaps.
// Seeds that find no candidate are dropped. The returned tracker may be
// empty; callers decide whether that is fatal.
func NewTracker(seeds []Seed, detections []geometry.Box) *Tracker {
	tracks := make(map[uint32]*Track)
	used := make(map[int]bool)
	var nextID uint32 = 1

	for _, seed := range seeds {
		best := -1
		bestIOU := 0.0
		for i, det := range detections {
			if used[i] {
				continue
			}
			if iou := geometry.IOU(seed.Box, det); iou > bestIOU {
				bestIOU = iou
				best = i
			}
		}
		if best < 0 {
			bestDist := -1.0
			for i, det := range detections {
				if used[i] {
					continue
				}
				d := geometry.CenterDistance(seed.Box, det)
				if bestDist < 0 || d < bestDist {
					bestDist = d
					best = i
				}
			}
		}
		if best < 0 {
			continue
		}
		used[best] = true
		tracks[nextID] = &Track{
			ID:           nextID,
			FaceSourceID: seed.FaceSourceID,
			Box:          detections[best],
		}
		nextID++
	}

	return &Tracker{tracks: tracks}
}

// Len reports the number of live tracks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Snapshot returns a copy of the live tracks, for diagnostics.
func (t *Tracker) Snapshot() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Observe runs one full matching cycle against the detections of a frame:
// match, update matched boxes, age unmatched tracks and drop the stale
// ones. The whole read-modify-write happens in one critical section so
// concurrent workers never interleave partial updates.
func (t *Tracker) Observe(detections []geometry.Box) []Match {
	t.mu.Lock()
	defer t.mu.Unlock()

	matches := t.match(detections)

	matched := make(map[uint32]bool, len(matches))
	for _, m := range matches {
		tr := t.tracks[m.TrackID]
		tr.Box = detections[m.Detection]
		tr.Missed = 0
		matched[m.TrackID] = true
	}

	for id, tr := range t.tracks {
		if matched[id] {
			continue
		}
		tr.Missed++
		if tr.Missed > missedLimit {
			delete(t.tracks, id)
		}
	}

	return matches
}

type candidate struct {
	iou       float64
	trackID   uint32
	detection int
}

// match performs two-phase greedy bipartite matching. Phase one accepts
// candidate pairs above the IOU gate in descending IOU order. Phase two
// gives every still-unmatched track one centroid-distance fallback bounded
// by fallbackRadiusFactor of its box diagonal. Caller holds the lock.
func (t *Tracker) match(detections []geometry.Box) []Match {
	if len(t.tracks) == 0 || len(detections) == 0 {
		return nil
	}

	trackIDs := make([]uint32, 0, len(t.tracks))
	for id := range t.tracks {
		trackIDs = append(trackIDs, id)
	}
	sort.Slice(trackIDs, func(i, j int) bool { return trackIDs[i] < trackIDs[j] })

	var candidates []candidate
	for _, id := range trackIDs {
		tbox := t.tracks[id].Box
		for di, det := range detections {
			if iou := geometry.IOU(tbox, det); iou > matchIOUGate {
				candidates = append(candidates, candidate{iou, id, di})
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	matchedTracks := make(map[uint32]bool)
	matchedDets := make(map[int]bool)
	var matches []Match

	for _, c := range candidates {
		if matchedTracks[c.trackID] || matchedDets[c.detection] {
			continue
		}
		matchedTracks[c.trackID] = true
		matchedDets[c.detection] = true
		matches = append(matches, Match{
			TrackID:      c.trackID,
			FaceSourceID: t.tracks[c.trackID].FaceSourceID,
			Detection:    c.detection,
		})
	}

	for _, id := range trackIDs {
		if matchedTracks[id] {
			continue
		}
		tbox := t.tracks[id].Box
		best := -1
		bestDist := -1.0
		for di, det := range detections {
			if matchedDets[di] {
				continue
			}
			d := geometry.CenterDistance(tbox, det)
			if bestDist < 0 || d < bestDist {
				bestDist = d
				best = di
			}
		}
		if best < 0 {
			continue
		}
		if bestDist <= tbox.Diagonal()*fallbackRadiusFactor {
			matchedTracks[id] = true
			matchedDets[best] = true
			matches = append(matches, Match{
				TrackID:      id,
				FaceSourceID: t.tracks[id].FaceSourceID,
				Detection:    best,
			})
		}
	}

	return matches
}
