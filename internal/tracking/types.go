// Package tracking implements the tracking core: per-object Kalman
// smoothing, the bounded position track, and the three interchangeable
// frame-to-track association strategies.
package tracking

import (
	"time"

	"github.com/roadlens/roadlens/internal/geo"
)

// BoundingBox is an axis-aligned pixel-plane detection box.
type BoundingBox struct {
	X, Y, W, H float64
}

// Center returns the box's centroid.
func (b BoundingBox) Center() geo.Pt {
	return geo.Pt{X: b.X + b.W/2, Y: b.Y + b.H/2}
}

// Diagonal returns the box's diagonal length, used by the centroid
// associator's adaptive acceptance threshold.
func (b BoundingBox) Diagonal() float64 {
	return geo.Pt{X: 0, Y: 0}.Distance(geo.Pt{X: b.W, Y: b.H})
}

// Area returns the box's area.
func (b BoundingBox) Area() float64 {
	return b.W * b.H
}

// Translate returns a copy of b shifted by (dx, dy).
func (b BoundingBox) Translate(dx, dy float64) BoundingBox {
	return BoundingBox{X: b.X + dx, Y: b.Y + dy, W: b.W, H: b.H}
}

// IoU returns the intersection-over-union of two boxes, used by the IoU
// and two-stage associators.
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := max(b.X, other.X)
	y1 := max(b.Y, other.Y)
	x2 := min(b.X+b.W, other.X+other.W)
	y2 := min(b.Y+b.H, other.Y+other.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Detection is one per-frame, per-object observation from the detector
// collaborator. TrackID is written back by the association
// engine once a match (or a new track) is assigned.
type Detection struct {
	Class      string
	Confidence float32
	Box        BoundingBox
	TrackID    string
}

// Track is the bounded, time-ordered position history of one object.
// Appending beyond MaxLen evicts the oldest entry.
type Track struct {
	MaxLen     int
	Positions  []geo.Pt
	Timestamps []time.Time
}

// NewTrack creates an empty track bounded to maxLen points.
func NewTrack(maxLen int) *Track {
	if maxLen <= 0 {
		maxLen = 150
	}
	return &Track{MaxLen: maxLen}
}

// Append adds a position/timestamp pair, evicting the oldest entry if
// the track is already at capacity.
func (tr *Track) Append(p geo.Pt, t time.Time) {
	tr.Positions = append(tr.Positions, p)
	tr.Timestamps = append(tr.Timestamps, t)
	if len(tr.Positions) > tr.MaxLen {
		tr.Positions = tr.Positions[1:]
		tr.Timestamps = tr.Timestamps[1:]
	}
}

// Len returns the number of points currently in the track.
func (tr *Track) Len() int {
	return len(tr.Positions)
}

// Last returns the most recent position and whether the track is
// non-empty.
func (tr *Track) Last() (geo.Pt, time.Time, bool) {
	n := len(tr.Positions)
	if n == 0 {
		return geo.Pt{}, time.Time{}, false
	}
	return tr.Positions[n-1], tr.Timestamps[n-1], true
}

// Penultimate returns the last two positions/timestamps (oldest first)
// and whether the track has at least two points.
func (tr *Track) Penultimate() (from, to geo.Pt, fromT, toT time.Time, ok bool) {
	n := len(tr.Positions)
	if n < 2 {
		return
	}
	return tr.Positions[n-2], tr.Positions[n-1], tr.Timestamps[n-2], tr.Timestamps[n-1], true
}

// SpatialInfo is the per-object projected-frame summary maintained while
// an object is contained in a zone.
type SpatialInfo struct {
	FirstTime        time.Time
	FirstProjectedXY geo.Pt
	LastTime         time.Time
	LastXY           geo.Pt
	LastProjectedXY  geo.Pt
	LastSpeedKmh     float64
	HasFirst         bool
}
