package tracking

import (
	"time"

	"github.com/google/uuid"
	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/kalmanfilter"
	"github.com/roadlens/roadlens/internal/zone"
)

// EPSILON is the minimum elapsed time a speed estimate will be computed
// over; smaller gaps preserve the last known speed instead.
const EPSILON = 1e-6

// TrackedObject is one live tracked vehicle: its smoothed position
// history, Kalman filter, class/confidence, and derived spatial summary.
type TrackedObject struct {
	ID                string
	Class             string
	Confidence        float32
	Box               BoundingBox
	Track             *Track
	Filter            *kalmanfilter.Filter
	NoMatchCount      int
	MaxTrackLength    int
	EstimatedSpeedKmh float64
	Spatial           SpatialInfo

	// CurrentZoneID is the zone this object is currently contained in, or
	// "" if it is not inside any zone. Used by the pipeline to detect
	// zone-membership transitions.
	CurrentZoneID string

	speedMean    float64
	speedSamples int
}

// New creates a tracked object from a first detection, initializing the
// Kalman filter at the detection's centroid with zero derivatives.
func New(det Detection, t time.Time, maxTrackLength int, noiseFactor float64) *TrackedObject {
	c := det.Box.Center()
	track := NewTrack(maxTrackLength)
	track.Append(c, t)

	return &TrackedObject{
		ID:             uuid.New().String(),
		Class:          det.Class,
		Confidence:     det.Confidence,
		Box:            det.Box,
		Track:          track,
		Filter:         kalmanfilter.NewFilter(c.X, c.Y, 0, noiseFactor),
		MaxTrackLength: maxTrackLength,
	}
}

// Centroid returns the object's current bounding-box centroid.
func (o *TrackedObject) Centroid() geo.Pt {
	return o.Box.Center()
}

// IsMature reports whether the track has accumulated at least minAge
// points.
func (o *TrackedObject) IsMature(minAge int) bool {
	return o.Track.Len() >= minAge
}

// PredictNextPosition extrapolates the object's next centroid via a
// weighted linear average of the last min(maxNoMatch, len(track)) deltas,
// weight(i) = (k-i) so more recent deltas dominate. Used only for coarse
// association, never as filter output.
func (o *TrackedObject) PredictNextPosition(maxNoMatch int) geo.Pt {
	n := o.Track.Len()
	if n == 0 {
		return geo.Pt{}
	}
	last := o.Track.Positions[n-1]
	if n < 2 {
		return last
	}

	k := maxNoMatch
	if k > n-1 {
		k = n - 1
	}
	if k < 1 {
		return last
	}

	var sumW, sumDX, sumDY float64
	for i := 0; i < k; i++ {
		// delta i (0 = most recent) between positions [n-1-i-1, n-1-i]
		a := o.Track.Positions[n-2-i]
		b := o.Track.Positions[n-1-i]
		w := float64(k - i)
		sumDX += w * (b.X - a.X)
		sumDY += w * (b.Y - a.Y)
		sumW += w
	}
	if sumW == 0 {
		return last
	}
	return geo.Pt{X: last.X + sumDX/sumW, Y: last.Y + sumDY/sumW}
}

// UpdateWith fuses a matched detection into the object's state: the
// filter predicts then updates on the detection centroid, the filter's
// posterior position becomes the authoritative new position, the
// bounding box is translated by the filter-induced offset, and the
// fused centroid is appended to the track. A
// kalmanfilter.ErrSingularInnovation leaves the object's position and
// box unchanged for this frame; the track is preserved and its caller
// (Tracker.Update) increments NoMatchCount as if the object had gone
// unmatched this frame.
func (o *TrackedObject) UpdateWith(det Detection, t time.Time, dt float64) error {
	c := det.Box.Center()

	o.Filter.SetDt(dt)
	o.Filter.Predict()
	if err := o.Filter.Update(c.X, c.Y); err != nil {
		return err
	}

	fx, fy := o.Filter.Position()
	offsetX, offsetY := fx-c.X, fy-c.Y

	o.Box = det.Box.Translate(offsetX, offsetY)
	o.Class = det.Class
	o.Confidence = det.Confidence
	o.Track.Append(geo.Pt{X: fx, Y: fy}, t)
	o.NoMatchCount = 0
	return nil
}

// SpeedKmh computes the object's instantaneous along-lane speed by
// projecting the last two track points onto the zone's skeleton.
// It returns -1 if fewer than two track points
// exist. When pixels-per-meter is unavailable or dt < EPSILON, the last
// known speed is preserved (position is always updated by the caller
// regardless).
func (o *TrackedObject) SpeedKmh(sk geo.Skeleton) float64 {
	from, to, fromT, toT, ok := o.Track.Penultimate()
	if !ok {
		return -1
	}

	ppm := sk.PixelsPerMeter
	dt := toT.Sub(fromT).Seconds()
	if ppm <= 0 || dt < EPSILON {
		return o.EstimatedSpeedKmh
	}

	pa := sk.Project(from)
	pb := sk.Project(to)
	distPixels := pa.Distance(pb)
	metersPerSec := (distPixels / ppm) / dt
	kmh := metersPerSec * 3.6

	o.speedSamples++
	if o.speedSamples == 1 {
		o.speedMean = kmh
	} else {
		n := float64(o.speedSamples)
		o.speedMean = o.speedMean*(n-1)/n + kmh/n
	}
	o.EstimatedSpeedKmh = kmh
	return kmh
}

// UpdateSpatial refreshes the object's SpatialInfo while it is contained
// in zone z, projecting its current centroid onto the zone's skeleton.
func (o *TrackedObject) UpdateSpatial(z *zone.Zone, t time.Time) {
	pos := o.Centroid()
	projected := z.ProjectOntoSkeleton(pos)

	if !o.Spatial.HasFirst {
		o.Spatial.FirstTime = t
		o.Spatial.FirstProjectedXY = projected
		o.Spatial.HasFirst = true
	}
	o.Spatial.LastTime = t
	o.Spatial.LastXY = pos
	o.Spatial.LastProjectedXY = projected
	o.Spatial.LastSpeedKmh = o.SpeedKmh(z.Skeleton)
}

// ResetSpatial clears the spatial summary, called when the object leaves
// its zone (the next entry starts a fresh first_time/first_projected).
func (o *TrackedObject) ResetSpatial() {
	o.Spatial = SpatialInfo{}
	o.speedSamples = 0
}
