package tracking

import (
	"errors"
	"log/slog"
	"time"

	"github.com/roadlens/roadlens/internal/kalmanfilter"
)

// Config bundles the association/track-lifecycle knobs sourced from
// config.TrackingConfig.
type Config struct {
	MaxNoMatch           int
	MaxTrackLength       int
	MinTrackAge          int
	MinThresholdDistance float64
	NoiseFactor          float64
}

// DefaultConfig returns the standard track-lifecycle values.
func DefaultConfig() Config {
	return Config{
		MaxNoMatch:           15,
		MaxTrackLength:       150,
		MinTrackAge:          5,
		MinThresholdDistance: 20,
		NoiseFactor:          1,
	}
}

// Tracker owns the live set of TrackedObjects for one pipeline. It is
// exclusively accessed by the pipeline thread and is not safe for
// concurrent use.
type Tracker struct {
	cfg        Config
	associator Associator
	objects    map[string]*TrackedObject
	lastFrame  time.Time
	log        *slog.Logger
}

// NewTracker creates a tracker using the given association strategy.
func NewTracker(associator Associator, cfg Config) *Tracker {
	return &Tracker{
		cfg:        cfg,
		associator: associator,
		objects:    make(map[string]*TrackedObject),
		log:        slog.Default(),
	}
}

// SetLogger overrides the tracker's logger, used to report per-object
// kalmanfilter.ErrSingularInnovation events.
func (tr *Tracker) SetLogger(log *slog.Logger) {
	if log != nil {
		tr.log = log
	}
}

// Objects returns the live tracked-object set (not a copy; callers must
// not mutate the map from another goroutine).
func (tr *Tracker) Objects() map[string]*TrackedObject {
	return tr.objects
}

// UpdateResult reports what Update did this frame, for the pipeline to
// react to.
type UpdateResult struct {
	Born    []*TrackedObject
	Updated []*TrackedObject
	Evicted []*TrackedObject
}

// Update runs one frame through the association strategy, fuses matched
// detections, creates tracks for unmatched detections, and evicts tracks
// whose NoMatchCount exceeds MaxNoMatch.
//
// A kalmanfilter.ErrSingularInnovation on an individual object's update is
// logged and treated as if the object went unmatched this frame: the
// track is preserved with its prior position and its NoMatchCount is
// incremented below, same as any other no-match.
func (tr *Tracker) Update(detections []Detection, t time.Time) UpdateResult {
	dt := 0.0
	if !tr.lastFrame.IsZero() {
		dt = t.Sub(tr.lastFrame).Seconds()
	}
	tr.lastFrame = t

	live := make([]*TrackedObject, 0, len(tr.objects))
	for _, o := range tr.objects {
		live = append(live, o)
	}

	matches := tr.associator.Match(detections, live)

	var result UpdateResult
	matchedTrackIDs := make(map[string]bool, len(matches))

	for di := range detections {
		trackID, ok := matches[di]
		if !ok {
			continue
		}
		detections[di].TrackID = trackID

		obj := tr.objects[trackID]
		if err := obj.UpdateWith(detections[di], t, dt); err != nil {
			if errors.Is(err, kalmanfilter.ErrSingularInnovation) {
				tr.log.Warn("singular innovation covariance, treating as unmatched", "track_id", trackID, "error", err)
			}
			continue
		}
		matchedTrackIDs[trackID] = true
		result.Updated = append(result.Updated, obj)
	}

	for di := range detections {
		if detections[di].TrackID != "" {
			continue
		}
		obj := New(detections[di], t, tr.cfg.MaxTrackLength, tr.cfg.NoiseFactor)
		detections[di].TrackID = obj.ID
		tr.objects[obj.ID] = obj
		matchedTrackIDs[obj.ID] = true
		result.Born = append(result.Born, obj)
	}

	for id, obj := range tr.objects {
		if matchedTrackIDs[id] {
			continue
		}
		obj.NoMatchCount++
		if obj.NoMatchCount > tr.cfg.MaxNoMatch {
			result.Evicted = append(result.Evicted, obj)
			delete(tr.objects, id)
		}
	}

	return result
}

// NewAssociator builds the configured association strategy by engine
// name (config.TrackingConfig.Engine): "centroid" (default), "iou", or
// "bytetrack" (two-stage).
func NewAssociator(engine string, cfg Config, iouThreshold, highThresh, lowThresh float64) Associator {
	switch engine {
	case "iou":
		return IoUAssociator{Threshold: iouThreshold}
	case "bytetrack":
		return TwoStageAssociator{High: float32(highThresh), Low: float32(lowThresh), IoUThreshold: iouThreshold}
	default:
		return CentroidAssociator{MinThresholdDistance: cfg.MinThresholdDistance, MaxNoMatch: cfg.MaxNoMatch}
	}
}
