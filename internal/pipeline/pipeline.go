// Package pipeline drives the frame-synchronous capture -> detect ->
// associate -> zone-transition loop. A single capture goroutine feeds a
// bounded channel; everything downstream of it runs on one thread,
// which is what lets the Tracker and the zone-mutation side of
// SharedStore stay lock-free with each other.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/store"
	"github.com/roadlens/roadlens/internal/tracking"
	"github.com/roadlens/roadlens/internal/zone"
)

// QueueDepth is the capacity of the frame channel between the capture
// goroutine and the processing loop.
const QueueDepth = 25

// Frame is one decoded video frame handed from Capture to Detector.
type Frame struct {
	Data []byte
	Cols int
	Rows int
}

// Capture produces frames one at a time. Implementations decode from a
// camera, file, or test fixture. Next returns io.EOF when the source is
// exhausted; any other error is treated as a transient decode failure.
type Capture interface {
	Next(ctx context.Context) (Frame, time.Time, error)
}

// Detector runs object detection over a single frame, returning raw
// pixel-space detections before class/confidence filtering or NMS.
type Detector interface {
	Detect(ctx context.Context, frame Frame, t time.Time) ([]tracking.Detection, error)
}

// Config bundles the per-frame filtering and association knobs sourced
// from config.Config.
type Config struct {
	ClassWhitelist []string
	MinConfidence  float64
	NMSThreshold   float64
	Tracker        tracking.Config
	Engine         string
	IOUThreshold   float64
	HighThresh     float64
	LowThresh      float64

	// MaxConsecutiveDecodeFailures bounds how many consecutive non-EOF
	// Capture errors the capture loop tolerates before giving up.
	MaxConsecutiveDecodeFailures int
}

// DefaultConfig returns the standard pipeline knobs.
func DefaultConfig() Config {
	return Config{
		MinConfidence:                0.4,
		NMSThreshold:                 0.45,
		Tracker:                      tracking.DefaultConfig(),
		Engine:                       "centroid",
		IOUThreshold:                 0.3,
		HighThresh:                   0.7,
		LowThresh:                    0.3,
		MaxConsecutiveDecodeFailures: 60,
	}
}

// Counters tracks the operational counters the HTTP surface and logs
// report on: dropped frames under channel backpressure,
// detector errors, and decode failures.
type Counters struct {
	FramesDropped   uint64
	DetectorErrors  uint64
	DecodeFailures  uint64
	FramesProcessed uint64
}

// Pipeline wires one Capture+Detector pair to a SharedStore's zones.
type Pipeline struct {
	capture  Capture
	detector Detector
	store    *store.SharedStore
	cfg      Config
	log      *slog.Logger

	tracker *tracking.Tracker
	grid    *zone.Grid

	// OnFrame, when set, receives every frame as it is dequeued for
	// processing. The MJPEG fan-out hangs off this hook; it must not
	// block.
	OnFrame func(Frame)

	Counters Counters

	frameW, frameH int
}

// New builds a Pipeline. The association engine is selected from
// cfg.Engine via tracking.NewAssociator.
func New(capture Capture, detector Detector, st *store.SharedStore, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	associator := tracking.NewAssociator(cfg.Engine, cfg.Tracker, cfg.IOUThreshold, cfg.HighThresh, cfg.LowThresh)
	tracker := tracking.NewTracker(associator, cfg.Tracker)
	tracker.SetLogger(log.With("component", "tracker"))
	return &Pipeline{
		capture:  capture,
		detector: detector,
		store:    st,
		cfg:      cfg,
		log:      log.With("component", "pipeline"),
		tracker:  tracker,
		grid:     zone.NewGrid(zone.DefaultCellSize),
	}
}

type frameMsg struct {
	frame Frame
	t     time.Time
}

// Run drives the capture loop and the processing loop until ctx is
// canceled, the capture source is exhausted, or decode failures exceed
// MaxConsecutiveDecodeFailures.
func (p *Pipeline) Run(ctx context.Context) error {
	frames := make(chan frameMsg, QueueDepth)
	captureErr := make(chan error, 1)

	go p.captureLoop(ctx, frames, captureErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-captureErr:
			return err
		case msg, ok := <-frames:
			if !ok {
				return nil
			}
			p.processFrame(ctx, msg.frame, msg.t)
		}
	}
}

// captureLoop pulls frames from Capture and pushes them onto the bounded
// channel, dropping the oldest queued frame on overflow rather than
// blocking the capture source.
func (p *Pipeline) captureLoop(ctx context.Context, out chan frameMsg, errCh chan<- error) {
	defer close(out)

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, t, err := p.capture.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveFailures++
			p.Counters.DecodeFailures++
			p.log.Warn("frame decode failed", "error", err, "consecutive", consecutiveFailures)
			if consecutiveFailures >= p.cfg.MaxConsecutiveDecodeFailures {
				errCh <- err
				return
			}
			continue
		}
		consecutiveFailures = 0

		msg := frameMsg{frame: frame, t: t}
		select {
		case out <- msg:
		default:
			select {
			case <-out:
				p.Counters.FramesDropped++
				p.log.Debug("dropped oldest queued frame under backpressure")
			default:
			}
			select {
			case out <- msg:
			default:
				p.Counters.FramesDropped++
			}
		}
	}
}

// processFrame runs one frame through detection, class/confidence
// filtering, NMS, association, and zone-transition bookkeeping.
func (p *Pipeline) processFrame(ctx context.Context, frame Frame, t time.Time) {
	if p.frameW == 0 && p.frameH == 0 && (frame.Cols > 0 || frame.Rows > 0) {
		p.frameW, p.frameH = frame.Cols, frame.Rows
		p.RebuildGrid()
	}

	if p.OnFrame != nil {
		p.OnFrame(frame)
	}

	detections, err := p.detector.Detect(ctx, frame, t)
	if err != nil {
		p.Counters.DetectorErrors++
		p.log.Warn("detector error, skipping frame", "error", err)
		return
	}

	detections = p.filter(detections)
	detections = nonMaxSuppress(detections, p.cfg.NMSThreshold)

	result := p.tracker.Update(detections, t)
	p.Counters.FramesProcessed++

	touched := make([]*tracking.TrackedObject, 0, len(result.Born)+len(result.Updated))
	touched = append(touched, result.Born...)
	touched = append(touched, result.Updated...)

	for _, obj := range touched {
		p.handleZoneMembership(obj, t)
	}

	for _, obj := range result.Evicted {
		if obj.CurrentZoneID != "" {
			p.leaveZone(obj)
		}
	}
}

// filter drops detections below the configured confidence threshold or
// outside the class whitelist (an empty whitelist accepts every class,
// matching config.DefaultFilteredClasses when unset upstream).
func (p *Pipeline) filter(in []tracking.Detection) []tracking.Detection {
	if p.cfg.MinConfidence <= 0 && len(p.cfg.ClassWhitelist) == 0 {
		return in
	}
	allowed := make(map[string]bool, len(p.cfg.ClassWhitelist))
	for _, c := range p.cfg.ClassWhitelist {
		allowed[c] = true
	}
	out := in[:0:0]
	for _, d := range in {
		if float64(d.Confidence) < p.cfg.MinConfidence {
			continue
		}
		if len(allowed) > 0 && !allowed[d.Class] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// handleZoneMembership looks up the zones whose grid cell contains the
// object's centroid, exact-tests containment, and applies entered/left
// transitions plus virtual-line crossing checks.
func (p *Pipeline) handleZoneMembership(obj *tracking.TrackedObject, t time.Time) {
	pos := obj.Centroid()
	candidateIDs := p.grid.CandidatesAt(pos)

	var from geo.Pt
	hasFrom := false
	if f, _, _, _, ok := obj.Track.Penultimate(); ok {
		from = f
		hasFrom = true
	}

	inZone := false
	for _, id := range candidateIDs {
		z, err := p.store.Zone(id)
		if err != nil {
			continue
		}

		var entered, left bool
		if hasFrom {
			entered, left = z.Transition(from, pos)
		} else {
			entered = z.Enters(pos)
		}

		contained := z.ContainsPoint(pos)
		if contained {
			inZone = true
		}

		switch {
		case entered:
			obj.ResetSpatial()
			z.Enter(obj.ID)
			obj.CurrentZoneID = z.ID
			obj.UpdateSpatial(z, t)
			z.RegisterOrUpdate(obj.ID, obj.Class, obj.Spatial.LastSpeedKmh)
		case contained && obj.CurrentZoneID == z.ID:
			obj.UpdateSpatial(z, t)
			z.RegisterOrUpdate(obj.ID, obj.Class, obj.Spatial.LastSpeedKmh)
		case left && obj.CurrentZoneID == z.ID:
			z.RegisterOrUpdate(obj.ID, obj.Class, obj.Spatial.LastSpeedKmh)
			z.Leave(obj.ID)
			obj.CurrentZoneID = ""
			obj.ResetSpatial()
		}

		if hasFrom && z.CheckCrossing(from, pos) {
			z.RegisterCrossing(t)
		}
	}

	if !inZone && obj.CurrentZoneID != "" {
		p.leaveZone(obj)
	}
}

// leaveZone folds an object's final speed observation into its zone and
// clears its membership, used when an object is evicted or its track
// moves out of every candidate cell in one step.
func (p *Pipeline) leaveZone(obj *tracking.TrackedObject) {
	z, err := p.store.Zone(obj.CurrentZoneID)
	if err == nil {
		z.RegisterOrUpdate(obj.ID, obj.Class, obj.Spatial.LastSpeedKmh)
		z.Leave(obj.ID)
	}
	obj.CurrentZoneID = ""
	obj.ResetSpatial()
}

// RebuildGrid recomputes the spatial index from the store's current
// zone set, called on the first frame and whenever a zone mutation
// endpoint changes the zone set.
func (p *Pipeline) RebuildGrid() {
	p.grid.Rebuild(p.frameW, p.frameH, p.store.Zones())
}

// NullDetector is a Detector that finds nothing. Neural-network
// inference is out of scope for this engine; production
// deployments wire a real Detector collaborator in front of an external
// inference service, and NullDetector exists so the pipeline still
// compiles and runs end to end without one.
type NullDetector struct{}

// Detect always returns an empty detection set.
func (NullDetector) Detect(ctx context.Context, frame Frame, t time.Time) ([]tracking.Detection, error) {
	return nil, nil
}

// nonMaxSuppress runs greedy, per-class non-max suppression, keeping the
// highest-confidence box in each overlapping cluster.
func nonMaxSuppress(in []tracking.Detection, threshold float64) []tracking.Detection {
	if threshold <= 0 {
		return in
	}

	byClass := make(map[string][]tracking.Detection)
	for _, d := range in {
		byClass[d.Class] = append(byClass[d.Class], d)
	}

	out := make([]tracking.Detection, 0, len(in))
	for _, dets := range byClass {
		sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
		kept := make([]tracking.Detection, 0, len(dets))
		for _, d := range dets {
			suppressed := false
			for _, k := range kept {
				if d.Box.IoU(k.Box) > threshold {
					suppressed = true
					break
				}
			}
			if !suppressed {
				kept = append(kept, d)
			}
		}
		out = append(out, kept...)
	}
	return out
}
