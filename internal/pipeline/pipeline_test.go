package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/store"
	"github.com/roadlens/roadlens/internal/tracking"
	"github.com/roadlens/roadlens/internal/zone"
)

// scriptedCapture replays a fixed sequence of frame timestamps, then
// returns io.EOF.
type scriptedCapture struct {
	n   int
	cur int
}

func (c *scriptedCapture) Next(ctx context.Context) (Frame, time.Time, error) {
	if c.cur >= c.n {
		return Frame{}, time.Time{}, io.EOF
	}
	t := time.Date(2024, 1, 1, 0, 0, c.cur, 0, time.UTC)
	c.cur++
	return Frame{Cols: 100, Rows: 100}, t, nil
}

// scriptedDetector returns one centroid per call from a fixed path,
// ignoring the frame itself.
type scriptedDetector struct {
	path []geo.Pt
	i    int
}

func (d *scriptedDetector) Detect(ctx context.Context, f Frame, t time.Time) ([]tracking.Detection, error) {
	if d.i >= len(d.path) {
		return nil, nil
	}
	p := d.path[d.i]
	d.i++
	return []tracking.Detection{{
		Class:      "car",
		Confidence: 0.9,
		Box:        tracking.BoundingBox{X: p.X - 2, Y: p.Y - 2, W: 4, H: 4},
	}}, nil
}

func mustZone(t *testing.T) *zone.Zone {
	t.Helper()
	z, err := zone.New(zone.Spec{
		PixelVertices: [4]geo.Pt{{X: 0, Y: 0}, {X: 20, Y: 0}, {X: 20, Y: 20}, {X: 0, Y: 20}},
		LaneNumber:    1,
		LaneDirection: "north",
	})
	if err != nil {
		t.Fatalf("zone.New: %v", err)
	}
	return z
}

// TestPipelineEntersAndLeavesZone drives an object on a path that starts
// outside a zone, crosses through it, and exits, then asserts occupancy
// and short-term registration reflect the dwell.
func TestPipelineEntersAndLeavesZone(t *testing.T) {
	z := mustZone(t)
	st := store.New(false)
	st.AddZone(z)

	path := []geo.Pt{
		{X: -10, Y: 10},
		{X: -2, Y: 10},
		{X: 5, Y: 10},
		{X: 10, Y: 10},
		{X: 15, Y: 10},
		{X: 25, Y: 10},
		{X: 35, Y: 10},
	}

	capt := &scriptedCapture{n: len(path)}
	det := &scriptedDetector{path: path}

	cfg := DefaultConfig()
	cfg.Tracker.MinThresholdDistance = 50
	p := New(capt, det, st, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := z.OccupancyCount(); got != 0 {
		t.Fatalf("expected zone empty after object exited, got occupancy %d", got)
	}

	stats := z.FinalizeWindow(time.Now(), time.Now())
	if stats.TotalCount != 1 {
		t.Fatalf("expected one finalized observation, got %d", stats.TotalCount)
	}
	if _, ok := stats.PerClass["car"]; !ok {
		t.Fatalf("expected car class stats, got %+v", stats.PerClass)
	}
}

// TestPipelineDropsBelowConfidenceThreshold verifies the class/confidence
// filter keeps a low-confidence detection from ever reaching the
// tracker.
func TestPipelineDropsBelowConfidenceThreshold(t *testing.T) {
	st := store.New(false)
	capt := &scriptedCapture{n: 1}
	det := &stubOnceDetector{det: tracking.Detection{Class: "car", Confidence: 0.1, Box: tracking.BoundingBox{X: 0, Y: 0, W: 4, H: 4}}}

	cfg := DefaultConfig()
	cfg.MinConfidence = 0.4
	p := New(capt, det, st, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(p.tracker.Objects()) != 0 {
		t.Fatalf("expected low-confidence detection filtered out, got %d live objects", len(p.tracker.Objects()))
	}
}

type stubOnceDetector struct {
	det  tracking.Detection
	done bool
}

func (d *stubOnceDetector) Detect(ctx context.Context, f Frame, t time.Time) ([]tracking.Detection, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	return []tracking.Detection{d.det}, nil
}

// TestCaptureLoopDropsOldestOnBackpressure verifies the bounded channel
// sheds the oldest queued frame rather than blocking the capture source.
func TestCaptureLoopDropsOldestOnBackpressure(t *testing.T) {
	st := store.New(false)
	capt := &scriptedCapture{n: QueueDepth * 3}
	det := &countingDetector{}

	cfg := DefaultConfig()
	p := New(capt, det, st, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Drive the capture loop directly against an unbuffered-consumption
	// channel so every frame after the first QueueDepth must be dropped
	// or queued, never block.
	frames := make(chan frameMsg, QueueDepth)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		p.captureLoop(context.Background(), frames, errCh)
		close(done)
	}()

	<-done
	if p.Counters.FramesDropped == 0 {
		t.Fatalf("expected some frames dropped under backpressure, got 0")
	}
}

type countingDetector struct{ n int }

func (d *countingDetector) Detect(ctx context.Context, f Frame, t time.Time) ([]tracking.Detection, error) {
	d.n++
	return nil, nil
}

// TestNonMaxSuppressionKeepsHighestConfidence checks NMS collapses
// overlapping same-class boxes down to the highest-confidence survivor.
func TestNonMaxSuppressionKeepsHighestConfidence(t *testing.T) {
	dets := []tracking.Detection{
		{Class: "car", Confidence: 0.5, Box: tracking.BoundingBox{X: 0, Y: 0, W: 10, H: 10}},
		{Class: "car", Confidence: 0.9, Box: tracking.BoundingBox{X: 1, Y: 1, W: 10, H: 10}},
		{Class: "car", Confidence: 0.95, Box: tracking.BoundingBox{X: 50, Y: 50, W: 10, H: 10}},
	}
	out := nonMaxSuppress(dets, 0.3)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving boxes, got %d: %v", len(out), out)
	}
	var sawOverlap bool
	for _, d := range out {
		if d.Box.X == 1 {
			sawOverlap = true
		}
		if d.Box.X == 0 {
			t.Fatalf("expected lower-confidence overlapping box suppressed")
		}
	}
	if !sawOverlap {
		t.Fatalf("expected the higher-confidence overlapping box to survive")
	}
}
