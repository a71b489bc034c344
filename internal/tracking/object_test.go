package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/kalmanfilter"
)

func box(cx, cy float64) BoundingBox {
	return BoundingBox{X: cx - 5, Y: cy - 5, W: 10, H: 10}
}

// The constant-acceleration filter fed this sequence should produce
// monotonically non-decreasing, smoothed positions within +-2 of the
// raw input for steps >= 3, and the weighted next-position predictor at
// step 9 should return (18,18)+-1.
func TestKalmanSmoothingScenario(t *testing.T) {
	raw := []float64{0, 1, 2, 4, 6, 9, 11, 16, 20}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obj := New(Detection{Class: "car", Box: box(raw[0], raw[0])}, base, 150, 0.1)

	var lastX, lastY float64
	for i := 1; i < len(raw); i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if err := obj.UpdateWith(Detection{Class: "car", Box: box(raw[i], raw[i])}, ts, 1); err != nil {
			t.Fatalf("UpdateWith step %d: %v", i, err)
		}
		x, y := obj.Filter.Position()
		if i >= 3 {
			if x < lastX-1e-9 || y < lastY-1e-9 {
				t.Errorf("step %d: position (%v,%v) decreased from (%v,%v)", i, x, y, lastX, lastY)
			}
			if diff := x - raw[i]; diff > 2 || diff < -2 {
				t.Errorf("step %d: x=%v too far from raw %v", i, x, raw[i])
			}
		}
		lastX, lastY = x, y
	}

	pred := obj.PredictNextPosition(5)
	if pred.X < 17 || pred.X > 19 || pred.Y < 17 || pred.Y > 19 {
		t.Errorf("PredictNextPosition = %v, want (18,18)+-1", pred)
	}
}

func TestTrackBoundedAndTimestampsNonDecreasing(t *testing.T) {
	base := time.Now()
	obj := New(Detection{Class: "car", Box: box(0, 0)}, base, 3, 1)
	for i := 1; i <= 5; i++ {
		_ = obj.UpdateWith(Detection{Class: "car", Box: box(float64(i), float64(i))}, base.Add(time.Duration(i)*time.Second), 1)
	}
	if obj.Track.Len() != 3 {
		t.Fatalf("track len = %d, want 3 (MaxLen)", obj.Track.Len())
	}
	if len(obj.Track.Positions) != len(obj.Track.Timestamps) {
		t.Fatalf("positions/timestamps length mismatch")
	}
	for i := 1; i < len(obj.Track.Timestamps); i++ {
		if obj.Track.Timestamps[i].Before(obj.Track.Timestamps[i-1]) {
			t.Fatalf("timestamps not non-decreasing at %d", i)
		}
	}
}

func TestUpdateWithFusedCentroidIsConvexCombination(t *testing.T) {
	base := time.Now()
	obj := New(Detection{Class: "car", Box: box(0, 0)}, base, 150, 1)
	priorX, priorY := obj.Filter.Position()

	det := Detection{Class: "car", Box: box(10, 10)}
	if err := obj.UpdateWith(det, base.Add(time.Second), 1); err != nil {
		t.Fatalf("UpdateWith: %v", err)
	}
	fx, fy := obj.Filter.Position()

	if fx < priorX || fx > 10 {
		t.Errorf("fused x=%v not between prior %v and detection 10", fx, priorX)
	}
	if fy < priorY || fy > 10 {
		t.Errorf("fused y=%v not between prior %v and detection 10", fy, priorY)
	}
}

func TestSpeedKmhRequiresTwoPointsAndPositiveScale(t *testing.T) {
	base := time.Now()
	obj := New(Detection{Class: "car", Box: box(0, 0)}, base, 150, 1)

	sk := geo.Skeleton{A: geo.Pt{X: 0, Y: 0}, B: geo.Pt{X: 100, Y: 0}, PixelsPerMeter: 10}
	if got := obj.SpeedKmh(sk); got != -1 {
		t.Fatalf("SpeedKmh with one point = %v, want -1", got)
	}

	_ = obj.UpdateWith(Detection{Class: "car", Box: box(10, 0)}, base.Add(time.Second), 1)
	got := obj.SpeedKmh(sk)
	if got <= 0 {
		t.Fatalf("SpeedKmh = %v, want > 0", got)
	}
}

// UpdateWith on a singular innovation covariance must leave the
// position/box/NoMatchCount bookkeeping to the caller: it returns
// ErrSingularInnovation and touches neither field itself.
func TestUpdateWithSingularInnovationLeavesNoMatchCountToCaller(t *testing.T) {
	base := time.Now()
	obj := New(Detection{Class: "car", Box: box(0, 0)}, base, 150, 1)
	obj.NoMatchCount = 4
	obj.Filter.SetMeasurementNoise(0)
	obj.Filter.ZeroCovariance()

	priorBox := obj.Box
	// dt=0 keeps the process-noise matrix Q at exactly zero too, so P
	// stays the zeroed matrix through Predict and S is exactly singular;
	// any dt>0 would reinject noise via Q and the update would succeed.
	err := obj.UpdateWith(Detection{Class: "car", Box: box(10, 0)}, base.Add(time.Second), 0)
	if !errors.Is(err, kalmanfilter.ErrSingularInnovation) {
		t.Fatalf("UpdateWith with zero covariance: got %v, want ErrSingularInnovation", err)
	}
	if obj.NoMatchCount != 4 {
		t.Errorf("NoMatchCount = %d, want untouched 4 (Tracker.Update increments it)", obj.NoMatchCount)
	}
	if obj.Box != priorBox {
		t.Errorf("Box = %+v, want unchanged %+v", obj.Box, priorBox)
	}
}

func TestSpeedKmhPreservesLastWhenDtZero(t *testing.T) {
	base := time.Now()
	obj := New(Detection{Class: "car", Box: box(0, 0)}, base, 150, 1)
	_ = obj.UpdateWith(Detection{Class: "car", Box: box(10, 0)}, base.Add(time.Second), 1)

	sk := geo.Skeleton{A: geo.Pt{X: 0, Y: 0}, B: geo.Pt{X: 100, Y: 0}, PixelsPerMeter: 10}
	first := obj.SpeedKmh(sk)

	// Append a second update with the same timestamp (dt=0 between track
	// points at the skeleton-projection level): speed must hold, not
	// divide by zero or go stale to a nonsensical value.
	obj.Track.Timestamps[len(obj.Track.Timestamps)-1] = obj.Track.Timestamps[len(obj.Track.Timestamps)-2]
	second := obj.SpeedKmh(sk)
	if second != first {
		t.Errorf("SpeedKmh with dt=0 = %v, want preserved %v", second, first)
	}
}
