package rollup

import (
	"testing"
	"time"

	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/store"
	"github.com/roadlens/roadlens/internal/zone"
)

func mustZone(t *testing.T) *zone.Zone {
	t.Helper()
	z, err := zone.New(zone.Spec{
		PixelVertices: [4]geo.Pt{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
		LaneNumber:    1,
		LaneDirection: "north",
	})
	if err != nil {
		t.Fatalf("zone.New: %v", err)
	}
	return z
}

// TestTickOnceFinalizesEveryZoneAndFiresOnWindow checks each zone is
// finalized once per tick and the publish hook fires for each.
func TestTickOnceFinalizesEveryZoneAndFiresOnWindow(t *testing.T) {
	st := store.New(false)
	z1, z2 := mustZone(t), mustZone(t)
	st.AddZone(z1)
	st.AddZone(z2)
	z1.RegisterOrUpdate("obj-1", "car", 42)

	var fired []WindowResult
	w := New(st, time.Second, nil)
	w.OnWindow = func(r WindowResult) { fired = append(fired, r) }

	w.TickOnce(time.Now())

	if len(fired) != 2 {
		t.Fatalf("expected 2 window results, got %d", len(fired))
	}
	for _, r := range fired {
		if r.ZoneID == z1.ID && r.Stats.TotalCount != 1 {
			t.Errorf("expected z1 total count 1, got %d", r.Stats.TotalCount)
		}
	}
}

// TestTicksAreContiguous verifies period_start_{i+1} = period_end_i
// across consecutive ticks, even though real time has elapsed between
// them.
func TestTicksAreContiguous(t *testing.T) {
	st := store.New(false)
	w := New(st, time.Second, nil)

	var windows []time.Time
	origStart, _ := st.Window()
	_ = origStart

	first := time.Now()
	w.TickOnce(first)
	s1, e1 := st.Window()
	windows = append(windows, s1, e1)

	second := first.Add(5 * time.Second)
	w.TickOnce(second)
	s2, e2 := st.Window()
	windows = append(windows, s2, e2)

	if !e1.Equal(s2) {
		t.Fatalf("period_start_2 (%v) != period_end_1 (%v)", s2, e1)
	}
	if !e2.Equal(second) {
		t.Fatalf("period_end_2 = %v, want %v", e2, second)
	}
	_ = windows
}

// TestTickRecoversFromPanicInOnWindow ensures a panicking publish hook
// does not crash the worker and the tick is simply logged and dropped.
func TestTickRecoversFromPanicInOnWindow(t *testing.T) {
	st := store.New(false)
	st.AddZone(mustZone(t))
	w := New(st, time.Second, nil)
	w.OnWindow = func(r WindowResult) { panic("boom") }

	w.TickOnce(time.Now())

	if w.TicksSkipped != 1 {
		t.Fatalf("TicksSkipped = %d, want 1", w.TicksSkipped)
	}
}
