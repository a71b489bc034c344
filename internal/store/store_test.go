package store

import (
	"testing"
	"time"

	"github.com/roadlens/roadlens/internal/geo"
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

func TestReplaceAllRejectsEmptySet(t *testing.T) {
	s := New(false)
	if err := s.ReplaceAll(nil); err == nil {
		t.Fatal("expected error replacing with empty zone set")
	}
}

func TestReplaceAllSwapsAtomically(t *testing.T) {
	s := New(false)
	z1 := mustZone(t)
	s.AddZone(z1)

	z2 := mustZone(t)
	if err := s.ReplaceAll([]*zone.Zone{z2}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	if _, err := s.Zone(z1.ID); err == nil {
		t.Fatal("expected old zone to be gone after replace_all")
	}
	if _, err := s.Zone(z2.ID); err != nil {
		t.Fatalf("expected new zone present: %v", err)
	}
}

func TestRemoveUnknownZoneFails(t *testing.T) {
	s := New(false)
	if err := s.RemoveZone("missing"); err != ErrZoneNotFound {
		t.Fatalf("RemoveZone = %v, want ErrZoneNotFound", err)
	}
}

func TestAdvanceWindowIsContiguous(t *testing.T) {
	s := New(false)
	start0, end0 := s.Window()
	if !start0.Equal(end0) {
		t.Fatalf("expected initial window to be a point in time")
	}

	first := end0.Add(time.Second)
	gotStart, gotEnd := s.AdvanceWindow(first)
	if !gotStart.Equal(start0) || !gotEnd.Equal(first) {
		t.Fatalf("first AdvanceWindow = (%v,%v), want (%v,%v)", gotStart, gotEnd, start0, first)
	}

	second := first.Add(time.Second)
	gotStart2, gotEnd2 := s.AdvanceWindow(second)
	if !gotStart2.Equal(first) {
		t.Fatalf("period_start_{i+1} = %v, want period_end_i = %v", gotStart2, first)
	}
	if !gotEnd2.Equal(second) {
		t.Fatalf("period_end = %v, want %v", gotEnd2, second)
	}
}
