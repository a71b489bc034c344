package zone

import (
	"sort"
	"testing"

	"github.com/roadlens/roadlens/internal/geo"
)

func mustZone(t *testing.T, verts [4]geo.Pt) *Zone {
	t.Helper()
	z, err := New(Spec{PixelVertices: verts})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return z
}

func TestGridCandidatesOutsideFrameBounds(t *testing.T) {
	g := NewGrid(32)
	z := mustZone(t, [4]geo.Pt{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}})
	g.Rebuild(100, 100, []*Zone{z})

	if got := g.Candidates(-1, 5); got != nil {
		t.Errorf("Candidates(-1,5) = %v, want nil", got)
	}
	if got := g.Candidates(200, 5); got != nil {
		t.Errorf("Candidates(200,5) = %v, want nil", got)
	}
	if got := g.Candidates(5, 5); len(got) != 1 || got[0] != z.ID {
		t.Errorf("Candidates(5,5) = %v, want [%s]", got, z.ID)
	}
}

func TestGridCandidatesWithNoBuiltFrame(t *testing.T) {
	g := NewGrid(32)
	if got := g.Candidates(1, 1); got != nil {
		t.Errorf("Candidates on unbuilt grid = %v, want nil", got)
	}
}

func TestGridCandidatesMultipleOverlappingZones(t *testing.T) {
	g := NewGrid(32)
	zA := mustZone(t, [4]geo.Pt{{X: 0, Y: 0}, {X: 60, Y: 0}, {X: 60, Y: 60}, {X: 0, Y: 60}})
	zB := mustZone(t, [4]geo.Pt{{X: 10, Y: 10}, {X: 70, Y: 10}, {X: 70, Y: 70}, {X: 10, Y: 70}})
	g.Rebuild(128, 128, []*Zone{zA, zB})

	got := g.CandidatesAt(geo.Pt{X: 40, Y: 40})
	sort.Strings(got)
	want := []string{zA.ID, zB.ID}
	sort.Strings(want)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("CandidatesAt(40,40) = %v, want %v", got, want)
	}
}
