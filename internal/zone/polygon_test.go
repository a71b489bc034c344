package zone

import (
	"testing"

	"github.com/roadlens/roadlens/internal/geo"
)

// Known-answer containment cases.
func TestContainsPointRectangle(t *testing.T) {
	p := Polygon{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 5}, {X: 0, Y: 5}}

	cases := []struct {
		pt   geo.Pt
		want bool
	}{
		{geo.Pt{X: 20, Y: 20}, false},
		{geo.Pt{X: 4, Y: 4}, true},
		{geo.Pt{X: 3, Y: 3}, true},
		{geo.Pt{X: -2, Y: 12}, false},
	}
	for _, c := range cases {
		if got := p.ContainsPoint(c.pt); got != c.want {
			t.Errorf("ContainsPoint(%v) = %v, want %v", c.pt, got, c.want)
		}
	}
}

func TestContainsPointTriangle(t *testing.T) {
	p := Polygon{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 5, Y: 0}}

	cases := []struct {
		pt   geo.Pt
		want bool
	}{
		{geo.Pt{X: 5, Y: 1}, true},
		{geo.Pt{X: 7, Y: 2}, false},
	}
	for _, c := range cases {
		if got := p.ContainsPoint(c.pt); got != c.want {
			t.Errorf("ContainsPoint(%v) = %v, want %v", c.pt, got, c.want)
		}
	}
}

func TestContainsPointDegenerate(t *testing.T) {
	var p Polygon
	if p.ContainsPoint(geo.Pt{X: 0, Y: 0}) {
		t.Fatal("empty polygon should contain nothing")
	}
}
