package zone

import (
	"testing"

	"github.com/roadlens/roadlens/internal/geo"
)

// Known-answer side-of-line cases.
func TestVirtualLineIsLeft(t *testing.T) {
	line, err := NewVirtualLine(geo.Pt{X: 4, Y: 3}, geo.Pt{X: 5, Y: 10}, DirectionLRTB)
	if err != nil {
		t.Fatalf("NewVirtualLine: %v", err)
	}

	cases := []struct {
		p    geo.Pt
		want bool
	}{
		{geo.Pt{X: 3, Y: 8}, true},
		{geo.Pt{X: 5, Y: 10}, false},
		{geo.Pt{X: 4, Y: 3}, false},
		{geo.Pt{X: -5, Y: 8}, true},
		{geo.Pt{X: 6, Y: -4}, false},
	}
	for _, c := range cases {
		if got := line.IsLeft(c.p); got != c.want {
			t.Errorf("IsLeft(%v) = %v, want %v", c.p, got, c.want)
		}
	}
}

func TestNewVirtualLineRejectsCoincidentEndpoints(t *testing.T) {
	if _, err := NewVirtualLine(geo.Pt{X: 1, Y: 1}, geo.Pt{X: 1, Y: 1}, DirectionLRTB); err == nil {
		t.Fatal("expected error for coincident endpoints")
	}
}

func TestVirtualLineCrossesRespectsDirection(t *testing.T) {
	line, _ := NewVirtualLine(geo.Pt{X: 0, Y: 0}, geo.Pt{X: 0, Y: 10}, DirectionLRTB)

	// side(P) = (0)(Py-0) - (10)(Px-0) = -10*Px; positive side is Px<0 (left).
	leftPt := geo.Pt{X: -1, Y: 5}
	rightPt := geo.Pt{X: 1, Y: 5}

	if !line.Crosses(leftPt, rightPt) {
		t.Error("expected LRTB to count a left->right crossing")
	}
	if line.Crosses(rightPt, leftPt) {
		t.Error("expected LRTB not to count a right->left crossing")
	}

	rlbt, _ := NewVirtualLine(geo.Pt{X: 0, Y: 0}, geo.Pt{X: 0, Y: 10}, DirectionRLBT)
	if !rlbt.Crosses(rightPt, leftPt) {
		t.Error("expected RLBT to count a right->left crossing")
	}
}
