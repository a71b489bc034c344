package zone

import (
	"fmt"

	"github.com/roadlens/roadlens/internal/geo"
)

// EPSILON is the tolerance below which a virtual-line side value is
// treated as "on the line" rather than strictly left or right.
const EPSILON = 1e-9

// LineDirection selects which signed-side transition a virtual line
// counts as a crossing.
type LineDirection string

const (
	// DirectionLRTB counts a +  -> - transition.
	DirectionLRTB LineDirection = "LRTB"
	// DirectionRLBT counts a -  -> + transition.
	DirectionRLBT LineDirection = "RLBT"
)

// VirtualLine is an oriented pixel-plane segment whose directed
// crossings are counted.
type VirtualLine struct {
	A, B      geo.Pt
	Direction LineDirection
}

// NewVirtualLine validates and constructs a virtual line. Coincident
// endpoints are rejected.
func NewVirtualLine(a, b geo.Pt, dir LineDirection) (*VirtualLine, error) {
	if a == b {
		return nil, fmt.Errorf("zone: virtual line endpoints must be distinct")
	}
	return &VirtualLine{A: a, B: b, Direction: dir}, nil
}

// Side returns the signed area of (A, B, P); sign determines which side
// of the line P lies on.
func (l *VirtualLine) Side(p geo.Pt) float64 {
	return (l.B.X-l.A.X)*(p.Y-l.A.Y) - (l.B.Y-l.A.Y)*(p.X-l.A.X)
}

// IsLeft reports whether p lies strictly on the positive side of the
// line; points within EPSILON of the line are not left.
func (l *VirtualLine) IsLeft(p geo.Pt) bool {
	return l.Side(p) > EPSILON
}

// sign classifies a side value as +1, -1, or 0 ("on", within EPSILON).
func sign(v float64) int {
	switch {
	case v > EPSILON:
		return 1
	case v < -EPSILON:
		return -1
	default:
		return 0
	}
}

// Crosses reports whether the motion from `from` to `to` registers as a
// directed crossing of this line, per the configured direction flag.
// LRTB counts a +1 -> -1 transition; RLBT counts a -1 -> +1 transition.
func (l *VirtualLine) Crosses(from, to geo.Pt) bool {
	s1 := sign(l.Side(from))
	s2 := sign(l.Side(to))
	if s1 == 0 || s2 == 0 || s1 == s2 {
		return false
	}

	switch l.Direction {
	case DirectionLRTB:
		return s1 == 1 && s2 == -1
	case DirectionRLBT:
		return s1 == -1 && s2 == 1
	default:
		return false
	}
}
