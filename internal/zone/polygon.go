// Package zone implements polygonal detection zones: point-in-polygon
// tests, directed virtual-line crossing, per-class rolling statistics,
// and the O(1) spatial grid index.
package zone

import (
	"github.com/roadlens/roadlens/internal/geo"
)

// farSentinelOffset extends a ray well past any plausible frame width.
const farSentinelOffset = 1e6

// Polygon is an ordered list of pixel-plane vertices.
type Polygon []geo.Pt

// ContainsPoint reports whether pt lies inside the polygon using a
// ray-cast to a far sentinel along +x, counting crossings via robust
// segment-intersection/orientation tests. Points exactly on an edge are
// classified as inside.
func (p Polygon) ContainsPoint(pt geo.Pt) bool {
	if len(p) < 3 {
		return false
	}

	if p.onBoundary(pt) {
		return true
	}

	ray := geo.Pt{X: pt.X + farSentinelOffset, Y: pt.Y}
	count := 0
	n := len(p)
	for i := 0; i < n; i++ {
		a := p[i]
		b := p[(i+1)%n]
		if geo.SegmentsIntersect(pt, ray, a, b) {
			count++
		}
	}
	return count%2 == 1
}

// onBoundary reports whether pt lies exactly on one of the polygon's
// edges.
func (p Polygon) onBoundary(pt geo.Pt) bool {
	n := len(p)
	for i := 0; i < n; i++ {
		a := p[i]
		b := p[(i+1)%n]
		if geo.OrientationOf(a, b, pt) == geo.Collinear && geo.OnSegment(a, pt, b) {
			return true
		}
	}
	return false
}

// BoundingBox returns the polygon's axis-aligned pixel bounding box.
func (p Polygon) BoundingBox() (minX, minY, maxX, maxY float64) {
	if len(p) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY = p[0].X, p[0].Y
	maxX, maxY = p[0].X, p[0].Y
	for _, pt := range p[1:] {
		if pt.X < minX {
			minX = pt.X
		}
		if pt.X > maxX {
			maxX = pt.X
		}
		if pt.Y < minY {
			minY = pt.Y
		}
		if pt.Y > maxY {
			maxY = pt.Y
		}
	}
	return
}
