package geo

import (
	"fmt"
	"math"
)

// Skeleton is a line segment through a zone connecting the midpoints of
// two opposite polygon sides; it is the 1-D reference frame speed is
// measured along.
type Skeleton struct {
	A, B           Pt
	LengthPixels   float64
	LengthMeters   float64 // 0 when no WGS84 mapping is available
	PixelsPerMeter float64 // 0 when LengthMeters is 0
}

// midpoint returns the midpoint of segment pq.
func midpoint(p, q Pt) Pt {
	return Pt{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// NewSkeleton builds the skeleton of a 4-vertex zone: the endpoints are
// the midpoints of sides {0,1} and {2,3}. When wgs84 is non-nil,
// pixels-per-meter is derived from the great-circle distance between
// the corresponding WGS84 midpoints.
func NewSkeleton(pixelQuad [4]Pt, wgs84Quad *[4]LatLon) (Skeleton, error) {
	a := midpoint(pixelQuad[0], pixelQuad[1])
	b := midpoint(pixelQuad[2], pixelQuad[3])

	lengthPixels := a.Distance(b)

	sk := Skeleton{A: a, B: b, LengthPixels: lengthPixels}

	if wgs84Quad != nil {
		geoA := LatLon{
			Lon: (wgs84Quad[0].Lon + wgs84Quad[1].Lon) / 2,
			Lat: (wgs84Quad[0].Lat + wgs84Quad[1].Lat) / 2,
		}
		geoB := LatLon{
			Lon: (wgs84Quad[2].Lon + wgs84Quad[3].Lon) / 2,
			Lat: (wgs84Quad[2].Lat + wgs84Quad[3].Lat) / 2,
		}
		lengthMeters := HaversineMeters(geoA, geoB)
		if lengthMeters <= 0 || lengthPixels <= 0 {
			return Skeleton{}, fmt.Errorf("geo: degenerate skeleton (pixel length %v, meter length %v)", lengthPixels, lengthMeters)
		}
		sk.LengthMeters = lengthMeters
		sk.PixelsPerMeter = lengthPixels / lengthMeters
	}

	return sk, nil
}

// Distance returns the Euclidean distance between two points.
func (p Pt) Distance(q Pt) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Project projects point p onto the skeleton segment, clamping the
// parametric coordinate t to [0, 1].
func (s Skeleton) Project(p Pt) Pt {
	abx := s.B.X - s.A.X
	aby := s.B.Y - s.A.Y
	denom := abx*abx + aby*aby
	if denom == 0 {
		return s.A
	}

	apx := p.X - s.A.X
	apy := p.Y - s.A.Y
	t := (apx*abx + apy*aby) / denom

	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	return Pt{X: s.A.X + t*abx, Y: s.A.Y + t*aby}
}
