package geo

import "testing"

func TestSkeletonProjectClamps(t *testing.T) {
	sk := Skeleton{A: Pt{X: 0, Y: 0}, B: Pt{X: 10, Y: 0}}

	cases := []struct {
		p    Pt
		want Pt
	}{
		{Pt{X: 5, Y: 3}, Pt{X: 5, Y: 0}},
		{Pt{X: -5, Y: 0}, Pt{X: 0, Y: 0}},
		{Pt{X: 15, Y: 0}, Pt{X: 10, Y: 0}},
	}
	for _, c := range cases {
		got := sk.Project(c.p)
		if !almostEqual(got.X, c.want.X, 1e-9) || !almostEqual(got.Y, c.want.Y, 1e-9) {
			t.Errorf("Project(%v) = %v, want %v", c.p, got, c.want)
		}
	}
}

func TestNewSkeletonPixelsPerMeter(t *testing.T) {
	pixelQuad := [4]Pt{{X: 1200, Y: 278}, {X: 87, Y: 328}, {X: 36, Y: 583}, {X: 1205, Y: 698}}
	wgs84Quad := [4]LatLon{
		{Lon: 6.602018, Lat: 52.036769},
		{Lon: 6.603227, Lat: 52.036181},
		{Lon: 6.603638, Lat: 52.036558},
		{Lon: 6.603560, Lat: 52.036730},
	}

	sk, err := NewSkeleton(pixelQuad, &wgs84Quad)
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	if sk.PixelsPerMeter <= 0 {
		t.Fatalf("PixelsPerMeter = %v, want > 0", sk.PixelsPerMeter)
	}
}

func TestNewSkeletonWithoutWGS84(t *testing.T) {
	pixelQuad := [4]Pt{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
	sk, err := NewSkeleton(pixelQuad, nil)
	if err != nil {
		t.Fatalf("NewSkeleton: %v", err)
	}
	if sk.PixelsPerMeter != 0 {
		t.Fatalf("PixelsPerMeter = %v, want 0 without WGS84 mapping", sk.PixelsPerMeter)
	}
}
