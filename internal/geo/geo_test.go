package geo

import "testing"

func almostEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// Known-answer distance between two survey points.
func TestHaversineSanity(t *testing.T) {
	got := Haversine(LatLon{Lon: 6.602018, Lat: 52.036769}, LatLon{Lon: 6.603560, Lat: 52.036730})
	want := 0.10557
	if !almostEqual(got, want, 1e-4) {
		t.Fatalf("Haversine = %v, want %v +/- 1e-4", got, want)
	}
}

func TestMercatorRoundTrip(t *testing.T) {
	for _, lat := range []float64{-84.9, -45, -1, 0, 1, 45, 52.036769, 84.9} {
		y := Lat2Y(lat)
		got := Y2Lat(y)
		if !almostEqual(got, lat, 1e-4) {
			t.Errorf("Y2Lat(Lat2Y(%v)) = %v, want within 1e-4", lat, got)
		}
	}
}

func TestLonRoundTrip(t *testing.T) {
	for _, lon := range []float64{-179, -6.6, 0, 6.603638, 179} {
		x := Lon2X(lon)
		got := X2Lon(x)
		if !almostEqual(got, lon, 1e-6) {
			t.Errorf("X2Lon(Lon2X(%v)) = %v, want within 1e-6", lon, got)
		}
	}
}

// Calibration correspondences must project back onto themselves.
func TestHomographyCalibration(t *testing.T) {
	src := [4]Pt{
		{X: 1200, Y: 278},
		{X: 87, Y: 328},
		{X: 36, Y: 583},
		{X: 1205, Y: 698},
	}
	dstLL := [4]LatLon{
		{Lon: 6.602018, Lat: 52.036769},
		{Lon: 6.603227, Lat: 52.036181},
		{Lon: 6.603638, Lat: 52.036558},
		{Lon: 6.603560, Lat: 52.036730},
	}
	var dst [4]Pt
	for i, ll := range dstLL {
		dst[i] = Pt{X: ll.Lon, Y: ll.Lat}
	}

	h, err := NewHomography(src, dst)
	if err != nil {
		t.Fatalf("NewHomography: %v", err)
	}

	for i := 0; i < 4; i++ {
		got, err := h.Apply(src[i])
		if err != nil {
			t.Fatalf("Apply(%v): %v", src[i], err)
		}
		if !almostEqual(got.X, dst[i].X, 1e-3) || !almostEqual(got.Y, dst[i].Y, 1e-3) {
			t.Errorf("Apply(src[%d]) = %v, want %v within 1e-3", i, got, dst[i])
		}
	}
}

func TestHomographyIllConditioned(t *testing.T) {
	// Degenerate: all four source points collinear, so no perspective
	// transform is determined and w collapses toward zero everywhere.
	src := [4]Pt{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}}
	dst := [4]Pt{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}

	if _, err := NewHomography(src, dst); err == nil {
		t.Fatal("expected error fitting homography from collinear correspondences")
	}
}

func TestSegmentsIntersect(t *testing.T) {
	cases := []struct {
		name           string
		p1, p2, p3, p4 Pt
		want           bool
	}{
		{"crossing", Pt{0, 0}, Pt{4, 4}, Pt{0, 4}, Pt{4, 0}, true},
		{"parallel no touch", Pt{0, 0}, Pt{1, 0}, Pt{0, 1}, Pt{1, 1}, false},
		{"touching endpoint", Pt{0, 0}, Pt{2, 2}, Pt{2, 2}, Pt{4, 0}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := SegmentsIntersect(c.p1, c.p2, c.p3, c.p4); got != c.want {
				t.Errorf("SegmentsIntersect = %v, want %v", got, c.want)
			}
		})
	}
}
