// Package zoneconfig converts between the TOML on-disk lane
// representation (config.RoadLane) and the runtime zone.Zone/zone.Spec
// types, so both the startup bootstrap and the save_toml mutation
// endpoint share one conversion.
package zoneconfig

import (
	"fmt"

	"github.com/roadlens/roadlens/internal/config"
	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/zone"
)

// ToSpec converts a persisted road lane into a zone construction Spec.
func ToSpec(lane config.RoadLane) (zone.Spec, error) {
	var spec zone.Spec
	for i, p := range lane.PixelPoints {
		spec.PixelVertices[i] = geo.Pt{X: p[0], Y: p[1]}
	}

	var wgs84 [4]geo.LatLon
	hasWGS84 := false
	for i, p := range lane.WGS84Points {
		wgs84[i] = geo.LatLon{Lon: p[0], Lat: p[1]}
		if p[0] != 0 || p[1] != 0 {
			hasWGS84 = true
		}
	}
	if hasWGS84 {
		spec.WGS84Vertices = &wgs84
	}

	spec.Color = rgbToHex(lane.ColorRGB)
	spec.LaneNumber = lane.LaneNumber
	spec.LaneDirection = lane.LaneDirection

	if lane.VirtualLine != nil {
		a := geo.Pt{X: lane.VirtualLine.A[0], Y: lane.VirtualLine.A[1]}
		b := geo.Pt{X: lane.VirtualLine.B[0], Y: lane.VirtualLine.B[1]}
		line, err := zone.NewVirtualLine(a, b, zone.LineDirection(lane.VirtualLine.Direction))
		if err != nil {
			return zone.Spec{}, fmt.Errorf("zoneconfig: %w", err)
		}
		spec.Line = line
	}

	if err := zone.Validate(spec); err != nil {
		return zone.Spec{}, err
	}
	return spec, nil
}

// FromZone converts a live zone back into its persisted lane form, used
// by the save_toml endpoint.
func FromZone(z *zone.Zone) config.RoadLane {
	lane := config.RoadLane{
		LaneNumber:    z.LaneNumber,
		LaneDirection: z.LaneDirection,
		ColorRGB:      hexToRGB(z.Color),
	}
	for i, p := range z.PixelVertices {
		lane.PixelPoints[i] = [2]float64{p.X, p.Y}
	}
	if z.HasWGS84 {
		for i, ll := range z.WGS84Vertices {
			lane.WGS84Points[i] = [2]float64{ll.Lon, ll.Lat}
		}
	}
	if z.Line != nil {
		lane.VirtualLine = &config.VirtualLine{
			A:         [2]float64{z.Line.A.X, z.Line.A.Y},
			B:         [2]float64{z.Line.B.X, z.Line.B.Y},
			Direction: string(z.Line.Direction),
		}
	}
	return lane
}

func rgbToHex(rgb [3]int) string {
	return fmt.Sprintf("#%02x%02x%02x", clampByte(rgb[0]), clampByte(rgb[1]), clampByte(rgb[2]))
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func hexToRGB(hex string) [3]int {
	var r, g, b int
	if len(hex) == 7 && hex[0] == '#' {
		_, _ = fmt.Sscanf(hex, "#%02x%02x%02x", &r, &g, &b)
	}
	return [3]int{r, g, b}
}
