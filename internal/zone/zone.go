package zone

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roadlens/roadlens/internal/geo"
)

// Zone is a polygonal detection zone: a lane's pixel/WGS84 footprint,
// its homography, skeleton, optional virtual line, live occupancy, and
// rolling per-class statistics.
type Zone struct {
	ID            string
	PixelVertices [4]geo.Pt
	WGS84Vertices [4]geo.LatLon
	HasWGS84      bool
	Mercator      [4]geo.Meters
	Color         string
	LaneNumber    int
	LaneDirection string

	Homography *geo.Homography
	Skeleton   geo.Skeleton
	Line       *VirtualLine

	// IllConditioned is set when the homography could not be fit; speed
	// and projection outputs degrade to -1 for this zone.
	IllConditioned bool

	mu         sync.Mutex
	occupancy  map[string]struct{}
	shortTerm  map[string]shortTermEntry
	accum      map[string]*classAccumulator
	totalAccum classAccumulator
	headway    headwayAccumulator
	lastWindow Stats
}

type shortTermEntry struct {
	class    string
	speedKmh float64
}

// Spec is the input used to create or update a zone.
type Spec struct {
	PixelVertices [4]geo.Pt
	WGS84Vertices *[4]geo.LatLon
	Color         string
	LaneNumber    int
	LaneDirection string
	Line          *VirtualLine
}

// New constructs a zone from a Spec, assigning it a fresh UUID. Fewer
// than 4 vertices is a construction-time error, enforced by the [4]Pt
// array type itself; HomographyIllConditioned degrades speed output
// rather than failing construction.
func New(spec Spec) (*Zone, error) {
	z := &Zone{
		ID:            uuid.New().String(),
		Color:         spec.Color,
		LaneNumber:    spec.LaneNumber,
		LaneDirection: spec.LaneDirection,
		Line:          spec.Line,
		occupancy:     make(map[string]struct{}),
		shortTerm:     make(map[string]shortTermEntry),
		accum:         make(map[string]*classAccumulator),
	}
	z.applyGeometry(spec.PixelVertices, spec.WGS84Vertices)
	return z, nil
}

// applyGeometry recomputes the pixel/WGS84 vertices, the derived
// Web-Mercator copy, the skeleton, and the homography in place. Shared by
// New and Update so a geometry-only patch recomputes the same way a
// fresh zone does.
// Caller must hold z.mu if the zone is already published to a store.
func (z *Zone) applyGeometry(pixel [4]geo.Pt, wgs84 *[4]geo.LatLon) {
	z.PixelVertices = pixel
	z.IllConditioned = false

	if wgs84 != nil {
		z.WGS84Vertices = *wgs84
		z.HasWGS84 = true
		for i, ll := range z.WGS84Vertices {
			z.Mercator[i] = geo.ToMercator(ll)
		}
	}

	sk, err := geo.NewSkeleton(pixel, wgs84)
	if err != nil {
		z.IllConditioned = true
	} else {
		z.Skeleton = sk
	}

	if wgs84 != nil {
		var merc [4]geo.Pt
		for i, m := range z.Mercator {
			merc[i] = geo.Pt{X: m.X, Y: m.Y}
		}
		h, err := geo.NewHomography(pixel, merc)
		if err != nil {
			z.IllConditioned = true
		} else {
			z.Homography = h
		}
	}
}

// Patch is a partial zone update: nil fields are left untouched. It
// backs POST /api/mutations/zones/update, which accepts any subset of
// the creatable fields.
type Patch struct {
	PixelVertices *[4]geo.Pt
	WGS84Vertices *[4]geo.LatLon
	Color         *string
	LaneNumber    *int
	LaneDirection *string
	Line          *VirtualLine
}

// Update applies patch in place under the zone's own lock, touching only
// the fields the caller supplied and leaving live occupancy and rolling
// statistics untouched. A patched geometry that would leave fewer than
// 4 distinct pixel vertices is rejected and the zone is left
// unmodified.
func (z *Zone) Update(patch Patch) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	pixel := z.PixelVertices
	if patch.PixelVertices != nil {
		pixel = *patch.PixelVertices
	}
	seen := map[geo.Pt]bool{}
	for _, p := range pixel {
		seen[p] = true
	}
	if len(seen) < 4 {
		return fmt.Errorf("zone: requires 4 distinct pixel vertices")
	}

	wgs84 := z.currentWGS84Locked()
	if patch.WGS84Vertices != nil {
		wgs84 = patch.WGS84Vertices
	}
	if patch.PixelVertices != nil || patch.WGS84Vertices != nil {
		z.applyGeometry(pixel, wgs84)
	}

	if patch.Color != nil {
		z.Color = *patch.Color
	}
	if patch.LaneNumber != nil {
		z.LaneNumber = *patch.LaneNumber
	}
	if patch.LaneDirection != nil {
		z.LaneDirection = *patch.LaneDirection
	}
	if patch.Line != nil {
		z.Line = patch.Line
	}
	return nil
}

// currentWGS84Locked returns the zone's current WGS84 vertices, or nil if
// it has no spatial mapping. Caller must hold z.mu.
func (z *Zone) currentWGS84Locked() *[4]geo.LatLon {
	if !z.HasWGS84 {
		return nil
	}
	v := z.WGS84Vertices
	return &v
}

// Polygon returns the zone's pixel-plane polygon.
func (z *Zone) Polygon() Polygon {
	return Polygon(z.PixelVertices[:])
}

// ContainsPoint reports whether a pixel-plane point lies inside the zone.
func (z *Zone) ContainsPoint(p geo.Pt) bool {
	return z.Polygon().ContainsPoint(p)
}

// Transition computes entering/leaving for the move from `from` to `to`.
func (z *Zone) Transition(from, to geo.Pt) (entered, left bool) {
	wasIn := z.ContainsPoint(from)
	isIn := z.ContainsPoint(to)
	entered = !wasIn && isIn
	left = wasIn && !isIn
	return
}

// Enters reports whether a lone point (a track with a single position)
// should be treated as entering the zone, used only for zone
// initialization.
func (z *Zone) Enters(p geo.Pt) bool {
	return z.ContainsPoint(p)
}

// ProjectOntoSkeleton projects a pixel point into the zone's
// along-lane reference frame.
func (z *Zone) ProjectOntoSkeleton(p geo.Pt) geo.Pt {
	return z.Skeleton.Project(p)
}

// PixelsPerMeter returns the zone's scale factor, or 0 when unavailable
// or ill-conditioned.
func (z *Zone) PixelsPerMeter() float64 {
	if z.IllConditioned {
		return 0
	}
	return z.Skeleton.PixelsPerMeter
}

// Enter records an object entering the zone's live occupancy.
func (z *Zone) Enter(objectID string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.occupancy[objectID] = struct{}{}
}

// Leave removes an object from the zone's live occupancy.
func (z *Zone) Leave(objectID string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	delete(z.occupancy, objectID)
}

// Occupancy returns a snapshot of currently-contained object ids.
func (z *Zone) Occupancy() []string {
	z.mu.Lock()
	defer z.mu.Unlock()
	out := make([]string, 0, len(z.occupancy))
	for id := range z.occupancy {
		out = append(out, id)
	}
	return out
}

// OccupancyCount returns the number of distinct contained objects.
func (z *Zone) OccupancyCount() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.occupancy)
}

// RegisterOrUpdate upserts an object's class/instantaneous speed into
// the zone's short-term map.
func (z *Zone) RegisterOrUpdate(objectID, class string, instantSpeedKmh float64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.shortTerm[objectID] = shortTermEntry{class: class, speedKmh: instantSpeedKmh}
}

// RegisterCrossing records a virtual-line crossing event's timestamp for
// headway computation.
func (z *Zone) RegisterCrossing(t time.Time) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.headway.record(t)
}

// CheckCrossing reports whether the move from `from` to `to` is a
// counted virtual-line crossing; returns false if the zone has no line.
func (z *Zone) CheckCrossing(from, to geo.Pt) bool {
	if z.Line == nil {
		return false
	}
	return z.Line.Crosses(from, to)
}

// FinalizeWindow folds the short-term map into the per-class
// accumulators, snapshots the result as the current window's stats, and
// resets for the next window, all under the zone's own lock. The rollup
// worker calls it for each zone after SharedStore.AdvanceWindow has
// returned, so the store's lock is not held here and the pass over all
// zones is not atomic with respect to concurrent zone-set mutations.
func (z *Zone) FinalizeWindow(periodStart, periodEnd time.Time) Stats {
	z.mu.Lock()
	defer z.mu.Unlock()

	for _, entry := range z.shortTerm {
		acc, ok := z.accum[entry.class]
		if !ok {
			acc = &classAccumulator{}
			z.accum[entry.class] = acc
		}
		acc.observe(entry.speedKmh)
		z.totalAccum.observe(entry.speedKmh)
	}

	perClass := make(map[string]ClassStats, len(z.accum))
	for class, acc := range z.accum {
		perClass[class] = acc.snapshot()
	}

	stats := Stats{
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		PerClass:      perClass,
		TotalCount:    z.totalAccum.n,
		TotalAvgSpeed: z.totalAccum.snapshot().AvgSpeedKmh,
		AvgHeadwaySec: z.headway.snapshot(),
	}

	z.lastWindow = stats

	z.shortTerm = make(map[string]shortTermEntry)
	z.accum = make(map[string]*classAccumulator)
	z.totalAccum = classAccumulator{}
	z.headway = headwayAccumulator{}

	return stats
}

// CurrentWindowStats returns the most recently finalized window's
// statistics.
func (z *Zone) CurrentWindowStats() Stats {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.lastWindow
}

// Validate reports an error if the zone's geometry would be invalid to
// create or update: fewer than 4 distinct vertices are rejected
// (coincident virtual-line endpoints are rejected by NewVirtualLine).
func Validate(spec Spec) error {
	seen := map[geo.Pt]bool{}
	for _, p := range spec.PixelVertices {
		seen[p] = true
	}
	if len(seen) < 4 {
		return fmt.Errorf("zone: requires 4 distinct pixel vertices")
	}
	return nil
}
