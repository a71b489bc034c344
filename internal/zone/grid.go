package zone

import (
	"sync"

	"github.com/roadlens/roadlens/internal/geo"
)

// DefaultCellSize is the uniform grid's default cell size in pixels.
const DefaultCellSize = 32

// Grid is a uniform spatial index over frame pixels, used to narrow
// the set of zones an exact point-in-polygon test must consider. It is
// a hint only: candidates must still be filtered by exact containment
// downstream.
type Grid struct {
	mu       sync.RWMutex
	cellSize int
	width    int
	height   int
	cells    map[cellKey][]string
}

type cellKey struct{ cx, cy int }

// NewGrid creates an empty grid with the given cell size.
func NewGrid(cellSize int) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	return &Grid{cellSize: cellSize, cells: make(map[cellKey][]string)}
}

// Rebuild recomputes the grid for the given frame size and zone set.
// Every cell overlapping a zone's axis-aligned pixel bounding box is
// marked with that zone's id.
func (g *Grid) Rebuild(frameWidth, frameHeight int, zones []*Zone) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.width = frameWidth
	g.height = frameHeight
	g.cells = make(map[cellKey][]string)

	for _, z := range zones {
		minX, minY, maxX, maxY := z.Polygon().BoundingBox()
		c0x, c0y := g.cellIndex(minX, minY)
		c1x, c1y := g.cellIndex(maxX, maxY)
		for cx := c0x; cx <= c1x; cx++ {
			for cy := c0y; cy <= c1y; cy++ {
				key := cellKey{cx, cy}
				g.cells[key] = append(g.cells[key], z.ID)
			}
		}
	}
}

func (g *Grid) cellIndex(x, y float64) (int, int) {
	return int(x) / g.cellSize, int(y) / g.cellSize
}

// Candidates returns the zone ids overlapping the cell containing (x,
// y), or nil if the point falls outside the last-built frame bounds or
// no zone overlaps that cell.
func (g *Grid) Candidates(x, y float64) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.width == 0 || g.height == 0 {
		return nil
	}
	if x < 0 || y < 0 || x >= float64(g.width) || y >= float64(g.height) {
		return nil
	}

	cx, cy := g.cellIndex(x, y)
	return g.cells[cellKey{cx, cy}]
}

// CandidatesAt is a convenience wrapper taking a geo.Pt.
func (g *Grid) CandidatesAt(p geo.Pt) []string {
	return g.Candidates(p.X, p.Y)
}
