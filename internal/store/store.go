// Package store provides the process-wide SharedStore: the concurrent
// map of zones and the current aggregation window bounds the pipeline,
// rollup worker, and HTTP surface collaborate around.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roadlens/roadlens/internal/zone"
)

// SharedStore is built once from config and handed to the pipeline,
// rollup worker, and HTTP threads; it is never an ambient global.
// Its own lock guards the zone map and window bounds; each zone guards
// its own short-term/occupancy state independently. The canonical lock
// order is Store -> Zone-map -> Per-zone.
type SharedStore struct {
	ID      string
	Verbose bool

	mu          sync.RWMutex
	zones       map[string]*zone.Zone
	periodStart time.Time
	periodEnd   time.Time
}

// New creates an empty store, its window bounds anchored at now.
func New(verbose bool) *SharedStore {
	now := time.Now()
	return &SharedStore{
		ID:          uuid.New().String(),
		Verbose:     verbose,
		zones:       make(map[string]*zone.Zone),
		periodStart: now,
		periodEnd:   now,
	}
}

// ErrZoneNotFound is returned by operations referencing an unknown zone
// id, surfaced by the HTTP API as 424.
var ErrZoneNotFound = fmt.Errorf("store: zone not found")

// AddZone inserts a newly created zone.
func (s *SharedStore) AddZone(z *zone.Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[z.ID] = z
}

// RemoveZone deletes a zone by id.
func (s *SharedStore) RemoveZone(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[id]; !ok {
		return ErrZoneNotFound
	}
	delete(s.zones, id)
	return nil
}

// Zone returns the zone with the given id.
func (s *SharedStore) Zone(id string) (*zone.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	if !ok {
		return nil, ErrZoneNotFound
	}
	return z, nil
}

// Zones returns a snapshot slice of all zones (the slice is a copy; the
// *zone.Zone values themselves are shared and guard their own state).
func (s *SharedStore) Zones() []*zone.Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*zone.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		out = append(out, z)
	}
	return out
}

// ReplaceAll atomically swaps the entire zone set, used by the
// replace_all mutation endpoint. Rejects an empty set.
func (s *SharedStore) ReplaceAll(zones []*zone.Zone) error {
	if len(zones) == 0 {
		return fmt.Errorf("store: replace_all requires at least one zone")
	}
	next := make(map[string]*zone.Zone, len(zones))
	for _, z := range zones {
		next[z.ID] = z
	}
	s.mu.Lock()
	s.zones = next
	s.mu.Unlock()
	return nil
}

// Window returns the current aggregation window bounds.
func (s *SharedStore) Window() (start, end time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.periodStart, s.periodEnd
}

// AdvanceWindow closes the current window at end. It returns the bounds
// to finalize the closing window with (the previous period_start, which
// the previous call set to its own end, and end), then sets both
// period_start and period_end to end, so consecutive closed windows stay
// contiguous and non-overlapping even if the rollup worker oversleeps.
// Between calls, Window reports a zero-length window at the last close.
func (s *SharedStore) AdvanceWindow(end time.Time) (start, closeEnd time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start = s.periodStart
	closeEnd = end
	s.periodStart = end
	s.periodEnd = end
	return
}
