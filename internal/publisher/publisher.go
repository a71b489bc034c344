// Package publisher emits finalized rollup windows onto the embedded
// event bus, so external consumers can subscribe to the live
// statistics stream without polling the HTTP surface.
package publisher

import (
	"log/slog"

	"github.com/roadlens/roadlens/internal/rollup"
	"github.com/roadlens/roadlens/internal/zone"
)

// DefaultSubject is the subject statistics are published to, matching
// the shape returned by GET /api/stats/all.
const DefaultSubject = "DETECTORS_STATISTICS"

// Bus is the subset of core.EventBus the publisher needs, accepted as
// an interface so it can be exercised without an embedded NATS server.
type Bus interface {
	Publish(subject string, data interface{}) error
}

// StatsEntry mirrors one element of the /api/stats/all response body.
type StatsEntry struct {
	ZoneID string     `json:"zone_id"`
	Stats  zone.Stats `json:"stats"`
}

// Publisher publishes one StatsEntry slice per rollup tick to the
// configured subject over the embedded event bus.
type Publisher struct {
	bus     Bus
	subject string
	log     *slog.Logger

	// PublishErrors counts failed publish attempts; a marshal or
	// connection error here is non-fatal (the next tick tries again).
	PublishErrors uint64
}

// New builds a Publisher. subject defaults to DefaultSubject when empty.
func New(bus Bus, subject string, log *slog.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{bus: bus, subject: subject, log: log.With("component", "publisher")}
}

// OnTick is wired as rollup.Worker.OnTick: it publishes every zone's
// freshly finalized window as a single message.
func (p *Publisher) OnTick(results []rollup.WindowResult) {
	entries := make([]StatsEntry, 0, len(results))
	for _, r := range results {
		entries = append(entries, StatsEntry{ZoneID: r.ZoneID, Stats: r.Stats})
	}

	if err := p.bus.Publish(p.subject, entries); err != nil {
		p.PublishErrors++
		p.log.Error("failed to publish rollup tick", "subject", p.subject, "error", err)
	}
}
