package publisher

import (
	"errors"
	"testing"

	"github.com/roadlens/roadlens/internal/rollup"
	"github.com/roadlens/roadlens/internal/zone"
)

type fakeBus struct {
	subject string
	data    interface{}
	err     error
}

func (f *fakeBus) Publish(subject string, data interface{}) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestOnTickPublishesEveryZoneToConfiguredSubject(t *testing.T) {
	bus := &fakeBus{}
	p := New(bus, "", nil)

	p.OnTick([]rollup.WindowResult{
		{ZoneID: "zone-1", Stats: zone.Stats{TotalCount: 3}},
		{ZoneID: "zone-2", Stats: zone.Stats{TotalCount: 5}},
	})

	if bus.subject != DefaultSubject {
		t.Fatalf("subject = %q, want %q", bus.subject, DefaultSubject)
	}
	entries, ok := bus.data.([]StatsEntry)
	if !ok {
		t.Fatalf("data type = %T, want []StatsEntry", bus.data)
	}
	if len(entries) != 2 || entries[0].ZoneID != "zone-1" || entries[1].Stats.TotalCount != 5 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestOnTickCountsPublishErrors(t *testing.T) {
	bus := &fakeBus{err: errors.New("not connected")}
	p := New(bus, "custom.subject", nil)

	p.OnTick([]rollup.WindowResult{{ZoneID: "zone-1"}})

	if p.PublishErrors != 1 {
		t.Fatalf("PublishErrors = %d, want 1", p.PublishErrors)
	}
	if bus.subject != "custom.subject" {
		t.Fatalf("subject = %q, want custom.subject", bus.subject)
	}
}
