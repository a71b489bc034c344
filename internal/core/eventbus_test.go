package core

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func testBus(t *testing.T) *EventBus {
	t.Helper()
	cfg := EventBusConfig{
		Host:        "127.0.0.1",
		Port:        18222,
		PortManager: NewPortManager(),
	}
	eb, err := NewEventBus(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	t.Cleanup(eb.Stop)
	return eb
}

func TestEventBusPublishSubscribeRoundTrip(t *testing.T) {
	eb := testBus(t)

	received := make(chan []byte, 1)
	if _, err := eb.Subscribe("DETECTORS_STATISTICS", func(msg *nats.Msg) {
		received <- msg.Data
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	payload := map[string]int{"total_count": 7}
	if err := eb.Publish("DETECTORS_STATISTICS", payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-received:
		var got map[string]int
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal published payload: %v", err)
		}
		if got["total_count"] != 7 {
			t.Errorf("total_count = %d, want 7", got["total_count"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestEventBusHealthCheck(t *testing.T) {
	eb := testBus(t)

	if err := eb.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck on a live bus: %v", err)
	}
}

func TestEventBusUnsubscribeStopsDelivery(t *testing.T) {
	eb := testBus(t)

	received := make(chan struct{}, 4)
	if _, err := eb.Subscribe("test.subject", func(*nats.Msg) {
		received <- struct{}{}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	eb.Unsubscribe("test.subject")

	if err := eb.Publish("test.subject", "after-unsubscribe"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-received:
		t.Error("expected no delivery after Unsubscribe")
	case <-time.After(500 * time.Millisecond):
	}
}
