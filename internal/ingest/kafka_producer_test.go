package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/example/commute-pool/internal/models"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs     []kafka.Message
	deadline bool
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, f.deadline = ctx.Deadline()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestPublishKeysByRide(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaProducerWithWriter(w)
	ev := models.RideEvent{Type: models.EventRideCreated, RideID: "ride-9", DriverID: "d", At: time.Unix(100, 0)}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "ride-9" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if !w.deadline {
		t.Fatalf("expected publish timeout on context")
	}
	var got models.RideEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || got.Type != models.EventRideCreated {
		t.Fatalf("unexpected payload %s (%v)", w.msgs[0].Value, err)
	}
	if string(w.msgs[0].Headers[0].Value) != "ride_created" {
		t.Fatalf("missing type header")
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}
