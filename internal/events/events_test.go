package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypePaymentCompleted, "ref-1", SettlementEvent{
		EventType:   TypePaymentCompleted,
		ProviderRef: "ref-1",
		Status:      "COMPLETED",
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if env.ID == "" || env.OccurredAt.IsZero() {
		t.Fatalf("envelope not stamped: %+v", env)
	}
	var got SettlementEvent
	if err := env.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProviderRef != "ref-1" || got.Status != "COMPLETED" {
		t.Fatalf("got=%+v", got)
	}
	if _, err := NewEnvelope(" ", "k", nil); err == nil {
		t.Fatalf("expected error for empty type")
	}
}

func TestEmitNilPublisher(t *testing.T) {
	if err := Emit(context.Background(), nil, "topic", TypeListingSold, "k", nil); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestBridgeFansOutPerRoute(t *testing.T) {
	transport := NewMemoryTransport(8)
	bridge := &Bridge{Transport: transport, GroupPrefix: "test", StatsInterval: time.Hour}

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{}, 4)
	record := func(name string) Handler {
		return func(_ context.Context, env Envelope) error {
			mu.Lock()
			seen[name]++
			mu.Unlock()
			done <- struct{}{}
			return nil
		}
	}
	bridge.Route("investments.events", "audit", record("audit"))
	bridge.Route("investments.events", "notify", record("notify"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Publishing before Run must not lose the event: Route declared the queues.
	if err := Emit(ctx, bridge, "investments.events", TypeInvestmentCreated, "inv-1", InvestmentEvent{InvestmentID: "inv-1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	go func() { _ = bridge.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if seen["audit"] != 1 || seen["notify"] != 1 {
		t.Fatalf("seen=%v", seen)
	}
}

func TestMemoryTransportRejectsToDeadLetter(t *testing.T) {
	transport := NewMemoryTransport(4)
	rejected := make(chan error, 1)
	transport.OnReject = func(_ context.Context, topic, group string, _ Envelope, cause error) {
		rejected <- cause
	}
	transport.Declare("payments.settlement", "settlement")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = transport.Consume(ctx, "payments.settlement", "settlement", func(context.Context, Envelope) error {
			panic("boom")
		})
	}()

	env, _ := NewEnvelope(TypePaymentFailed, "ref-2", SettlementEvent{ProviderRef: "ref-2"})
	if err := transport.Publish(ctx, "payments.settlement", env); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case err := <-rejected:
		if err == nil {
			t.Fatalf("expected cause")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for rejection")
	}
	if got := transport.DeadLetters("payments.settlement"); len(got) != 1 || got[0].ID != env.ID {
		t.Fatalf("dead letters=%v", got)
	}
	_, acked, rej := transport.Stats()
	if acked != 0 || rej != 1 {
		t.Fatalf("acked=%d rejected=%d", acked, rej)
	}
}

func TestMemoryTransportClosed(t *testing.T) {
	transport := NewMemoryTransport(1)
	_ = transport.Close()
	err := transport.Publish(context.Background(), "t", Envelope{})
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestDeadLetterTopicName(t *testing.T) {
	if got := DefaultTopics().DeadLetter("payments.settlement"); got != "payments.settlement.dlq" {
		t.Fatalf("got=%s", got)
	}
}
