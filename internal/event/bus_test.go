package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/drover-io/drover/pkg/module"
	"go.uber.org/zap"
)

func TestBus_PublishDeliversToTopicSubscribers(t *testing.T) {
	b := NewBus(zap.NewNop())

	var got []string
	b.Subscribe("command.finished", func(_ context.Context, e module.Event) {
		got = append(got, e.Source)
	})
	b.Subscribe("other.topic", func(_ context.Context, e module.Event) {
		t.Error("handler for unrelated topic invoked")
	})

	_ = b.Publish(context.Background(), module.Event{Topic: "command.finished", Source: "exec"})

	if len(got) != 1 || got[0] != "exec" {
		t.Errorf("delivered = %v, want [exec]", got)
	}
}

func TestBus_SubscribeAllSeesEveryTopic(t *testing.T) {
	b := NewBus(zap.NewNop())

	count := 0
	b.SubscribeAll(func(_ context.Context, _ module.Event) { count++ })

	_ = b.Publish(context.Background(), module.Event{Topic: "a"})
	_ = b.Publish(context.Background(), module.Event{Topic: "b"})

	if count != 2 {
		t.Errorf("wildcard handler invoked %d times, want 2", count)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(zap.NewNop())

	count := 0
	unsub := b.Subscribe("t", func(_ context.Context, _ module.Event) { count++ })

	_ = b.Publish(context.Background(), module.Event{Topic: "t"})
	unsub()
	_ = b.Publish(context.Background(), module.Event{Topic: "t"})

	if count != 1 {
		t.Errorf("handler invoked %d times after unsubscribe, want 1", count)
	}
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := NewBus(zap.NewNop())

	b.Subscribe("t", func(_ context.Context, _ module.Event) { panic("boom") })
	delivered := false
	b.Subscribe("t", func(_ context.Context, _ module.Event) { delivered = true })

	_ = b.Publish(context.Background(), module.Event{Topic: "t"})

	if !delivered {
		t.Error("second handler not invoked after first panicked")
	}
}

func TestBus_PublishAsync(t *testing.T) {
	b := NewBus(zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe("t", func(_ context.Context, _ module.Event) { wg.Done() })

	b.PublishAsync(context.Background(), module.Event{Topic: "t", Timestamp: time.Now()})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler not invoked within 2s")
	}
}
