package notify

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestNotifier(size int) (*Notifier, prometheus.Counter) {
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_dropped_total"})
	hub := NewHub(zap.NewNop().Sugar())
	return NewNotifier(hub, size, dropped, zap.NewNop().Sugar()), dropped
}

func TestPushNeverBlocks(t *testing.T) {
	n, _ := newTestNotifier(2)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.Push("u1", map[string]int{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked on a full queue")
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	n, dropped := newTestNotifier(2)

	n.Push("u1", "first")
	n.Push("u1", "second")
	n.Push("u1", "third") // evicts "first"

	assert.Equal(t, float64(1), testutil.ToFloat64(dropped))
	assert.Equal(t, 2, n.Pending())

	// the oldest entry is gone, the newest survived
	got := <-n.queue
	assert.Equal(t, "second", got.payload)
	got = <-n.queue
	assert.Equal(t, "third", got.payload)
}

func TestDrainFinishesQueuedWork(t *testing.T) {
	n, _ := newTestNotifier(16)

	for i := 0; i < 10; i++ {
		n.Push("u1", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)
	cancel()

	n.Drain(2 * time.Second)
	assert.Equal(t, 0, n.Pending())
}
