package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type notification struct {
	userID  string
	payload interface{}
}

// Notifier decouples the matching thread from push I/O: Push only enqueues
// into a bounded queue, and a dedicated worker performs the network sends.
// On overflow the oldest entry is dropped and counted - overflow is a
// symptom, not a fault.
type Notifier struct {
	hub     *Hub
	queue   chan notification
	dropped prometheus.Counter
	log     *zap.SugaredLogger
	done    chan struct{}
}

func NewNotifier(hub *Hub, queueSize int, dropped prometheus.Counter, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		hub:     hub,
		queue:   make(chan notification, queueSize),
		dropped: dropped,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Push enqueues a user notification without blocking the caller.
func (n *Notifier) Push(userID string, payload interface{}) {
	msg := notification{userID: userID, payload: payload}
	select {
	case n.queue <- msg:
		return
	default:
	}

	// queue full: evict the oldest, then retry once
	select {
	case <-n.queue:
		n.dropped.Inc()
	default:
	}
	select {
	case n.queue <- msg:
	default:
		n.dropped.Inc()
	}
}

// Run drains the queue until the context is cancelled, then delivers
// whatever is already queued and returns. Drain bounds how long the caller
// waits for that final sweep.
func (n *Notifier) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case msg := <-n.queue:
			n.deliver(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-n.queue:
					n.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(msg notification) {
	data, err := json.Marshal(msg.payload)
	if err != nil {
		n.log.Warnw("notification_marshal_failed", "user", msg.userID, "err", err)
		return
	}
	n.hub.BroadcastToChannel("user:"+msg.userID, data)
}

// Drain waits for the worker to finish its final sweep, up to the budget.
func (n *Notifier) Drain(budget time.Duration) {
	select {
	case <-n.done:
	case <-time.After(budget):
		n.log.Warnw("notifier_drain_timeout", "pending", len(n.queue))
	}
}

// Pending reports the queue depth; used by tests and the periodic stats log.
func (n *Notifier) Pending() int { return len(n.queue) }
