package agent

import (
	"fmt"
	"log/slog"
	"sync"
)

// StatusListener is called with the session id and the new status after every
// transition. A returned error is logged.
type StatusListener func(sessionID string, status Status) error

type statusEvent struct {
	sessionID string
	status    Status
}

const notifierQueueSize = 64

// notifier delivers status events to listeners in order on a single
// goroutine, so a slow listener never blocks a turn. Events that do not fit in
// the queue are dropped.
type notifier struct {
	mu        sync.RWMutex
	listeners []StatusListener
	closed    bool

	events chan statusEvent
	done   chan struct{}
	logger *slog.Logger
}

func newNotifier(logger *slog.Logger) *notifier {
	n := &notifier{
		events: make(chan statusEvent, notifierQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go n.run()
	return n
}

func (n *notifier) subscribe(fn StatusListener) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

func (n *notifier) publish(ev statusEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed || len(n.listeners) == 0 {
		return
	}
	select {
	case n.events <- ev:
	default:
		n.logger.Warn("status notification dropped, queue full",
			slog.String("session_id", ev.sessionID),
			slog.String("status", ev.status.String()),
		)
	}
}

// close stops accepting events and waits until queued ones are delivered.
func (n *notifier) close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.events)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)
	for ev := range n.events {
		n.mu.RLock()
		listeners := n.listeners
		n.mu.RUnlock()

		for i, l := range listeners {
			if err := n.deliver(l, ev); err != nil {
				n.logger.Warn("status listener failed",
					slog.String("session_id", ev.sessionID),
					slog.String("status", ev.status.String()),
					slog.Int("listener_index", i),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (n *notifier) deliver(l StatusListener, ev statusEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ev.sessionID, ev.status)
}
