package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/internal/obslog"
	"github.com/park285/cheese-lobby/pkg/protocol"
	"go.uber.org/zap"
)

type EventKind int

const (
	EventPartyOpened EventKind = iota
	EventPartyClosed
	EventSessionStarted
	EventSessionMove
	EventSessionEnded
)

func (k EventKind) String() string {
	switch k {
	case EventPartyOpened:
		return "party_opened"
	case EventPartyClosed:
		return "party_closed"
	case EventSessionStarted:
		return "session_started"
	case EventSessionMove:
		return "session_move"
	case EventSessionEnded:
		return "session_ended"
	default:
		return "unknown"
	}
}

// Event describes one broker transition. Session is set for session events
// and is a detached copy.
type Event struct {
	Kind    EventKind
	Player  protocol.PlayerID
	At      time.Time
	Session *domain.SessionRecord
}

// Observer receives events while the broker lock is held; it must not block.
type Observer interface {
	Observe(Event)
}

// EventHandler does the slow work for an AsyncObserver.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

type EventHandlerFunc func(ctx context.Context, ev Event) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// AsyncObserver queues events and feeds them to handlers from one worker
// goroutine. When the queue is full the event is dropped.
type AsyncObserver struct {
	queue    chan Event
	handlers []EventHandler
	timeout  time.Duration
	logger   *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

func NewAsyncObserver(buffer int, timeout time.Duration, handlers ...EventHandler) *AsyncObserver {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	o := &AsyncObserver{
		queue:    make(chan Event, buffer),
		handlers: handlers,
		timeout:  timeout,
		logger:   obslog.L(),
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *AsyncObserver) Observe(ev Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	select {
	case o.queue <- ev:
	default:
		o.logger.Warn("observer_drop", zap.String("event", ev.Kind.String()), zap.Uint64("player_id", uint64(ev.Player)))
	}
}

func (o *AsyncObserver) run() {
	defer close(o.done)
	for ev := range o.queue {
		for _, h := range o.handlers {
			ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
			if err := h.HandleEvent(ctx, ev); err != nil {
				o.logger.Warn("observer_handler_failed", zap.String("event", ev.Kind.String()), zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits for the queue to drain.
func (o *AsyncObserver) Close(ctx context.Context) error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
	})
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
