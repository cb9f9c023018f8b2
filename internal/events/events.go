// Package events carries recorder lifecycle events off the recording goroutine to
// slower consumers: Redis pub/sub, the segment catalog and the archive queue.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camvault/recorder/internal/supervisor"
)

// Type names a lifecycle event.
type Type string

const (
	SegmentOpened  Type = "segment_opened"
	SegmentClosed  Type = "segment_closed"
	StateChanged   Type = "state_changed"
	ConnectionLost Type = "connection_lost"
)

// Event is one recorder lifecycle notification.
type Event struct {
	Type    Type                    `json:"type"`
	Channel int                     `json:"channel"`
	Segment *supervisor.SegmentInfo `json:"segment,omitempty"`
	State   string                  `json:"state,omitempty"`
	Error   string                  `json:"error,omitempty"`
	At      time.Time               `json:"at"`
}

// Sink consumes events. Errors are logged by the dispatcher.
type Sink interface {
	Handle(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

const (
	defaultQueueSize = 256
	sinkTimeout      = 10 * time.Second
)

// Dispatcher queues events without blocking the caller and delivers them to every
// sink in order on a single goroutine.
type Dispatcher struct {
	queue  chan Event
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewDispatcher creates a dispatcher; call Start to begin delivery.
func NewDispatcher(logger *zap.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  make(chan Event, defaultQueueSize),
		sinks:  sinks,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// Publish queues ev. A full queue drops it.
func (d *Dispatcher) Publish(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn("event queue full, dropping event", zap.String("type", string(ev.Type)))
		return false
	}
}

// Start delivers events in the background until Close. Events still queued at Close
// are delivered first.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := s.Handle(sctx, ev); err != nil {
			d.logger.Warn("event sink failed", zap.String("type", string(ev.Type)), zap.Error(err))
		}
		cancel()
	}
}

// Close stops delivery after draining the queue and waits for it.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// Hooks returns supervisor hooks that publish to d for the given channel.
// next, if set, is called after publishing.
func (d *Dispatcher) Hooks(channel int, next supervisor.Hooks) supervisor.Hooks {
	return supervisor.Hooks{
		OnStateChange: func(from, to supervisor.State) {
			d.Publish(Event{Type: StateChanged, Channel: channel, State: to.String()})
			if next.OnStateChange != nil {
				next.OnStateChange(from, to)
			}
		},
		OnSegmentOpened: func(seg supervisor.SegmentInfo) {
			d.Publish(Event{Type: SegmentOpened, Channel: channel, Segment: &seg})
			if next.OnSegmentOpened != nil {
				next.OnSegmentOpened(seg)
			}
		},
		OnSegmentClosed: func(seg supervisor.SegmentInfo) {
			d.Publish(Event{Type: SegmentClosed, Channel: channel, Segment: &seg})
			if next.OnSegmentClosed != nil {
				next.OnSegmentClosed(seg)
			}
		},
		OnLostConnection: func(err error) {
			d.Publish(Event{Type: ConnectionLost, Channel: channel, Error: err.Error()})
			if next.OnLostConnection != nil {
				next.OnLostConnection(err)
			}
		},
	}
}
