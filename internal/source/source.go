// Package source connects to a camera stream and turns it into ordered events.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// EventKind identifies a source event.
type EventKind int

const (
	// EventReady fires once per connection, right before the first chunk.
	EventReady EventKind = iota
	// EventChunk carries one unit of received stream data.
	EventChunk
	// EventDimensions fires once when the frame size is first announced.
	EventDimensions
	// EventClosed fires exactly once when the transport ends for any reason.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventChunk:
		return "chunk"
	case EventDimensions:
		return "dimensions"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Dimensions is a frame size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Event is delivered by a Connection. Gen echoes the generation passed to Start so the
// receiver can drop events from a connection it has already abandoned.
type Event struct {
	Kind EventKind
	Gen  uint64
	Data []byte
	Dims Dimensions
	Err  error
}

// Connection is a restartable stream source. It never retries on its own.
type Connection interface {
	// Start begins streaming into events. A returned error means no connection was
	// made and no EventClosed will follow.
	Start(ctx context.Context, gen uint64, events chan<- Event) error
	// Stop terminates the underlying transport. Safe to call repeatedly.
	Stop() error
	// Dimensions returns the last announced frame size.
	Dimensions() (Dimensions, bool)
}

// ErrAlreadyRunning is returned by Start while a previous connection is still alive.
var ErrAlreadyRunning = errors.New("source already running")

const readSize = 32 * 1024

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// pump copies r into chunk events, announcing readiness before the first chunk.
// It returns the read error that ended the stream (nil on clean EOF).
func pump(ctx context.Context, gen uint64, r io.Reader, events chan<- Event) error {
	buf := make([]byte, readSize)
	ready := false
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if !ready {
				ready = true
				if !emit(ctx, events, Event{Kind: EventReady, Gen: gen}) {
					return ctx.Err()
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !emit(ctx, events, Event{Kind: EventChunk, Gen: gen, Data: chunk}) {
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
