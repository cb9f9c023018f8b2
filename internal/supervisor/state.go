package supervisor

import (
	"fmt"
	"path/filepath"
	"time"
)

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRecording:
		return "recording"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// SegmentInfo describes a segment as seen by observers.
type SegmentInfo struct {
	Channel int       `json:"channel"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end,omitempty"`
	Bytes   int64     `json:"bytes"`
}

func newSegmentInfo(channel int, path string, start time.Time) SegmentInfo {
	return SegmentInfo{Channel: channel, Name: filepath.Base(path), Path: path, Start: start}
}

// Hooks are optional observers. They run on the supervisor goroutine and must not block.
type Hooks struct {
	OnStateChange    func(from, to State)
	OnSegmentOpened  func(seg SegmentInfo)
	OnSegmentClosed  func(seg SegmentInfo)
	OnLostConnection func(err error)
}

// Metrics receives counters from the recording loop.
type Metrics interface {
	SegmentOpened()
	BytesWritten(n int)
	Reconnect()
	IOError(op string)
	Evicted()
	StateChanged(s State)
}

type nopMetrics struct{}

func (nopMetrics) SegmentOpened()     {}
func (nopMetrics) BytesWritten(int)   {}
func (nopMetrics) Reconnect()         {}
func (nopMetrics) IOError(string)     {}
func (nopMetrics) Evicted()           {}
func (nopMetrics) StateChanged(State) {}

type timer interface {
	C() <-chan time.Time
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

func newRealTimer(d time.Duration) timer { return realTimer{t: time.NewTimer(d)} }
