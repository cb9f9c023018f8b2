// Package supervisor drives one camera recording: connection lifecycle, segment
// rotation, journal bookkeeping, retention and live fan-out.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camvault/recorder/internal/journal"
	"github.com/camvault/recorder/internal/live"
	"github.com/camvault/recorder/internal/retention"
	"github.com/camvault/recorder/internal/segment"
	"github.com/camvault/recorder/internal/source"
)

const (
	// MinSegmentDuration is the shortest accepted rotation period.
	MinSegmentDuration = time.Second

	defaultEventBuffer = 64
)

// ErrConnectionLost is reported through OnLostConnection once reconnect attempts run out.
var ErrConnectionLost = errors.New("connection lost")

// Options configure one recorder instance. They are fixed after New.
type Options struct {
	SourceURL            string
	Folder               string
	Channel              int
	SegmentDuration      time.Duration
	MaxReconnectAttempts int
	// QuotaBytes caps the folder size; negative disables retention.
	QuotaBytes   int64
	TargetWidth  int
	TargetHeight int
	// ReconnectDelay is waited before each reconnect; zero retries immediately.
	ReconnectDelay time.Duration
	Extension      string
}

// Journal is the segment boundary log.
type Journal interface {
	RecordSegmentOpened(channel int, path string, ts time.Time) error
	RecordSegmentClosed(channel int, ts time.Time) error
}

// SegmentWriter creates, appends to and finalizes segment files.
type SegmentWriter interface {
	Open(path string) (*segment.Handle, error)
	Write(h *segment.Handle, p []byte) error
	Close(h *segment.Handle) error
}

// Retention enforces the folder quota.
type Retention interface {
	EnforceQuota(ctx context.Context, folder string, quotaBytes int64) (retention.Result, error)
}

// Deps are the collaborators of a Supervisor. Only Source is required.
type Deps struct {
	Source    source.Connection
	Writer    SegmentWriter
	Journal   Journal
	Retention Retention
	Hub       *live.Hub
	Metrics   Metrics
	Hooks     Hooks
	Logger    *zap.Logger
}

type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan source.Event
	done   chan struct{}
}

// Supervisor owns a recording. All mutable recording state lives on the run goroutine;
// accessors read a snapshot.
type Supervisor struct {
	opts      Options
	src       source.Connection
	writer    SegmentWriter
	journal   Journal
	retention Retention
	hub       *live.Hub
	metrics   Metrics
	hooks     Hooks
	logger    *zap.Logger

	now         func() time.Time
	newTimer    func(time.Duration) timer
	eventBuffer int

	ctl sync.Mutex
	cur *run

	// loop-owned
	gen      uint64
	seg      *segment.Handle
	segInfo  SegmentInfo
	rotation timer
	retry    timer

	mu        sync.RWMutex
	state     State
	remaining int
	current   *SegmentInfo
	dims      source.Dimensions
	dimsKnown bool
}

// New validates opts and builds a supervisor in StateIdle.
func New(opts Options, deps Deps) (*Supervisor, error) {
	if deps.Source == nil {
		return nil, errors.New("supervisor: source is required")
	}
	if opts.Folder == "" {
		return nil, errors.New("supervisor: folder is required")
	}
	if opts.SegmentDuration < MinSegmentDuration {
		opts.SegmentDuration = MinSegmentDuration
	}
	if opts.MaxReconnectAttempts < 1 {
		opts.MaxReconnectAttempts = 1
	}
	if opts.Extension == "" {
		opts.Extension = segment.DefaultExtension
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int("channel", opts.Channel))

	s := &Supervisor{
		opts:        opts,
		src:         deps.Source,
		writer:      deps.Writer,
		journal:     deps.Journal,
		retention:   deps.Retention,
		hub:         deps.Hub,
		metrics:     deps.Metrics,
		hooks:       deps.Hooks,
		logger:      logger,
		now:         time.Now,
		newTimer:    newRealTimer,
		eventBuffer: defaultEventBuffer,
		remaining:   opts.MaxReconnectAttempts,
	}
	if s.writer == nil {
		s.writer = segment.NewWriter()
	}
	if s.journal == nil {
		s.journal = journal.NewStore(opts.Folder)
	}
	if s.retention == nil {
		s.retention = retention.NewManager(retention.OSFS{}, logger)
	}
	if s.hub == nil {
		s.hub = live.NewHub(logger)
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if opts.TargetWidth > 0 && opts.TargetHeight > 0 {
		s.dims = source.Dimensions{Width: opts.TargetWidth, Height: opts.TargetHeight}
		s.dimsKnown = true
		s.hub.SetDimensions(opts.TargetWidth, opts.TargetHeight)
	}
	return s, nil
}

// Options returns the effective options after defaults and clamping.
func (s *Supervisor) Options() Options { return s.opts }

// Hub returns the live fan-out hub.
func (s *Supervisor) Hub() *live.Hub { return s.hub }

// Initialize starts connecting. It does nothing while a recording is already running.
func (s *Supervisor) Initialize() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.cur != nil {
		select {
		case <-s.cur.done:
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan source.Event, s.eventBuffer),
		done:   make(chan struct{}),
	}
	s.cur = r
	s.setRemaining(s.opts.MaxReconnectAttempts)
	s.setState(StateConnecting)
	s.logger.Info("recorder initializing", zap.String("url", s.opts.SourceURL), zap.String("folder", s.opts.Folder))
	go s.loop(r)
}

// Stop ends the recording, closing the open segment. It blocks until the recording
// goroutine has exited and never reports a lost connection.
func (s *Supervisor) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.cur == nil {
		return
	}
	s.cur.cancel()
	<-s.cur.done
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StreamDimensions returns the frame size if it has been announced or configured.
func (s *Supervisor) StreamDimensions() (source.Dimensions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims, s.dimsKnown
}

// RemainingReconnectAttempts returns how many more disconnects are tolerated.
func (s *Supervisor) RemainingReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remaining
}

// CurrentSegment returns the open segment, if any.
func (s *Supervisor) CurrentSegment() (SegmentInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return SegmentInfo{}, false
	}
	return *s.current, true
}

// ViewerCount returns the number of connected live viewers.
func (s *Supervisor) ViewerCount() int { return s.hub.Count() }

// RegisterViewer adds a live viewer.
func (s *Supervisor) RegisterViewer(c live.Conn) { s.hub.Register(c) }

// UnregisterViewer removes a live viewer.
func (s *Supervisor) UnregisterViewer(c live.Conn) { s.hub.Unregister(c) }

func (s *Supervisor) loop(r *run) {
	defer close(r.done)
	s.connect(r)

	for s.State() != StateIdle {
		var rotateC, retryC <-chan time.Time
		if s.rotation != nil {
			rotateC = s.rotation.C()
		}
		if s.retry != nil {
			retryC = s.retry.C()
		}

		select {
		case <-r.ctx.Done():
			s.shutdown()
			return
		case ev := <-r.events:
			s.handle(r, ev)
		case <-rotateC:
			s.rotation = nil
			s.rotate(r.ctx)
		case <-retryC:
			s.retry = nil
			s.connect(r)
		}
	}
}

// connect starts the source under a new generation. Start failures count as
// disconnects.
func (s *Supervisor) connect(r *run) {
	for {
		s.gen++
		s.setState(StateConnecting)
		err := s.src.Start(r.ctx, s.gen, r.events)
		if err == nil {
			s.logger.Info("source connecting", zap.Uint64("gen", s.gen))
			return
		}
		s.logger.Warn("source start failed", zap.Uint64("gen", s.gen), zap.Error(err))
		if !s.disconnected(err) {
			return
		}
	}
}

// disconnected spends one reconnect attempt and reports whether to reconnect now.
func (s *Supervisor) disconnected(cause error) bool {
	remaining := s.remaining - 1
	s.setRemaining(remaining)
	if remaining > 0 {
		s.metrics.Reconnect()
		s.setState(StateConnecting)
		s.logger.Warn("source disconnected, reconnecting",
			zap.Int("remaining_attempts", remaining), zap.Duration("delay", s.opts.ReconnectDelay), zap.Error(cause))
		if s.opts.ReconnectDelay > 0 {
			s.retry = s.newTimer(s.opts.ReconnectDelay)
			return false
		}
		return true
	}

	s.setState(StateIdle)
	err := fmt.Errorf("%w after %d attempts", ErrConnectionLost, s.opts.MaxReconnectAttempts)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	s.logger.Error("source lost", zap.Error(err))
	if s.hooks.OnLostConnection != nil {
		s.hooks.OnLostConnection(err)
	}
	return false
}

func (s *Supervisor) handle(r *run, ev source.Event) {
	if ev.Gen != s.gen {
		s.logger.Debug("dropping stale source event", zap.Stringer("kind", ev.Kind), zap.Uint64("gen", ev.Gen))
		return
	}

	switch ev.Kind {
	case source.EventReady:
		s.setRemaining(s.opts.MaxReconnectAttempts)
		s.setState(StateRecording)
		s.openSegment(r.ctx)

	case source.EventChunk:
		if s.seg != nil {
			if err := s.writer.Write(s.seg, ev.Data); err != nil {
				s.metrics.IOError("write")
				s.logger.Error("segment write failed, abandoning segment", zap.String("path", s.seg.Path), zap.Error(err))
				s.closeSegment()
			} else {
				s.metrics.BytesWritten(len(ev.Data))
			}
		}
		s.hub.Broadcast(ev.Data)

	case source.EventDimensions:
		s.mu.Lock()
		s.dims, s.dimsKnown = ev.Dims, true
		s.mu.Unlock()
		s.hub.SetDimensions(ev.Dims.Width, ev.Dims.Height)

	case source.EventClosed:
		s.stopTimers()
		s.closeSegment()
		if err := s.src.Stop(); err != nil {
			s.logger.Warn("source stop failed", zap.Error(err))
		}
		if s.disconnected(ev.Err) {
			s.connect(r)
		}
	}
}

func (s *Supervisor) rotate(ctx context.Context) {
	s.closeSegment()
	s.openSegment(ctx)
}

// openSegment prepares the folder and opens a new segment. The rotation timer is armed
// even when the open fails so the next period tries again.
func (s *Supervisor) openSegment(ctx context.Context) {
	s.rotation = s.newTimer(s.opts.SegmentDuration)

	if err := os.MkdirAll(s.opts.Folder, 0o755); err != nil {
		s.metrics.IOError("mkdir")
		s.logger.Error("create recording folder", zap.String("folder", s.opts.Folder), zap.Error(err))
	}
	res, err := s.retention.EnforceQuota(ctx, s.opts.Folder, s.opts.QuotaBytes)
	if res.Evicted {
		s.metrics.Evicted()
	}
	if err != nil {
		s.logger.Error("retention", zap.Error(err))
	}

	start := s.now()
	path := segment.Path(s.opts.Folder, s.opts.Channel, start, s.opts.Extension)
	h, err := s.writer.Open(path)
	if err != nil {
		s.metrics.IOError("open")
		s.logger.Error("open segment", zap.String("path", path), zap.Error(err))
		return
	}
	s.seg = h
	s.segInfo = newSegmentInfo(s.opts.Channel, h.Path, start)
	info := s.segInfo
	s.mu.Lock()
	s.current = &info
	s.mu.Unlock()

	if err := s.journal.RecordSegmentOpened(s.opts.Channel, info.Path, start); err != nil {
		s.logger.Error("journal segment opened", zap.String("path", h.Path), zap.Error(err))
	}
	s.metrics.SegmentOpened()
	s.logger.Info("segment opened", zap.String("path", h.Path))
	if s.hooks.OnSegmentOpened != nil {
		s.hooks.OnSegmentOpened(info)
	}
}

func (s *Supervisor) closeSegment() {
	if s.seg == nil {
		return
	}
	h := s.seg
	s.seg = nil
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	if err := s.writer.Close(h); err != nil {
		s.metrics.IOError("close")
		s.logger.Error("close segment", zap.String("path", h.Path), zap.Error(err))
	}
	end := s.now()
	if err := s.journal.RecordSegmentClosed(s.opts.Channel, end); err != nil {
		s.logger.Error("journal segment closed", zap.String("path", h.Path), zap.Error(err))
	}

	info := s.segInfo
	info.End = end
	info.Bytes = h.Bytes()
	s.logger.Info("segment closed", zap.String("path", h.Path), zap.Int64("bytes", info.Bytes))
	if s.hooks.OnSegmentClosed != nil {
		s.hooks.OnSegmentClosed(info)
	}
}

func (s *Supervisor) stopTimers() {
	if s.rotation != nil {
		s.rotation.Stop()
		s.rotation = nil
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Supervisor) shutdown() {
	s.stopTimers()
	s.closeSegment()
	if err := s.src.Stop(); err != nil {
		s.logger.Warn("source stop failed", zap.Error(err))
	}
	s.setState(StateIdle)
	s.logger.Info("recorder stopped")
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	s.metrics.StateChanged(to)
	s.logger.Debug("state change", zap.Stringer("from", from), zap.Stringer("to", to))
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(from, to)
	}
}

func (s *Supervisor) setRemaining(n int) {
	s.mu.Lock()
	s.remaining = n
	s.mu.Unlock()
}
