package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// OpenFunc opens one stream connection.
type OpenFunc func(ctx context.Context) (io.ReadCloser, error)

type readerRun struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// Reader adapts any byte stream opener (an HTTP camera endpoint, a pipe) to Connection.
// It has no diagnostic channel, so dimensions are only known when configured.
type Reader struct {
	open   OpenFunc
	logger *zap.Logger

	mu        sync.Mutex
	cur       *readerRun
	dims      Dimensions
	dimsKnown bool
}

// NewReader creates a connection that streams whatever open returns.
func NewReader(open OpenFunc, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{open: open, logger: logger}
}

// NewHTTP streams the body of a GET request to url.
func NewHTTP(url string, client *http.Client, logger *zap.Logger) *Reader {
	if client == nil {
		client = http.DefaultClient
	}
	return NewReader(func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("connect status: %d", resp.StatusCode)
		}
		return resp.Body, nil
	}, logger)
}

// SetDimensions records a known frame size for sources that cannot announce one.
func (r *Reader) SetDimensions(d Dimensions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dims, r.dimsKnown = d, d.Width > 0 && d.Height > 0
}

// Start opens the stream and pumps it in the background.
func (r *Reader) Start(ctx context.Context, gen uint64, events chan<- Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur != nil {
		select {
		case <-r.cur.done:
		default:
			return ErrAlreadyRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	body, err := r.open(runCtx)
	if err != nil {
		cancel()
		return err
	}
	run := &readerRun{body: body, cancel: cancel, done: make(chan struct{})}
	r.cur = run
	dims, known := r.dims, r.dimsKnown

	go func() {
		if known {
			emit(runCtx, events, Event{Kind: EventDimensions, Gen: gen, Dims: dims})
		}
		err := pump(runCtx, gen, body, events)
		_ = body.Close()
		cancel()
		r.logger.Info("stream reader ended", zap.Uint64("gen", gen), zap.Error(err))
		close(run.done)
		if !run.stopped.Load() {
			emit(ctx, events, Event{Kind: EventClosed, Gen: gen, Err: err})
		}
	}()
	return nil
}

// Stop closes the stream and waits for the reader goroutine.
func (r *Reader) Stop() error {
	r.mu.Lock()
	run := r.cur
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	default:
	}
	run.stopped.Store(true)
	run.cancel()
	_ = run.body.Close()
	<-run.done
	return nil
}

// Dimensions returns the configured frame size, if any.
func (r *Reader) Dimensions() (Dimensions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dims, r.dimsKnown
}
