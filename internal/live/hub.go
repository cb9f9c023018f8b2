// Package live forwards the raw stream to connected viewers without buffering.
package live

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"
)

// Magic starts the preamble sent to viewers once the frame size is known.
const Magic = "jsmp"

// PreambleSize is len(Magic) plus two big-endian uint16 dimensions.
const PreambleSize = 8

// Preamble encodes the viewer header: magic, width, height. Dimensions are clamped
// to the uint16 range.
func Preamble(width, height int) []byte {
	b := make([]byte, PreambleSize)
	copy(b, Magic)
	binary.BigEndian.PutUint16(b[4:6], clampUint16(width))
	binary.BigEndian.PutUint16(b[6:8], clampUint16(height))
	return b
}

func clampUint16(n int) uint16 {
	switch {
	case n < 0:
		return 0
	case n > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(n)
}

// Conn is one registered viewer.
type Conn interface {
	ID() string
	Connected() bool
	// Send queues b for delivery and reports whether it was accepted. It must not block.
	Send(b []byte) bool
}

// ViewerCountHandler is called after the viewer set changes.
type ViewerCountHandler func(count int)

// Hub holds the viewer set and broadcasts stream chunks to it.
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]Conn
	header  []byte
	onCount ViewerCountHandler
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{viewers: make(map[string]Conn), logger: logger}
}

// SetViewerCountHandler sets the callback for viewer count changes (e.g. metrics).
func (h *Hub) SetViewerCountHandler(fn ViewerCountHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCount = fn
}

// SetDimensions makes every viewer registering from now on receive the preamble first.
func (h *Hub) SetDimensions(width, height int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header = Preamble(width, height)
}

// Register adds c to the viewer set. The preamble, if known, is queued before c can
// see any broadcast.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	if h.header != nil {
		c.Send(h.header)
	}
	h.viewers[c.ID()] = c
	count := len(h.viewers)
	onCount := h.onCount
	h.mu.Unlock()

	if onCount != nil {
		onCount(count)
	}
	h.logger.Debug("viewer joined", zap.String("viewer_id", c.ID()), zap.Int("viewers", count))
}

// Unregister removes c. Unknown viewers are ignored.
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	_, ok := h.viewers[c.ID()]
	delete(h.viewers, c.ID())
	count := len(h.viewers)
	onCount := h.onCount
	h.mu.Unlock()

	if !ok {
		return
	}
	if onCount != nil {
		onCount(count)
	}
	h.logger.Debug("viewer left", zap.String("viewer_id", c.ID()), zap.Int("viewers", count))
}

// Broadcast offers b to every connected viewer. Disconnected viewers and full buffers
// are skipped; the rest still receive b.
func (h *Hub) Broadcast(b []byte) {
	h.mu.RLock()
	snapshot := make([]Conn, 0, len(h.viewers))
	for _, c := range h.viewers {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		if !c.Connected() {
			continue
		}
		_ = c.Send(b)
	}
}

// Count returns the number of registered viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}
