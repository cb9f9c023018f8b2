package live

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Registry is the part of the recorder the websocket endpoint talks to.
type Registry interface {
	RegisterViewer(c Conn)
	UnregisterViewer(c Conn)
}

// Client is a websocket viewer. Stream data is sent as binary frames.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	connected atomic.Bool
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewClient wraps an upgraded websocket connection.
func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	c := &Client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	c.connected.Store(true)
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Connected() bool { return c.connected.Load() }

// Send queues b; a full buffer drops it.
func (c *Client) Send(b []byte) bool {
	if !c.connected.Load() {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *Client) disconnect() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
}

// ServeWs upgrades the request and streams to the viewer until it disconnects.
// validate may be nil; otherwise the "token" query parameter must pass it.
func ServeWs(reg Registry, logger *zap.Logger, validate func(token string) error) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if validate != nil {
			if err := validate(ctx.Query("token")); err != nil {
				ctx.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
				return
			}
		}
		conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := NewClient(conn, logger)
		reg.RegisterViewer(client)
		go client.writePump()
		client.readPump()
		reg.UnregisterViewer(client)
	}
}

// readPump only watches for close and pong frames; viewers send nothing we use.
func (c *Client) readPump() {
	defer c.disconnect()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.disconnect()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.logger.Debug("viewer write failed", zap.String("viewer_id", c.id), zap.Error(err))
				return
			}
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
