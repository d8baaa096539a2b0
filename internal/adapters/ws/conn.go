// Package ws adapts gorilla/websocket connections to core.SignalConnection.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/skillshare/realtime/internal/core"
	"github.com/skillshare/realtime/internal/domain"
)

type Options struct {
	SendBuffer int
	ReadLimit  int64
	WriteWait  time.Duration
	// PongWait bounds how long a silent peer is kept; zero disables the
	// read deadline and pings.
	PongWait   time.Duration
	PingPeriod time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendBuffer: 64,
		ReadLimit:  64 << 10,
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn owns one websocket. Frames queue in a buffered channel that a single
// writer goroutine drains, so a slow peer only ever blocks itself.
type Conn struct {
	ws   *websocket.Conn
	send chan core.Frame
	opts Options

	mu          sync.RWMutex
	closed      bool
	closeCode   int
	closeReason string

	done chan struct{}
}

// Upgrade switches the request to a websocket.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conn, error) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return New(raw, opts), nil
}

func New(raw *websocket.Conn, opts Options) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultOptions().WriteWait
	}
	return &Conn{
		ws:        raw,
		send:      make(chan core.Frame, opts.SendBuffer),
		opts:      opts,
		closeCode: websocket.CloseNormalClosure,
		done:      make(chan struct{}),
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Close flushes queued frames, sends a normal close frame and drops the socket.
func (c *Conn) Close() { c.CloseWith(websocket.CloseNormalClosure, "") }

// CloseWith is Close with an explicit close code, e.g. a policy violation.
func (c *Conn) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// Done is closed once the writer has released the socket.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// WritePump is the only writer of the socket. It returns after Close, a write
// error or ctx cancellation.
func (c *Conn) WritePump(ctx context.Context) {
	var tick <-chan time.Time
	if c.opts.PongWait > 0 && c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.ws").Msg("writePump ctx done")
			c.writeClose(websocket.CloseGoingAway, "server shutdown")
			return
		case data, ok := <-c.send:
			if !ok {
				c.mu.RLock()
				code, reason := c.closeCode, c.closeReason
				c.mu.RUnlock()
				c.writeClose(code, reason)
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("ping failed")
				return
			}
		}
	}
}

func (c *Conn) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
}

// ReadLoop hands every inbound text frame to handle until the peer goes away.
// A normal close returns nil.
func (c *Conn) ReadLoop(handle func([]byte)) error {
	if c.opts.ReadLimit > 0 {
		c.ws.SetReadLimit(c.opts.ReadLimit)
	}
	if c.opts.PongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		})
	}

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return err
			}
			if c.isClosed() {
				return nil
			}
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if c.opts.PongWait > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		}
		handle(data)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
