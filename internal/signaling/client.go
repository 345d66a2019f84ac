package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/registry"
)

const wsWriteWait = 1 * time.Second

var (
	errClientClosed  = errors.New("signaling client closed")
	errSendQueueFull = errors.New("signaling send queue full")
	errRateLimited   = errors.New("rate limit exceeded")
	errIdleTimeout   = errors.New("idle timeout")
)

// wsClient is one participant connection. Reads happen on the handler
// goroutine; writes are serialized through a bounded queue drained by
// writePump, so Send never blocks the router.
type wsClient struct {
	conn    *websocket.Conn
	router  *Router
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.TokenBucket

	idleTimeout  time.Duration
	pingInterval time.Duration

	queue chan []byte
	done  chan struct{}

	// Identity the connection's token restricts registration to; empty
	// fields are unrestricted.
	boundRole registry.Role
	boundID   string

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func (c *wsClient) boundIdentity() (registry.Role, string) {
	return c.boundRole, c.boundID
}

func (c *wsClient) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		// A peer that cannot keep up is disconnected rather than buffered
		// without bound.
		c.closeLocked(websocket.CloseTryAgainLater, "send queue full")
		return errSendQueueFull
	}
}

func (c *wsClient) closeWith(code int, reason string) {
	c.mu.Lock()
	c.closeLocked(code, reason)
	c.mu.Unlock()
}

func (c *wsClient) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.done)
}

// readLoop feeds frames to the router until the connection fails, goes idle,
// or exceeds its rate limit.
func (c *wsClient) readLoop() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return errIdleTimeout
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		// Consume the message before enforcing the limit so the close frame is
		// not lost to a reset caused by unread data.
		if c.limiter != nil && !c.limiter.Allow(1) {
			c.metrics.Inc(metrics.WSFramesRateLimited)
			if frame, ok := c.router.encode(errorFrame{Type: MessageTypeError, Message: "rate limit exceeded"}); ok {
				_ = c.Send(frame)
			}
			return errRateLimited
		}
		if msgType != websocket.TextMessage {
			c.metrics.Inc(metrics.WSFramesMalformed)
			continue
		}
		c.router.Dispatch(c, data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			c.flush()
			c.mu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.mu.Unlock()
			if code != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
			}
			return
		}
	}
}

// flush writes frames that were queued before close, such as a final error.
func (c *wsClient) flush() {
	for {
		select {
		case frame := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
