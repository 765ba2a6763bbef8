package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConn owns one gorilla connection. Outbound frames go through a bounded
// queue drained by writePump, so Send never waits on the network.
type wsConn struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	writeTimeout time.Duration
	pingEvery    time.Duration
}

func newWsConn(c *websocket.Conn, queue int, writeTimeout, pingEvery time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		conn:         c,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingEvery:    pingEvery,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return domain.ErrConnClosed
	default:
		// queue full: the peer stopped reading, cut it loose
		slog.Warn("ws slow consumer, closing", "conn", c.id)
		_ = c.Close()
		return domain.ErrSlowConsumer
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// writePump is the only writer of data frames on the connection.
func (c *wsConn) writePump() {
	var tick <-chan time.Time
	if c.pingEvery > 0 {
		ticker := time.NewTicker(c.pingEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("ws write failed", "conn", c.id, "err", err)
				_ = c.Close()
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				slog.Debug("ws ping failed", "conn", c.id, "err", err)
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeWithCode sends a close frame and drops the transport. Used before
// the write pump starts.
func closeWithCode(c *websocket.Conn, code int, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout)); err != nil {
		slog.Debug("ws close frame failed", "code", code, "err", err)
	}
	_ = c.Close()
}
