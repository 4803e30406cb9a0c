package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
)

var _ protocol.Link = (*Connection)(nil)

// Connection is a protocol.Link over a WebSocket. Frames travel as binary messages.
type Connection struct {
	id     string
	conn   *websocket.Conn
	config protocol.Config
	closed int32

	// Write mutex to ensure thread-safe writes
	writeMu sync.Mutex

	bytesSent     uint64
	bytesReceived uint64
}

// NewConnection wraps an established WebSocket.
func NewConnection(conn *websocket.Conn, config protocol.Config) *Connection {
	if config.MaxFrameSize > 0 {
		conn.SetReadLimit(int64(config.MaxFrameSize))
	}
	return &Connection{
		id:     uuid.New().String(),
		conn:   conn,
		config: config,
	}
}

// Dial connects to a host Handler at url (ws:// or wss://).
func Dial(ctx context.Context, url string, config protocol.Config) (*Connection, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial websocket")
	}
	return NewConnection(conn, config), nil
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send writes one frame. The write is bounded by ctx's deadline or the configured write
// timeout, whichever comes first.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	if c.IsClosed() {
		return protocol.ErrLinkClosed
	}
	if c.config.MaxFrameSize > 0 && uint32(len(frame)) > c.config.MaxFrameSize {
		return errors.Wrapf(protocol.ErrFrameTooLarge, "frame size %d exceeds limit %d", len(frame), c.config.MaxFrameSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var deadline time.Time
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	atomic.AddUint64(&c.bytesSent, uint64(len(frame)))
	return nil
}

// Receive blocks until a frame arrives, the link closes or ctx is done.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if c.IsClosed() {
		return nil, protocol.ErrLinkClosed
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.Wrap(err, "failed to read message")
	}
	if messageType != websocket.BinaryMessage {
		return nil, errors.New("expected binary message")
	}
	atomic.AddUint64(&c.bytesReceived, uint64(len(data)))
	return data, nil
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Close sends a close message and closes the socket.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "link closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Traffic returns bytes sent and received.
func (c *Connection) Traffic() (sent, received uint64) {
	return atomic.LoadUint64(&c.bytesSent), atomic.LoadUint64(&c.bytesReceived)
}

// Handler upgrades HTTP requests and hands each new link to accept. accept runs on the
// request goroutine and owns the link until it returns.
type Handler struct {
	upgrader websocket.Upgrader
	config   protocol.Config
	accept   func(*Connection)
	logger   log.Log
}

func NewHandler(config protocol.Config, logger log.Log, accept func(*Connection)) *Handler {
	if logger == nil {
		logger = log.Provide()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		config: config,
		accept: accept,
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	link := NewConnection(conn, h.config)
	h.logger.Debug("websocket link accepted",
		log.String("link", link.ID()),
		log.String("remote_addr", conn.RemoteAddr().String()))
	defer link.Close()
	h.accept(link)
}
