package quic

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/lockstep/internal/core/protocol"
)

var _ protocol.Link = (*Connection)(nil)

const closeNormal quic.ApplicationErrorCode = 0

// Connection is a protocol.Link over a single bidirectional QUIC stream. Frames are
// length prefixed with a 4 byte big endian size.
type Connection struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	config protocol.Config
	closed int32

	writeMu sync.Mutex
}

func newConnection(conn *quic.Conn, stream *quic.Stream, config protocol.Config) *Connection {
	return &Connection{
		id:     uuid.New().String(),
		conn:   conn,
		stream: stream,
		config: config,
	}
}

// Dial connects to a Listener and opens the link stream. An empty frame is written first
// so the listener sees the stream immediately.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config, config protocol.Config) (*Connection, error) {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
			NextProtos:         []string{NextProto},
			MinVersion:         tls.VersionTLS13,
		}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial quic")
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeNormal, "no stream")
		return nil, errors.Wrap(err, "failed to open stream")
	}
	c := newConnection(conn, stream, config)
	if err := c.writeFrame(nil); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Connection) Send(ctx context.Context, frame []byte) error {
	if c.IsClosed() {
		return protocol.ErrLinkClosed
	}
	if len(frame) == 0 {
		return errors.New("empty frames are reserved")
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
	_ = c.stream.SetWriteDeadline(deadline)
	return c.writeFrame(frame)
}

// writeFrame needs writeMu held, except during Dial.
func (c *Connection) writeFrame(frame []byte) error {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(frame)))
	if _, err := c.stream.Write(size[:]); err != nil {
		return errors.Wrap(err, "failed to write length")
	}
	if len(frame) == 0 {
		return nil
	}
	if _, err := c.stream.Write(frame); err != nil {
		return errors.Wrap(err, "failed to write data")
	}
	return nil
}

// Receive returns the next non-empty frame.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	if c.IsClosed() {
		return nil, protocol.ErrLinkClosed
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.stream.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		frame, err := c.readFrame()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(frame) > 0 {
			return frame, nil
		}
	}
}

func (c *Connection) readFrame() ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(c.stream, size[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read length")
	}
	n := binary.BigEndian.Uint32(size[:])
	if c.config.MaxFrameSize > 0 && n > c.config.MaxFrameSize {
		return nil, errors.Wrapf(protocol.ErrFrameTooLarge, "frame size %d exceeds limit %d", n, c.config.MaxFrameSize)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(c.stream, frame); err != nil {
		return nil, errors.Wrap(err, "failed to read data")
	}
	return frame, nil
}

func (c *Connection) IsClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}
	_ = c.stream.Close()
	return c.conn.CloseWithError(closeNormal, "link closed")
}
