package quic

import (
	"context"
	"crypto/tls"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
)

// Listener accepts QUIC links.
type Listener struct {
	listener *quic.Listener
	config   protocol.Config
	closed   int32 // atomic bool
	logger   log.Log
}

// Listen starts listening on addr. A nil tlsConfig gets a self-signed certificate.
func Listen(addr string, tlsConfig *tls.Config, config protocol.Config, logger log.Log) (*Listener, error) {
	if logger == nil {
		logger = log.Provide()
	}
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			return nil, errors.Wrap(err, "failed to generate tls config")
		}
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}
	l := &Listener{
		listener: ln,
		config:   config,
		logger:   logger.With(log.String("listener_addr", ln.Addr().String())),
	}
	l.logger.Info("QUIC listener created")
	return l, nil
}

// Accept waits for a connection and its link stream.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	if atomic.LoadInt32(&l.closed) == 1 {
		return nil, protocol.ErrLinkClosed
	}
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to accept QUIC connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeNormal, "no stream")
		return nil, errors.Wrap(err, "failed to accept stream")
	}
	link := newConnection(conn, stream, l.config)
	l.logger.Debug("QUIC link accepted",
		log.String("link", link.ID()),
		log.String("remote_addr", conn.RemoteAddr().String()))
	return link, nil
}

func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil // Already closed
	}
	l.logger.Info("Closing QUIC listener")
	return l.listener.Close()
}
