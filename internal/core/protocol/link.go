package protocol

import (
	"context"
	"net"
	"time"
)

// Link carries whole frames between two peers. Send is safe for concurrent use; Receive
// must only be called from one goroutine at a time.
type Link interface {
	ID() string
	RemoteAddr() net.Addr
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Config holds transport settings shared by every link kind.
type Config struct {
	MaxFrameSize uint32        `yaml:"max_frame_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// InsecureSkipVerify disables certificate checks when dialing QUIC.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize: 64 * 1024,
		WriteTimeout: 5 * time.Second,
	}
}
