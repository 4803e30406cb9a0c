package quic

import (
	"context"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
)

func TestGenerateSelfSignedTLS(t *testing.T) {
	cfg, err := GenerateSelfSignedTLS()
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, []string{NextProto}, cfg.NextProtos)

	cert, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.NoError(t, cert.VerifyHostname("localhost"))
	assert.NoError(t, cert.VerifyHostname("127.0.0.1"))
}

func TestLink_Loopback(t *testing.T) {
	config := protocol.DefaultConfig()
	config.InsecureSkipVerify = true
	config.MaxFrameSize = 1024

	ln, err := Listen("127.0.0.1:0", nil, config, log.NewNop())
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accepted := make(chan *Connection, 1)
	go func() {
		link, err := ln.Accept(ctx)
		if err == nil {
			accepted <- link
		}
		close(accepted)
	}()

	client, err := Dial(ctx, ln.Addr().String(), nil, config)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok, "no link accepted")
	defer server.Close()

	require.NoError(t, client.Send(ctx, []byte("proposal")))
	got, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("proposal"), got)

	require.NoError(t, server.Send(ctx, []byte("authoritative")))
	got, err = client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("authoritative"), got)

	assert.ErrorIs(t, client.Send(ctx, make([]byte, 2048)), protocol.ErrFrameTooLarge)
	assert.Error(t, client.Send(ctx, nil))

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Send(ctx, []byte("late")), protocol.ErrLinkClosed)
}
