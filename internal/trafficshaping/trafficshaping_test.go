package trafficshaping

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialContextWrapsConn(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	d := NewDialer(1<<20, func(ctx context.Context, network, address string) (net.Conn, error) {
		return client, nil
	})
	conn, err := d.DialContext(context.Background(), "tcp", "example.com:80")
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		server.Write([]byte("hello"))
	}()
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestDialContextError(t *testing.T) {
	mocked := errors.New("mocked error")
	d := NewDialer(1<<20, func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, mocked
	})
	_, err := d.DialContext(context.Background(), "tcp", "example.com:80")
	assert.ErrorIs(t, err, mocked)
}
