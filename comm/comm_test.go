package comm_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op13/liquidplan/comm"
)

// echoServer answers every \r-terminated line with the same line
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadBytes('\r')
					if err != nil {
						return
					}
					if _, err := c.Write(line); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestSendRecvRoundTrip(t *testing.T) {
	dev := comm.NewRemoteDevice(echoServer(t), false)
	ctx := context.Background()
	require.NoError(t, dev.Open(ctx))
	defer dev.Close()
	for _, msg := range []string{"STATUS?", "1 DIST vol=5", ""} {
		resp, err := dev.SendRecv(ctx, []byte(msg))
		require.NoError(t, err)
		assert.Equal(t, msg, string(resp))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dev := comm.NewRemoteDevice(echoServer(t), false)
	ctx := context.Background()
	require.NoError(t, dev.Open(ctx))
	conn := dev.Conn
	require.NoError(t, dev.Open(ctx))
	assert.Equal(t, conn, dev.Conn)
	require.NoError(t, dev.Close())
	assert.Nil(t, dev.Conn)
	assert.NoError(t, dev.Close())
}

func TestNotConnected(t *testing.T) {
	dev := comm.NewRemoteDevice("127.0.0.1:1", false)
	_, err := dev.SendRecv(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, comm.ErrNotConnected)
}

func TestOpenGivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	dev := comm.NewRemoteDevice(addr, false)
	dev.Retry = 100 * time.Millisecond
	start := time.Now()
	err = dev.Open(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), addr)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMinIntervalSpacesCommands(t *testing.T) {
	dev := comm.NewRemoteDevice(echoServer(t), false)
	dev.MinInterval = 50 * time.Millisecond
	ctx := context.Background()
	require.NoError(t, dev.Open(ctx))
	defer dev.Close()
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := dev.SendRecv(ctx, []byte("PING"))
		require.NoError(t, err)
	}
	// the first command goes at once, the next two wait an interval each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCanceledContextStopsLimiter(t *testing.T) {
	dev := comm.NewRemoteDevice(echoServer(t), false)
	dev.MinInterval = time.Hour
	require.NoError(t, dev.Open(context.Background()))
	defer dev.Close()
	_, err := dev.SendRecv(context.Background(), []byte("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = dev.SendRecv(ctx, []byte("second"))
	assert.Error(t, err)
}
