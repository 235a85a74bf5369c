package guardian

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	return conn
}

func TestUDPTransportRoundTrip(t *testing.T) {
	secret := []byte("s")
	serverConn := listenUDP(t)
	defer serverConn.Close()

	fwd := &recordingForwarder{}
	serverTransport := NewUDPTransport(serverConn, nil)
	router := NewRouter(Config{SharedSecret: secret, Forwarder: fwd, Transport: serverTransport})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serverTransport.ListenAndServe(ctx, router) }()

	clientConn := listenUDP(t)
	defer clientConn.Close()
	clientTransport := NewUDPTransport(clientConn, nil)

	require.NoError(t, clientTransport.RegisterPeer("server", serverConn.LocalAddr().String()))
	require.NoError(t, clientTransport.Send("server", frame(secret, MsgNew, 1, 0)))

	require.Eventually(t, func() bool {
		return len(fwd.forwarded) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ListenAndServe did not shut down after cancel")
	}
}

func TestUDPTransportAsDispatcherSendsToRegisteredPeer(t *testing.T) {
	serverConn := listenUDP(t)
	defer serverConn.Close()

	clientConn := listenUDP(t)
	defer clientConn.Close()
	clientTransport := NewUDPTransport(clientConn, nil)
	require.NoError(t, clientTransport.RegisterPeer("67756172", serverConn.LocalAddr().String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go clientTransport.writeLoop(ctx)

	dispatcher := clientTransport.AsDispatcher()
	require.NoError(t, dispatcher.Dispatch([]byte{0x67, 0x75, 0x61, 0x72}, []byte("frame")))

	buf := make([]byte, 64)
	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := serverConn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "frame", string(buf[:n]))
}
