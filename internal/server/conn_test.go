package server

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arlimus/compressd/internal/protocol"
	"github.com/arlimus/compressd/internal/stats"
)

// createTestTCPPair returns a connected pair of TCP connections for testing,
// with the listener-accepted side first.
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	serverConn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	select {
	case clientConn := <-clientChan:
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

func readResponse(t *testing.T, conn *net.TCPConn) []byte {
	t.Helper()

	header := make([]byte, protocol.HeaderSize)
	_, err := readFull(conn, header)
	require.NoError(t, err)

	length := binary.BigEndian.Uint16(header[4:6])
	if length == 0 {
		return header
	}

	payload := make([]byte, length)
	_, err = readFull(conn, payload)
	require.NoError(t, err)

	return append(header, payload...)
}

func readFull(conn *net.TCPConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func requestFrame(code uint16, payload []byte) []byte {
	return protocol.EncodeResponse(protocol.Status(code), payload)
}

func TestConn_PingRoundTrip(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	st := stats.New()
	c := newConn(serverConn, nil, st, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	_, err := clientConn.Write(requestFrame(uint16(protocol.RequestPing), nil))
	require.NoError(t, err)

	resp := readResponse(t, clientConn)
	h, _, status := protocol.DecodeMessage(resp)
	require.Equal(t, protocol.StatusOk, status)
	require.Equal(t, uint16(protocol.StatusOk), h.Code)

	snap := st.Snapshot()
	require.EqualValues(t, protocol.HeaderSize, snap.BytesIn)
	require.EqualValues(t, protocol.HeaderSize, snap.BytesOut)

	cancel()
	clientConn.Close()
	<-done
}

func TestConn_ResponsesPreserveRequestOrder(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	st := stats.New()
	c := newConn(serverConn, nil, st, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	inputs := [][]byte{[]byte("aaa"), []byte("bbbb"), []byte("c")}
	want := []string{"3a", "4b", "c"}

	// Each Read is one candidate frame, so the requests are spaced out to
	// arrive in separate reads; no response is read until all are sent.
	for _, in := range inputs {
		_, err := clientConn.Write(requestFrame(uint16(protocol.RequestCompress), in))
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	for i := range inputs {
		resp := readResponse(t, clientConn)
		_, payload, status := protocol.DecodeMessage(resp)
		require.Equal(t, protocol.StatusOk, status)
		require.Equal(t, want[i], string(payload))
	}

	cancel()
	clientConn.Close()
	<-done
}

func TestConn_MessageTooSmall(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	st := stats.New()
	c := newConn(serverConn, nil, st, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	_, err := clientConn.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	resp := readResponse(t, clientConn)
	h, _, _ := protocol.DecodeMessage(resp)
	require.Equal(t, uint16(protocol.StatusMessageTooSmall), h.Code)

	cancel()
	clientConn.Close()
	<-done
}

func TestConn_BadMagic_ConnectionStaysOpen(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	st := stats.New()
	c := newConn(serverConn, nil, st, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	bad := make([]byte, protocol.HeaderSize)
	binary.BigEndian.PutUint16(bad[6:8], uint16(protocol.RequestPing))
	_, err := clientConn.Write(bad)
	require.NoError(t, err)

	resp := readResponse(t, clientConn)
	h, _, _ := protocol.DecodeMessage(resp)
	require.Equal(t, uint16(protocol.StatusBadMagic), h.Code)

	// The connection must still be usable afterwards.
	_, err = clientConn.Write(requestFrame(uint16(protocol.RequestPing), nil))
	require.NoError(t, err)
	resp = readResponse(t, clientConn)
	h, _, _ = protocol.DecodeMessage(resp)
	require.Equal(t, uint16(protocol.StatusOk), h.Code)

	cancel()
	clientConn.Close()
	<-done
}

func TestConn_OversizedFrame_ReportedOnce(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	st := stats.New()
	c := newConn(serverConn, nil, st, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Just over MAX_MESSAGE: the drain read picks up the small remainder,
	// which is well under MAX_PAYLOAD, so the connection is reported to but
	// not dropped.
	oversized := make([]byte, protocol.MaxMessage+50)
	_, err := clientConn.Write(oversized)
	require.NoError(t, err)

	resp := readResponse(t, clientConn)
	h, _, _ := protocol.DecodeMessage(resp)
	require.Equal(t, uint16(protocol.StatusMessageTooLarge), h.Code)

	// The connection must still be usable afterwards.
	_, err = clientConn.Write(requestFrame(uint16(protocol.RequestPing), nil))
	require.NoError(t, err)
	resp = readResponse(t, clientConn)
	h, _, _ = protocol.DecodeMessage(resp)
	require.Equal(t, uint16(protocol.StatusOk), h.Code)

	cancel()
	clientConn.Close()
	<-done
}

func TestConn_FloodedConnection_DroppedWithoutResponse(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	st := stats.New()
	c := newConn(serverConn, nil, st, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Large enough that both the initial read and the drain read exceed
	// their respective thresholds, tripping the flood heuristic in a
	// single pass.
	flood := make([]byte, protocol.MaxMessage+protocol.MaxPayload+100)
	_, err := clientConn.Write(flood)
	require.NoError(t, err)

	buf := make([]byte, 1)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = clientConn.Read(buf)
	require.Error(t, err, "expected connection to be dropped without a response")

	cancel()
	clientConn.Close()
	<-done
}

func TestConn_ClientClosesCleanly(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)

	st := stats.New()
	c := newConn(serverConn, nil, st, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	clientConn.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connection task did not exit after client closed")
	}
}
