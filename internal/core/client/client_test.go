package client

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dcrodman/gatehouse/internal/core/frame"
)

func newTestListener(t *testing.T) (*net.TCPListener, *net.TCPAddr) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return listener, listener.Addr().(*net.TCPAddr)
}

func newTestConnection(t *testing.T, addr *net.TCPAddr) *net.TCPConn {
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		t.Fatalf("error initializing test connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newConnectedClient returns a Client for the server side of a loopback
// connection along with the peer's end.
func newConnectedClient(t *testing.T) (*Client, *net.TCPConn) {
	serverListener, addr := newTestListener(t)
	conn := newTestConnection(t, addr)

	clientConn, err := serverListener.AcceptTCP()
	if err != nil {
		t.Fatalf("error initializing client connection: %s", err)
	}
	return NewClient(clientConn), conn
}

func TestNewClient_Address(t *testing.T) {
	client, conn := newConnectedClient(t)
	defer client.Close()

	if client.IPAddr() != "127.0.0.1" {
		t.Errorf("expected IPAddr() = 127.0.0.1, got = %s", client.IPAddr())
	}

	_, localPort, _ := net.SplitHostPort(conn.LocalAddr().String())
	if client.Port() != localPort {
		t.Errorf("expected Port() = %s, got = %s", localPort, client.Port())
	}
}

func TestClient_Read(t *testing.T) {
	client, conn := newConnectedClient(t)
	defer client.Close()

	want := frame.Encode(frame.KindHandshake, []byte("handshake_data"))
	if _, err := conn.Write(want); err != nil {
		t.Fatalf("error writing to test connection: %s", err)
	}

	buf := make([]byte, len(want))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("Read() returned an unexpected error: %s", err)
	}

	if diff := cmp.Diff(want, buf); diff != "" {
		t.Fatalf("Read() result did not match expected; diff:\n%s", diff)
	}
}

func TestClient_Send(t *testing.T) {
	client, conn := newConnectedClient(t)

	if err := client.Send(frame.KindLoginReply, []byte{0x00, 'o', 'k'}); err != nil {
		t.Fatalf("Send() returned an unexpected error: %s", err)
	}
	client.Close()

	got, err := frame.NewReader(conn, 0).ReadFrame()
	if err != nil {
		t.Fatalf("error reading from test connection: %s", err)
	}

	want := &frame.Frame{Kind: frame.KindLoginReply, Payload: []byte{0x00, 'o', 'k'}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frame read from test connection did not match expected; diff:\n%s", diff)
	}
}

func TestClient_SendConcurrent(t *testing.T) {
	client, conn := newConnectedClient(t)

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := make([]byte, 512)
			for j := range payload {
				payload[j] = byte(i)
			}
			for j := 0; j < perSender; j++ {
				if err := client.Send(frame.KindModuleReply, payload); err != nil {
					t.Errorf("Send() returned an unexpected error: %v", err)
					return
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		client.Close()
	}()

	r := frame.NewReader(conn, 0)
	for n := 0; n < senders*perSender; n++ {
		f, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() #%d returned an unexpected error: %v", n, err)
		}
		// Interleaved writes would mix bytes from different senders.
		for _, b := range f.Payload {
			if b != f.Payload[0] {
				t.Fatalf("frame #%d contains bytes from more than one sender", n)
			}
		}
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client, _ := newConnectedClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() returned an unexpected error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() returned an unexpected error: %v", err)
	}
}

func TestClient_SetReadDeadline(t *testing.T) {
	client, _ := newConnectedClient(t)
	defer client.Close()

	if err := client.SetReadDeadline(10 * time.Millisecond); err != nil {
		t.Fatalf("SetReadDeadline() returned an unexpected error: %v", err)
	}

	_, err := client.Read(make([]byte, 1))
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("expected a timeout error, got %v", err)
	}
}

func TestClient_OnSend(t *testing.T) {
	client, conn := newConnectedClient(t)
	defer client.Close()

	var seen []frame.Kind
	client.Debug = true
	client.OnSend = func(_ *Client, f *frame.Frame) { seen = append(seen, f.Kind) }

	if err := client.Send(frame.KindErrorReply, []byte{0x05}); err != nil {
		t.Fatalf("Send() returned an unexpected error: %v", err)
	}
	if _, err := frame.NewReader(conn, 0).ReadFrame(); err != nil {
		t.Fatalf("error reading from test connection: %v", err)
	}

	if diff := cmp.Diff([]frame.Kind{frame.KindErrorReply}, seen); diff != "" {
		t.Errorf("OnSend observed unexpected frames; diff:\n%s", diff)
	}
}
