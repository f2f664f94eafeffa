package relay

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// dialAndUpgrade performs a minimal RFC 6455 client handshake against srv and
// returns the raw TCP connection plus a buffered reader over it.
func dialAndUpgrade(t *testing.T, srv *httptest.Server) (net.Conn, *bufio.Reader) {
	t.Helper()

	addr := srv.Listener.Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	req := "GET / HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	r := bufio.NewReader(conn)
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101 Switching Protocols, got %d", resp.StatusCode)
	}
	return conn, r
}

func writeClientFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	framed := maskedClientFrame(payload)
	if _, err := conn.Write(framed); err != nil {
		t.Fatalf("write client frame: %v", err)
	}
}

func readServerFrame(t *testing.T, r *bufio.Reader) outboundMessage {
	t.Helper()
	payload, err := readFrame(r)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	var msg outboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHandlerExecuteEndToEnd(t *testing.T) {
	h := NewHandler(discardLogger(), &fakeUnitManager{}, 5*time.Millisecond)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, r := dialAndUpgrade(t, srv)
	defer conn.Close()

	cmd, _ := json.Marshal(inboundMessage{Type: "execute", Command: "echo", Args: []string{"ping"}})
	writeClientFrame(t, conn, cmd)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	started := readServerFrame(t, r)
	if started.Type != "started" {
		t.Fatalf("expected started frame, got %+v", started)
	}

	var sawEOF bool
	for i := 0; i < 20 && !sawEOF; i++ {
		msg := readServerFrame(t, r)
		if msg.Type == "eof" {
			sawEOF = true
			if !msg.Success {
				t.Fatalf("expected success eof, got %+v", msg)
			}
		}
	}
	if !sawEOF {
		t.Fatal("never received eof frame")
	}
}

func TestHandlerRejectsNonUpgradeRequest(t *testing.T) {
	h := NewHandler(discardLogger(), &fakeUnitManager{}, 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected %d, got %d", http.StatusUpgradeRequired, resp.StatusCode)
	}
}

func TestHandlerClosesConnectionOnMalformedFrame(t *testing.T) {
	h := NewHandler(discardLogger(), &fakeUnitManager{}, 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, r := dialAndUpgrade(t, srv)
	defer conn.Close()

	writeClientFrame(t, conn, []byte("not json"))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := r.Peek(1); err == nil {
		t.Fatal("expected the connection to be closed after a malformed frame, but more data was available")
	}
}

func TestHandlerClosesConnectionOnUnrecognizedType(t *testing.T) {
	h := NewHandler(discardLogger(), &fakeUnitManager{}, 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, r := dialAndUpgrade(t, srv)
	defer conn.Close()

	cmd, _ := json.Marshal(inboundMessage{Type: "bogus"})
	writeClientFrame(t, conn, cmd)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := r.Peek(1); err == nil {
		t.Fatal("expected the connection to be closed after an unrecognized type, but more data was available")
	}
}

func TestHandlerStopIsCrossConnection(t *testing.T) {
	h := NewHandler(discardLogger(), &fakeUnitManager{}, 5*time.Millisecond)
	srv := httptest.NewServer(h)
	defer srv.Close()

	connA, rA := dialAndUpgrade(t, srv)
	defer connA.Close()
	connB, rB := dialAndUpgrade(t, srv)
	defer connB.Close()

	cmd, _ := json.Marshal(inboundMessage{Type: "execute", Command: "sleep", Args: []string{"5"}})
	writeClientFrame(t, connB, cmd)
	connB.SetReadDeadline(time.Now().Add(5 * time.Second))
	started := readServerFrame(t, rB)
	if started.Type != "started" || started.ID == "" {
		t.Fatalf("expected started frame with id, got %+v", started)
	}

	stop, _ := json.Marshal(inboundMessage{Type: "stop"})
	writeClientFrame(t, connA, stop)
	connA.SetReadDeadline(time.Now().Add(5 * time.Second))
	result := readServerFrame(t, rA)
	if result.Type != "stop_result" || !result.Success || result.ID != started.ID {
		t.Fatalf("expected stop_result for %s on the requesting connection, got %+v", started.ID, result)
	}
}

func TestHandlerServiceOpEndToEnd(t *testing.T) {
	um := &fakeUnitManager{}
	h := NewHandler(discardLogger(), um, 0)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, r := dialAndUpgrade(t, srv)
	defer conn.Close()

	cmd, _ := json.Marshal(inboundMessage{Type: "restartservice", Service: "sshd"})
	writeClientFrame(t, conn, cmd)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg := readServerFrame(t, r)
	if msg.Type != "restartservice_result" || !msg.Success {
		t.Fatalf("expected successful restartservice_result, got %+v", msg)
	}
}
