package relay

import (
	"bufio"
	"bytes"
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIsWebSocketUpgrade(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Connection", "Upgrade")
	if !isWebSocketUpgrade(r) {
		t.Fatal("expected upgrade headers to be recognized")
	}

	r2 := httptest.NewRequest("GET", "/", nil)
	if isWebSocketUpgrade(r2) {
		t.Fatal("expected plain request to not be recognized as upgrade")
	}
}

func TestComputeAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("computeAcceptKey() = %q, want %q", got, want)
	}
}

// maskedClientFrame builds a single unfragmented, masked text frame as a
// real WebSocket client would send it (RFC 6455 §5.1/§5.3). It only needs to
// cover payload lengths used by these tests (< 126 bytes).
func maskedClientFrame(payload []byte) []byte {
	var buf bytes.Buffer
	n := len(payload)
	buf.WriteByte(0x80 | opcodeText)
	buf.WriteByte(0x80 | byte(n))

	maskKey := [4]byte{0x12, 0x34, 0x56, 0x78}
	buf.Write(maskKey[:])
	masked := make([]byte, n)
	for i, b := range payload {
		masked[i] = b ^ maskKey[i%4]
	}
	buf.Write(masked)
	return buf.Bytes()
}

func TestReadFrameRoundTripsMaskedPayload(t *testing.T) {
	payload := []byte(`{"type":"stop","id":"abc"}`)
	framed := maskedClientFrame(payload)

	got, err := readFrame(bufio.NewReader(bytes.NewReader(framed)))
	if err != nil {
		t.Fatalf("readFrame() error = %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("readFrame() = %q, want %q", got, payload)
	}
}

func TestReadFrameCloseOpcode(t *testing.T) {
	frame := []byte{0x80 | opcodeClose, 0x80, 0, 0, 0, 0}
	_, err := readFrame(bufio.NewReader(bytes.NewReader(frame)))
	if err != errClosed {
		t.Fatalf("expected errClosed, got %v", err)
	}
}

func TestWriteTextFrameUnmasked(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("hello relay")
	errCh := make(chan error, 1)
	go func() { errCh <- writeTextFrame(server, payload) }()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(client)
	header := make([]byte, 2)
	if _, err := r.Read(header); err != nil {
		t.Fatalf("read frame header: %v", err)
	}
	if header[0] != 0x80|opcodeText {
		t.Fatalf("expected FIN+text opcode byte, got %#x", header[0])
	}
	if header[1]&0x80 != 0 {
		t.Fatal("server frame must not be masked")
	}

	n := int(header[1] & 0x7F)
	body := make([]byte, n)
	if _, err := r.Read(body); err != nil {
		t.Fatalf("read frame payload: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("payload = %q, want %q", body, payload)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("writeTextFrame() error = %v", err)
	}
}
