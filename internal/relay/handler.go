package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultListenAddr is used when AGENT_LISTEN_ADDR is unset (spec.md §4.4,
// §8).
const DefaultListenAddr = "127.0.0.1:8080"

// Handler is an http.Handler that upgrades incoming connections to the
// relay's WebSocket command channel and drives each connection's dispatch
// loop, following the same hijack-and-frame idiom as
// internal/server/websocket/handler.go.
type Handler struct {
	logger     *slog.Logger
	unitMgr    UnitManager
	outputPace time.Duration

	writeTimeout time.Duration

	// reg is shared across every connection this Handler serves, so a
	// "stop" command on one connection terminates jobs on all of them
	// (§4.4: "for this or any connection").
	reg *registry
}

// NewHandler creates a Handler. If logger is nil, slog.Default() is used. If
// unitMgr is nil, NewUnitManager() picks the platform implementation.
// outputPace <= 0 uses defaultOutputPace.
func NewHandler(logger *slog.Logger, unitMgr UnitManager, outputPace time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if unitMgr == nil {
		unitMgr = NewUnitManager()
	}
	return &Handler{
		logger:       logger,
		unitMgr:      unitMgr,
		outputPace:   outputPace,
		writeTimeout: 10 * time.Second,
		reg:          newRegistry(),
	}
}

// ServeHTTP upgrades r to a WebSocket connection and runs the relay's
// read/dispatch/write loop until the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}

	conn, bufrw, err := hj.Hijack()
	if err != nil {
		h.logger.Error("relay: hijack failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	accept := computeAcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"

	if _, err := bufrw.WriteString(resp); err != nil {
		h.logger.Error("relay: handshake write failed", slog.Any("error", err))
		return
	}
	if err := bufrw.Flush(); err != nil {
		h.logger.Error("relay: handshake flush failed", slog.Any("error", err))
		return
	}

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConnectionIn(ctx, h.logger, h.unitMgr, h.outputPace, h.reg)
	h.logger.Info("relay: connection opened",
		slog.String("conn_id", connID),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("relay: read loop panic recovered",
					slog.Any("recover", rec), slog.String("conn_id", connID))
			}
		}()
		h.readLoop(bufrw.Reader, c, connID)
	}()

	for {
		select {
		case <-readDone:
			cancel()
			c.close()
			h.logger.Info("relay: connection closed", slog.String("conn_id", connID))
			return

		case payload, ok := <-c.outCh:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				h.logger.Warn("relay: set write deadline failed",
					slog.String("conn_id", connID), slog.Any("error", err))
				cancel()
				return
			}
			if err := writeTextFrame(conn, payload); err != nil {
				h.logger.Warn("relay: write frame failed",
					slog.String("conn_id", connID), slog.Any("error", err))
				cancel()
				return
			}
		}
	}
}

// readLoop reads and decodes inbound command frames until the connection
// closes, dispatching each to c.
func (h *Handler) readLoop(buf *bufio.Reader, c *connection, connID string) {
	for {
		payload, err := readFrame(buf)
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("relay: malformed command frame, closing connection",
				slog.String("conn_id", connID), slog.Any("error", err))
			return
		}
		if !c.handle(msg) {
			return
		}
	}
}
