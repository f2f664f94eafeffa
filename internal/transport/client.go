// Package transport implements the Agent's TransportClient (C3): a
// reconnecting mTLS gRPC client that reports probes.Sample values to the
// Hub's Telemetry service (internal/rpc). It keeps the teacher's
// connect/backoff/queue-drain design (internal/transport/grpc_client.go in
// the starting tree) but generalises the payload from a single streamed
// AlertEvent type to the three unary report RPCs of internal/rpc, and
// replaces the hand-rolled jittered backoff with
// github.com/cenkalti/backoff/v4, already present in the dependency tree.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tripwire/agent/internal/probes"
	"github.com/tripwire/agent/internal/queue"
	"github.com/tripwire/agent/internal/rpc"
)

// agentKeyMetadataKey is the gRPC metadata key under which every report RPC
// carries the agent's pre-shared identity token (§4.5, §6), resolved
// server-side by internal/ingestor rather than trusted from the request body.
const agentKeyMetadataKey = "x-agent-key"

const (
	// defaultMaxBackoff is the ceiling for the exponential reconnect back-off.
	defaultMaxBackoff = 30 * time.Second

	// drainBatchSize is the number of samples dequeued per iteration in
	// drainQueue.
	drainBatchSize = 50

	// liveChanCap is the capacity of the buffered channel used to forward
	// live samples from Send to the run-loop goroutine.
	liveChanCap = 256

	// registerTimeout bounds each RegisterAgent call.
	registerTimeout = 10 * time.Second

	// reportTimeout bounds each individual report RPC.
	reportTimeout = 10 * time.Second
)

// DrainQueue is the subset of [queue.SQLiteQueue] used by Client. It is
// satisfied by *queue.SQLiteQueue and can be stubbed in unit tests.
type DrainQueue interface {
	// Dequeue returns up to n unacknowledged samples in insertion order.
	Dequeue(ctx context.Context, n int) ([]queue.PendingSample, error)
	// Ack marks samples as delivered. Idempotent.
	Ack(ctx context.Context, ids []int64) error
	// Depth returns the count of pending (unacknowledged) samples.
	Depth() int
}

// ClientConfig holds the parameters for connecting to the Hub.
type ClientConfig struct {
	// Addr is the hub's gRPC address (e.g. "hub.example.com:4443"). Required.
	Addr string

	// CertPath, KeyPath, CAPath locate the agent's mTLS client identity and
	// the CA used to verify the hub's server certificate. Required unless
	// Insecure is true.
	CertPath string
	KeyPath  string
	CAPath   string

	// ServerName overrides the TLS server name for SNI verification.
	ServerName string

	// AgentKey is an opaque pre-shared credential sent in RegisterAgent
	// and as x-agent-key metadata on every report RPC (§4.3).
	AgentKey string

	// Hostname is the agent host name sent in RegisterAgent. When empty,
	// os.Hostname() is used.
	Hostname string

	// Platform is the OS label sent in RegisterAgent (e.g. "linux").
	Platform string

	// AgentVersion is the semantic version sent in RegisterAgent.
	AgentVersion string

	// MaxBackoff is the maximum reconnect back-off interval. Defaults to
	// defaultMaxBackoff when zero or negative.
	MaxBackoff time.Duration

	// Insecure disables TLS entirely. Use only in tests; never in production.
	Insecure bool
}

// Client is a reconnecting gRPC client that reports probes.Sample values to
// the Hub. It is safe for concurrent use: Send may be called from any
// goroutine while the internal run loop manages the connection.
//
// Use New to construct a Client. Call Start once to begin the connection
// loop. Call Stop to shut down cleanly.
type Client struct {
	cfg    ClientConfig
	queue  DrainQueue
	logger *slog.Logger

	liveCh chan probes.Sample

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	idMu     sync.RWMutex
	systemID string

	samplesSentTotal atomic.Int64
	reconnectTotal   atomic.Int64
}

// New creates a new Client but does not start it. Call Start to begin the
// connection loop.
//
//   - cfg must have Addr set; CertPath/KeyPath/CAPath are required unless
//     cfg.Insecure is true (testing only).
//   - q is the local SQLite mirror queue; it is used to drain pending
//     samples on each reconnect. May be nil, in which case draining is
//     skipped.
//   - logger is used for structured logging; pass slog.Default() when no
//     custom logger is required.
func New(cfg ClientConfig, q DrainQueue, logger *slog.Logger) *Client {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		queue:  q,
		logger: logger,
		liveCh: make(chan probes.Sample, liveChanCap),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the connection loop in a background goroutine and returns
// immediately.
func (c *Client) Start(ctx context.Context) error {
	go c.run(ctx)
	return nil
}

// Send forwards s to the live channel consumed by the connection goroutine.
//
// Send returns an error if the live channel is full (back-pressure from a
// slow or disconnected hub) or if the client has been stopped. The caller
// should already have persisted s to the local queue before calling Send; a
// failed Send is not fatal because the sample will be re-delivered by the
// queue drain on reconnect (§8 scenario 6).
func (c *Client) Send(ctx context.Context, s probes.Sample) error {
	select {
	case c.liveCh <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return fmt.Errorf("transport: stopped")
	default:
		return fmt.Errorf("transport: live channel full, sample will be delivered via queue")
	}
}

// Stop signals the run loop to exit and blocks until it has. Calling Stop
// more than once is safe.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

// SamplesSentTotal returns the total number of samples the hub has
// acknowledged since the client was created.
func (c *Client) SamplesSentTotal() int64 { return c.samplesSentTotal.Load() }

// ReconnectTotal returns the total number of reconnect attempts (connection
// losses) since the client was created.
func (c *Client) ReconnectTotal() int64 { return c.reconnectTotal.Load() }

// QueueDepth delegates to the underlying DrainQueue.Depth. It returns 0 when
// no queue is configured.
func (c *Client) QueueDepth() int {
	if c.queue == nil {
		return 0
	}
	return c.queue.Depth()
}

// SystemID returns the system id assigned by the hub during the most recent
// successful RegisterAgent call. It returns an empty string before the
// first successful registration.
func (c *Client) SystemID() string {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.systemID
}

// --- internal ---

// newBackoff builds the cenkalti/backoff/v4 policy used by run: exponential
// growth with the package's default jitter, capped at cfg.MaxBackoff, and
// never giving up (MaxElapsedTime = 0).
func (c *Client) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run is the main connection loop. It exits when stopCh is closed or ctx is
// cancelled. On each connection failure it increments reconnectTotal and
// sleeps for the next back-off interval before retrying. The back-off is
// not reset between cycles: its interval keeps growing across every
// failure for the life of the client, up to cfg.MaxBackoff.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	bo := c.newBackoff()
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		if !first {
			wait := bo.NextBackOff()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
		first = false

		err := c.runOnce(ctx)
		if err == nil {
			return
		}

		c.reconnectTotal.Add(1)
		c.logger.Warn("transport: connection lost, reconnecting", slog.Any("error", err))
	}
}

// runOnce performs a single connect -> register -> drain -> live cycle. It
// returns nil only when the exit is clean (stop/context cancellation). Any
// other return value means the connection was lost and the caller should
// retry with back-off.
func (c *Client) runOnce(ctx context.Context) error {
	creds, err := c.buildCredentials()
	if err != nil {
		return fmt.Errorf("build TLS credentials: %w", err)
	}

	conn, err := grpc.NewClient(c.cfg.Addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()

	client := rpc.NewTelemetryClient(conn)

	hostname := c.cfg.Hostname
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}

	regCtx, regCancel := context.WithTimeout(ctx, registerTimeout)
	resp, err := client.RegisterAgent(regCtx, &rpc.RegisterRequest{
		AgentKey:     c.cfg.AgentKey,
		Hostname:     hostname,
		Platform:     c.cfg.Platform,
		AgentVersion: c.cfg.AgentVersion,
	})
	regCancel()
	if err != nil {
		return fmt.Errorf("RegisterAgent: %w", err)
	}

	c.idMu.Lock()
	c.systemID = resp.SystemID
	c.idMu.Unlock()

	c.logger.Info("transport: registered with hub",
		slog.String("system_id", resp.SystemID),
		slog.String("hub_addr", c.cfg.Addr),
	)

	if c.queue != nil && c.queue.Depth() > 0 {
		c.logger.Info("transport: draining queue before live samples", slog.Int("depth", c.queue.Depth()))
		if err := c.drainQueue(ctx, client); err != nil {
			select {
			case <-c.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("queue drain: %w", err)
			}
		}
		c.logger.Info("transport: queue drain complete")
	}

	if err := c.processLive(ctx, client); err != nil {
		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
			return err
		}
	}
	return nil
}

// drainQueue sends all pending samples from the queue to the hub in FIFO
// order, acknowledging each one the hub reports as received.
func (c *Client) drainQueue(ctx context.Context, client rpc.TelemetryClient) error {
	systemID := c.SystemID()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		pending, err := c.queue.Dequeue(ctx, drainBatchSize)
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		for _, ps := range pending {
			ack, err := c.report(ctx, client, systemID, ps.Sample)
			if err != nil {
				if !shouldReconnect(err) {
					c.logger.Warn("transport: queued report rejected, continuing",
						slog.String("kind", string(ps.Sample.Kind)), slog.Any("error", err))
					continue
				}
				return fmt.Errorf("send (queued): %w", err)
			}
			if !ack {
				c.logger.Warn("transport: hub rejected queued sample", slog.String("kind", string(ps.Sample.Kind)))
				continue
			}
			if ackErr := c.queue.Ack(ctx, []int64{ps.ID}); ackErr != nil {
				c.logger.Warn("transport: queue Ack failed", slog.Int64("queue_id", ps.ID), slog.Any("error", ackErr))
				continue
			}
			c.samplesSentTotal.Add(1)
		}
	}
}

// processLive forwards live samples received from Send to the hub until
// ctx is cancelled, stopCh is closed, or a send error occurs.
func (c *Client) processLive(ctx context.Context, client rpc.TelemetryClient) error {
	systemID := c.SystemID()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case s := <-c.liveCh:
			ack, err := c.report(ctx, client, systemID, s)
			if err != nil {
				if !shouldReconnect(err) {
					c.logger.Warn("transport: live report rejected, continuing",
						slog.String("kind", string(s.Kind)), slog.Any("error", err))
					continue
				}
				return fmt.Errorf("send (live): %w", err)
			}
			if ack {
				c.samplesSentTotal.Add(1)
			} else {
				c.logger.Warn("transport: hub rejected live sample", slog.String("kind", string(s.Kind)))
			}
		}
	}
}

// shouldReconnect classifies a report RPC error per §4.3's three-way split.
// Unavailable and DeadlineExceeded indicate the session itself is broken and
// warrant tearing it down for a backed-off reconnect. Unauthenticated and
// PermissionDenied are authentication failures that a reconnect cannot fix
// and must not be retried loop-hot; every other status (including
// non-status errors such as nil payload validation) is treated the same
// way: logged, and the run loop keeps the existing session.
func shouldReconnect(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// report dispatches s to the matching unary RPC for its Kind. A GPU-kind
// sample has no dedicated RPC: it is a no-op that acknowledges immediately
// and sends nothing. The only GPU data on the wire is
// SystemInfoRequest.GPUDevices, copied from a system-info sample's
// GPUInventory; MetricsRequest carries no GPU fields (see internal/rpc).
func (c *Client) report(ctx context.Context, client rpc.TelemetryClient, systemID string, s probes.Sample) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	rctx = metadata.AppendToOutgoingContext(rctx, agentKeyMetadataKey, c.cfg.AgentKey)

	switch s.Kind {
	case probes.KindMetrics:
		if s.Metrics == nil {
			return false, fmt.Errorf("transport: metrics sample has nil payload")
		}
		resp, err := client.ReportMetrics(rctx, toMetricsRequest(systemID, s))
		if err != nil {
			return false, err
		}
		return resp.Ack, nil

	case probes.KindSystemInfo:
		if s.SystemInfo == nil {
			return false, fmt.Errorf("transport: system_info sample has nil payload")
		}
		resp, err := client.ReportSystemInfo(rctx, toSystemInfoRequest(systemID, s))
		if err != nil {
			return false, err
		}
		return resp.Ack, nil

	case probes.KindUnitServices:
		resp, err := client.ReportUnitServices(rctx, toUnitServicesRequest(systemID, s))
		if err != nil {
			return false, err
		}
		return resp.Ack, nil

	case probes.KindGPUInventory, probes.KindGPUMetrics:
		return true, nil

	default:
		return false, fmt.Errorf("transport: unknown sample kind %q", s.Kind)
	}
}

// buildCredentials constructs gRPC transport credentials from the config.
// When cfg.Insecure is true it returns insecure credentials (testing only).
func (c *Client) buildCredentials() (credentials.TransportCredentials, error) {
	if c.cfg.Insecure {
		return insecure.NewCredentials(), nil
	}

	clientCert, err := tls.LoadX509KeyPair(c.cfg.CertPath, c.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key (%s, %s): %w", c.cfg.CertPath, c.cfg.KeyPath, err)
	}

	caPEM, err := os.ReadFile(c.cfg.CAPath)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", c.cfg.CAPath, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert from %s: no certificates found", c.cfg.CAPath)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}
	if c.cfg.ServerName != "" {
		tlsCfg.ServerName = c.cfg.ServerName
	}

	return credentials.NewTLS(tlsCfg), nil
}
