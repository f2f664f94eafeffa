// Command hub is the TripWire Hub binary. It loads a YAML configuration
// file, opens the PostgreSQL storage layer, serves the HubIngestor over an
// mTLS gRPC listener, restores and periodically snapshots the ServiceCache,
// evaluates incoming metrics against the AlertEngine, exposes a JWT-
// authenticated REST query surface plus the dashboard WebSocket broadcaster
// over HTTP, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/tripwire/agent/internal/alertengine"
	"github.com/tripwire/agent/internal/audit"
	"github.com/tripwire/agent/internal/cache"
	"github.com/tripwire/agent/internal/config"
	"github.com/tripwire/agent/internal/ingestor"
	"github.com/tripwire/agent/internal/rpc"
	"github.com/tripwire/agent/internal/server/rest"
	"github.com/tripwire/agent/internal/server/storage"
	"github.com/tripwire/agent/internal/server/websocket"
)

func main() {
	configPath := flag.String("config", "/etc/tripwire/hub.yaml", "path to the TripWire hub YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadHubConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripwire-hub: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL storage ────────────────────────────────────────────────
	store, err := storage.New(ctx, cfg.DSN, cfg.BatchSize, cfg.FlushInterval)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close(context.Background())
	logger.Info("PostgreSQL storage connected")

	// ── ServiceCache (C6): restore from snapshot, then snapshot on a ticker ─
	svcCache := cache.New()
	if err := svcCache.LoadFromFile(cfg.SnapshotPath); err != nil {
		logger.Warn("cache snapshot restore failed; starting empty", slog.Any("error", err))
	} else {
		logger.Info("cache restored from snapshot",
			slog.String("path", cfg.SnapshotPath),
			slog.Int("services", svcCache.ServiceCount()),
		)
	}
	go svcCache.SnapshotLoop(ctx, cfg.SnapshotPath, cfg.SnapshotInterval, logger)

	// ── Dashboard WebSocket broadcaster ──────────────────────────────────
	broadcaster := websocket.NewBroadcaster(logger, 0)
	defer broadcaster.Close()

	// ── Tamper-evident audit trail of fired rules ────────────────────────
	auditLogger, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		logger.Error("failed to open audit log", slog.Any("error", err))
		os.Exit(1)
	}
	defer auditLogger.Close()

	// ── AlertEngine (C7), wired to fan fired rules out to the broadcaster
	// and the audit trail ────────────────────────────────────────────────
	engine := alertengine.New(
		ingestor.NewAlertStore(store),
		logger,
		alertengine.WithSuppressionWindow(cfg.SuppressionWindow),
		alertengine.WithBroadcaster(broadcasterAdapter{broadcaster}),
		alertengine.WithAuditor(auditorAdapter{auditLogger}),
	)

	// ── HubIngestor (C5) over a hand-rolled gRPC service registration ─────
	ing := ingestor.New(store, svcCache, engine, logger)

	tlsCfg, err := buildServerTLSConfig(cfg.CertDir)
	if err != nil {
		logger.Error("failed to build TLS config", slog.Any("error", err))
		os.Exit(1)
	}

	grpcSrv := grpc.NewServer(grpc.Creds(credentials.NewTLS(tlsCfg)))
	rpc.RegisterTelemetryServer(grpcSrv, ing)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen for gRPC", slog.String("addr", cfg.GRPCAddr), slog.Any("error", err))
		os.Exit(1)
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("hub ingestor listening", slog.String("addr", cfg.GRPCAddr))
		grpcErrCh <- grpcSrv.Serve(grpcListener)
	}()

	// ── REST API + WebSocket over a single HTTP(S) mux ───────────────────
	pubKeyPEM, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		logger.Error("failed to read JWT public key", slog.Any("error", err))
		os.Exit(1)
	}
	pubKey, err := rest.ParseRSAPublicKey(pubKeyPEM)
	if err != nil {
		logger.Error("failed to parse JWT public key", slog.Any("error", err))
		os.Exit(1)
	}

	restSrv := rest.NewServer(store)
	mux := http.NewServeMux()
	mux.Handle("/", rest.NewRouter(restSrv, pubKey))
	mux.Handle("/ws/alerts", websocket.NewHandler(broadcaster, logger, 0))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the WebSocket endpoint is long-lived
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("hub REST/WebSocket API listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- fmt.Errorf("http server: %w", err)
			return
		}
		httpErrCh <- nil
	}()

	// ── Wait for shutdown signal or fatal error ───────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("gRPC server error", slog.Any("error", err))
		}
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}

	logger.Info("shutting down hub")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("gRPC graceful stop timed out; forcing stop")
		grpcSrv.Stop()
	}

	if err := svcCache.SnapshotToFile(cfg.SnapshotPath); err != nil {
		logger.Warn("final cache snapshot failed", slog.Any("error", err))
	}

	logger.Info("tripwire hub exited cleanly")
}

// broadcasterAdapter satisfies alertengine.Broadcaster by converting its
// FiredAlert to websocket.AlertFired, keeping the alertengine and websocket
// packages decoupled from each other.
type broadcasterAdapter struct {
	bc *websocket.Broadcaster
}

func (a broadcasterAdapter) Publish(fired alertengine.FiredAlert) {
	a.bc.Publish(websocket.AlertFired{
		SystemID:   fired.SystemID,
		RuleID:     fired.RuleID,
		RuleName:   fired.RuleName,
		Severity:   fired.Severity,
		Expression: fired.Expression,
		Message:    fired.Message,
		FiredAt:    fired.FiredAt,
	})
}

// auditorAdapter satisfies alertengine.Auditor by discarding *audit.Logger's
// returned Entry, keeping the alertengine and audit packages decoupled.
type auditorAdapter struct {
	logger *audit.Logger
}

func (a auditorAdapter) Append(payload json.RawMessage) error {
	_, err := a.logger.Append(payload)
	return err
}

// buildServerTLSConfig loads the Hub's mTLS server identity and CA pool from
// certDir (server.crt, server.key, ca.crt), mirroring
// transport.Client.buildCredentials's client-side idiom but requiring and
// verifying the Agent's client certificate.
func buildServerTLSConfig(certDir string) (*tls.Config, error) {
	serverCert, err := tls.LoadX509KeyPair(certDir+"/server.crt", certDir+"/server.key")
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	caPEM, err := os.ReadFile(certDir + "/ca.crt")
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("parse CA cert from %s/ca.crt: no certificates found", certDir)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
