// Command agent is the TripWire agent binary. It loads a YAML configuration
// file, starts the CollectorScheduler's probe timers, mirrors every sample
// into a local SQLite queue, streams samples to the Hub over the reconnecting
// gRPC TransportClient, serves the AgentRelay WebSocket endpoint for live
// remote-control sessions, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tripwire/agent/internal/collector"
	"github.com/tripwire/agent/internal/config"
	"github.com/tripwire/agent/internal/queue"
	"github.com/tripwire/agent/internal/relay"
	"github.com/tripwire/agent/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/tripwire/agent.yaml", "path to the TripWire agent YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripwire-agent: %v\n", err)
		os.Exit(1)
	}

	if addr := os.Getenv("AGENT_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("server_url", cfg.ServerURL),
		slog.String("log_level", cfg.LogLevel),
		slog.String("listen_addr", cfg.ListenAddr),
	)

	// Open the local SQLite sample queue. It mirrors every collected sample
	// so the TransportClient can replay anything the Hub missed while
	// disconnected (spec §8 scenario 6).
	q, err := queue.New(cfg.QueuePath)
	if err != nil {
		logger.Error("failed to open sample queue", slog.String("path", cfg.QueuePath), slog.Any("error", err))
		os.Exit(1)
	}
	defer q.Close()
	logger.Info("sample queue opened", slog.String("path", cfg.QueuePath), slog.Int("pending", q.Depth()))

	// Build the reconnecting gRPC transport client.
	client := transport.New(
		transport.ClientConfig{
			Addr:         cfg.ServerURL,
			CertPath:     cfg.CertDir + "/agent.crt",
			KeyPath:      cfg.CertDir + "/agent.key",
			CAPath:       cfg.CertDir + "/ca.crt",
			AgentKey:     cfg.AgentKey,
			Platform:     runtime.GOOS,
			AgentVersion: cfg.AgentVersion,
		},
		q,
		logger,
	)

	// Build the CollectorScheduler with the configured probe periods and
	// queue capacity.
	scheduler := collector.New(logger, collector.WithQueueCapacity(cfg.QueueCapacity))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Start(ctx); err != nil {
		logger.Error("failed to start transport client", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Start(ctx)

	// pump forwards every collected sample to the local queue (for
	// crash-safe replay) and to the live transport channel (best effort;
	// a full live channel is not fatal, the queue drain will catch up).
	go pump(ctx, scheduler, q, client, logger)

	// Serve the AgentRelay WebSocket endpoint for remote command execution
	// and live on-demand metrics (spec §4.4).
	relayHandler := relay.NewHandler(logger, relay.NewUnitManager(), cfg.RelayOutputPace)
	relayServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      relayHandler,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	go func() {
		logger.Info("agent relay listening", slog.String("addr", cfg.ListenAddr))
		if err := relayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("agent relay server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	cancel()
	scheduler.Stop()
	client.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("agent relay server shutdown error", slog.Any("error", err))
	}

	logger.Info("tripwire agent exited cleanly")
}

// pump drains the scheduler's sample channel until ctx is done (the
// scheduler never closes the channel), persisting each sample to the local
// queue before attempting a best-effort live send.
func pump(ctx context.Context, scheduler *collector.Scheduler, q *queue.SQLiteQueue, client *transport.Client, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-scheduler.Samples():
			if !ok {
				return
			}
			if err := q.Enqueue(ctx, s); err != nil {
				logger.Error("failed to enqueue sample", slog.String("kind", string(s.Kind)), slog.Any("error", err))
				continue
			}
			if err := client.Send(ctx, s); err != nil {
				logger.Debug("live send skipped, queued for drain", slog.String("kind", string(s.Kind)), slog.Any("error", err))
			}
		}
	}
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
