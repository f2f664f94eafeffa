package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tripwire/agent/internal/probes"
)

// outboundQueueCap bounds the per-connection outbound frame channel.
// Writes beyond this capacity are dropped with a log line (§4.4, §5).
const outboundQueueCap = 64

// defaultOutputPace is the interval between streamed subprocess output
// lines (Open Question (b) in spec.md §9, resolved as configurable with
// this default).
const defaultOutputPace = 100 * time.Millisecond

const liveMetricsInterval = time.Second

// job tracks one running subprocess or live-metrics stream owned by a
// connection, so that "stop" and disconnect can cancel it exactly once.
type job struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (j *job) stop() {
	j.once.Do(j.cancel)
}

// registry tracks every connection currently live on a Handler, so that a
// single "stop" command terminates subprocesses and live-metric tasks
// across every connection, not just the one that issued it — mirroring the
// original agent's process-wide RUNNING_PROCESSES table (§4.4).
type registry struct {
	mu    sync.Mutex
	conns map[string]*connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*connection)}
}

func (r *registry) add(connID string, c *connection) {
	r.mu.Lock()
	r.conns[connID] = c
	r.mu.Unlock()
}

func (r *registry) remove(connID string) {
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// stopAll cancels every job on every registered connection and returns the
// id of each one stopped.
func (r *registry) stopAll() []string {
	r.mu.Lock()
	conns := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var ids []string
	for _, c := range conns {
		ids = append(ids, c.stopAllJobs()...)
	}
	return ids
}

// connection holds the state for one relay WebSocket connection: the
// outbound frame queue, the registry of owned subprocess/live-metrics jobs,
// and the errgroup that joins them all on disconnect.
type connection struct {
	logger     *slog.Logger
	unitMgr    UnitManager
	outputPace time.Duration

	outCh chan []byte

	mu   sync.Mutex
	jobs map[string]*job

	eg    *errgroup.Group
	egCtx context.Context

	reg    *registry
	connID string
}

// newConnection creates a connection with a private, single-connection
// registry. Used directly by tests and by any caller that does not need
// "stop" to reach other connections; Handler.ServeHTTP instead uses
// newConnectionIn with its shared registry so "stop" is cross-connection.
func newConnection(ctx context.Context, logger *slog.Logger, unitMgr UnitManager, outputPace time.Duration) *connection {
	return newConnectionIn(ctx, logger, unitMgr, outputPace, newRegistry())
}

// newConnectionIn creates a connection registered under reg, so its jobs are
// visible to "stop" commands issued on any connection sharing reg.
func newConnectionIn(ctx context.Context, logger *slog.Logger, unitMgr UnitManager, outputPace time.Duration, reg *registry) *connection {
	if outputPace <= 0 {
		outputPace = defaultOutputPace
	}
	eg, egCtx := errgroup.WithContext(ctx)
	c := &connection{
		logger:     logger,
		unitMgr:    unitMgr,
		outputPace: outputPace,
		outCh:      make(chan []byte, outboundQueueCap),
		jobs:       make(map[string]*job),
		eg:         eg,
		egCtx:      egCtx,
		reg:        reg,
		connID:     uuid.NewString(),
	}
	reg.add(c.connID, c)
	return c
}

// close cancels every job owned by this connection, removes it from its
// registry, and waits for its jobs to exit, then closes the outbound queue.
func (c *connection) close() {
	c.reg.remove(c.connID)

	c.mu.Lock()
	for _, j := range c.jobs {
		j.stop()
	}
	c.mu.Unlock()

	_ = c.eg.Wait()
	close(c.outCh)
}

// register adds j under id, replacing any previous owner of the same id
// (ids are freshly generated uuids so this should never collide in
// practice).
func (c *connection) register(id string, j *job) {
	c.mu.Lock()
	c.jobs[id] = j
	c.mu.Unlock()
}

// unregister removes id from the registry. It is idempotent: removing an
// id that is not present (already removed by a concurrent stop) is a no-op.
func (c *connection) unregister(id string) {
	c.mu.Lock()
	delete(c.jobs, id)
	c.mu.Unlock()
}

// stopJob cancels the job registered under id, if any. Stopping an unknown
// or already-stopped id is a no-op (§4.4: "Termination is idempotent").
func (c *connection) stopJob(id string) {
	c.mu.Lock()
	j, ok := c.jobs[id]
	c.mu.Unlock()
	if ok {
		j.stop()
	}
}

// stopAllJobs cancels every job owned by this connection and returns their
// ids. Jobs remove themselves from c.jobs on exit, so this only has to
// signal termination, not wait for it (runSubprocess kills its process as
// soon as the job's context is cancelled).
func (c *connection) stopAllJobs() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.jobs))
	jobs := make([]*job, 0, len(c.jobs))
	for id, j := range c.jobs {
		ids = append(ids, id)
		jobs = append(jobs, j)
	}
	c.mu.Unlock()

	for _, j := range jobs {
		j.stop()
	}
	return ids
}

// send enqueues msg for delivery to the peer. The queue is dropped-on-full:
// a slow or stalled peer never blocks command processing (§4.4, §5).
func (c *connection) send(msg outboundMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("relay: failed to marshal outbound frame", slog.Any("error", err))
		return
	}
	select {
	case c.outCh <- b:
	default:
		c.logger.Warn("relay: outbound queue full, dropping frame", slog.String("type", msg.Type), slog.String("id", msg.ID))
	}
}

// handle dispatches one decoded inbound command. It reports whether the
// connection should stay open: an explicit "EOF" or any unrecognized type
// closes it (§4.4's frame-type table: "EOF or malformed → close").
func (c *connection) handle(msg inboundMessage) bool {
	switch msg.Type {
	case "execute":
		c.handleExecute(msg)
	case "stop":
		c.handleStopAll()
	case "startservice":
		c.handleServiceOp(msg, c.unitMgr.Start)
	case "stopservice":
		c.handleServiceOp(msg, c.unitMgr.Stop)
	case "restartservice":
		c.handleServiceOp(msg, c.unitMgr.Restart)
	case "live":
		c.handleLive(msg)
	case "EOF":
		return false
	default:
		c.logger.Warn("relay: unrecognized command type, closing connection", slog.String("type", msg.Type))
		return false
	}
	return true
}

// handleStopAll implements the "stop" command: terminate every subprocess
// and live-metric task on every connection sharing this connection's
// registry, and report each stopped id back to the peer that asked.
func (c *connection) handleStopAll() {
	ids := c.reg.stopAll()
	if len(ids) == 0 {
		c.send(outboundMessage{Type: "stop_result", Success: true})
		return
	}
	for _, id := range ids {
		c.send(outboundMessage{Type: "stop_result", ID: id, Success: true})
	}
}

func (c *connection) handleExecute(msg inboundMessage) {
	if msg.Command == "" {
		c.send(outboundMessage{Type: "error", Error: "execute: command must not be empty"})
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(c.egCtx)
	j := &job{cancel: cancel}
	c.register(id, j)

	c.send(outboundMessage{Type: "started", ID: id})

	c.eg.Go(func() error {
		defer func() {
			j.stop()
			c.unregister(id)
		}()
		runSubprocess(ctx, c, id, msg.Command, msg.Args)
		return nil
	})
}

func (c *connection) handleServiceOp(msg inboundMessage, op func(context.Context, string) error) {
	if msg.Service == "" {
		c.send(outboundMessage{Type: "error", Error: "service name must not be empty"})
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(c.egCtx, 30*time.Second)
	j := &job{cancel: cancel}
	c.register(id, j)

	c.eg.Go(func() error {
		defer func() {
			j.stop()
			c.unregister(id)
		}()
		err := op(ctx, msg.Service)
		if err != nil {
			c.send(outboundMessage{Type: msg.Type + "_result", Success: false, Error: err.Error()})
		} else {
			c.send(outboundMessage{Type: msg.Type + "_result", Success: true})
		}
		return nil
	})
}

func (c *connection) handleLive(msg inboundMessage) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(c.egCtx)
	j := &job{cancel: cancel}
	c.register(id, j)

	c.send(outboundMessage{Type: "started", ID: id})

	c.eg.Go(func() error {
		defer func() {
			j.stop()
			c.unregister(id)
		}()
		runLiveMetrics(ctx, c, id)
		return nil
	})
}

// runLiveMetrics streams a ~1s probes.Metrics sample until ctx is cancelled
// (§4.4 "live").
func runLiveMetrics(ctx context.Context, c *connection, id string) {
	ticker := time.NewTicker(liveMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, liveMetricsInterval)
			m, err := probes.CollectMetrics(tickCtx)
			cancel()
			if err != nil {
				c.logger.Warn("relay: live metrics probe failed", slog.String("id", id), slog.Any("error", err))
				continue
			}
			c.send(outboundMessage{Type: "metrics", ID: id, Metrics: m})
		}
	}
}
