// Package collector implements the CollectorScheduler: one logical timer per
// SampleProbe, each feeding typed samples onto a shared bounded queue with a
// drop-newest-on-full policy. The interval values (metrics 60s, system-info
// 600s, unit-services 300s) are ported from original_source's
// lynx-agent/src/lib/collectors.rs metric_collector/sysinfo_collector timers.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tripwire/agent/internal/probes"
)

// Default probe periods (§4.2).
const (
	MetricsPeriod      = 60 * time.Second
	SystemInfoPeriod   = 600 * time.Second
	UnitServicesPeriod = 300 * time.Second

	// defaultUnitServicesTimeout is the hard per-tick timeout for the
	// unit-services probe (§4.2).
	defaultUnitServicesTimeout = 15 * time.Second
	defaultProbeTimeout        = 30 * time.Second

	// defaultQueueCapacity is the shared bounded queue capacity (§3, §5).
	defaultQueueCapacity = 1024
)

// probeFunc adapts a probe function (which returns a typed payload) into a
// sample producer. The concrete Kind and payload field are filled in by the
// registering call in Scheduler.register.
type probeFunc func(ctx context.Context) (probes.Sample, error)

// Scheduler runs one ticker per registered probe and publishes resulting
// samples onto a shared bounded channel. Ticks for a given probe never
// overlap: the probe-then-send sequence runs synchronously inside each
// ticker's own goroutine, so a slow probe delays (never overlaps) its own
// next cycle.
type Scheduler struct {
	logger *slog.Logger
	queue  chan probes.Sample

	probes []registeredProbe

	cancel context.CancelFunc
	wg     sync.WaitGroup

	dropCounters sync.Map // name -> *atomic.Int64
}

type registeredProbe struct {
	name    string
	period  time.Duration
	timeout time.Duration
	fn      probeFunc
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithQueueCapacity overrides the default shared queue capacity (1024).
func WithQueueCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queue = make(chan probes.Sample, n)
		}
	}
}

// New creates a Scheduler with the standard metrics/system-info/unit-services
// probes registered at their spec-mandated periods.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: logger,
		queue:  make(chan probes.Sample, defaultQueueCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.register("metrics", MetricsPeriod, defaultProbeTimeout, func(ctx context.Context) (probes.Sample, error) {
		m, err := probes.CollectMetrics(ctx)
		if err != nil {
			return probes.Sample{}, err
		}
		return probes.Sample{Kind: probes.KindMetrics, Timestamp: time.Now().UTC(), Metrics: m}, nil
	})

	s.register("system_info", SystemInfoPeriod, defaultProbeTimeout, func(ctx context.Context) (probes.Sample, error) {
		info, err := probes.CollectSystemInfo(ctx)
		if err != nil {
			return probes.Sample{}, err
		}
		return probes.Sample{Kind: probes.KindSystemInfo, Timestamp: time.Now().UTC(), SystemInfo: info}, nil
	})

	s.register("unit_services", UnitServicesPeriod, defaultUnitServicesTimeout, func(ctx context.Context) (probes.Sample, error) {
		svcs, err := probes.CollectUnitServices(ctx)
		if err != nil {
			return probes.Sample{}, err
		}
		return probes.Sample{Kind: probes.KindUnitServices, Timestamp: time.Now().UTC(), UnitServices: svcs}, nil
	})

	return s
}

// register adds a named probe at the given period and per-tick timeout.
// Exposed at the package level (not exported) so tests can register a fake
// probe with a short period without waiting on real timers.
func (s *Scheduler) register(name string, period, timeout time.Duration, fn probeFunc) {
	s.probes = append(s.probes, registeredProbe{name: name, period: period, timeout: timeout, fn: fn})
	s.dropCounters.Store(name, new(atomic.Int64))
}

// Samples returns the channel on which collected samples are published.
func (s *Scheduler) Samples() <-chan probes.Sample {
	return s.queue
}

// Drops returns the number of samples dropped for the named probe because
// the shared queue was full at send time.
func (s *Scheduler) Drops(name string) int64 {
	v, ok := s.dropCounters.Load(name)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Start launches one goroutine per registered probe. It returns immediately;
// call Stop to terminate all goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, p := range s.probes {
		p := p
		s.wg.Add(1)
		go s.run(ctx, p)
	}
}

// Stop cancels all probe goroutines and waits for them to exit. It does not
// close the Samples channel, since a transport may still be draining it.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, p registeredProbe) {
	defer s.wg.Done()

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, p)
		}
	}
}

// tick invokes the probe under a hard per-tick timeout, logging and skipping
// the cycle on timeout, and try-sends the result onto the shared queue,
// dropping and incrementing the probe's counter on a full queue (§4.2).
func (s *Scheduler) tick(ctx context.Context, p registeredProbe) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	sample, err := p.fn(tctx)
	if err != nil {
		if tctx.Err() != nil {
			s.logger.Warn("probe tick timed out", slog.String("probe", p.name), slog.Duration("timeout", p.timeout))
		} else {
			s.logger.Warn("probe tick failed", slog.String("probe", p.name), slog.Any("error", err))
		}
		return
	}

	select {
	case s.queue <- sample:
	default:
		if v, ok := s.dropCounters.Load(p.name); ok {
			v.(*atomic.Int64).Add(1)
		}
		s.logger.Warn("sample dropped: queue full", slog.String("probe", p.name))
	}
}
