package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-localset/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// LocalSetSnapshotProvider provides current LocalSet stats snapshots.
type LocalSetSnapshotProvider interface {
	Stats() core.LocalSetStats
}

// RuntimeSnapshotProvider provides current runtime stats snapshots.
type RuntimeSnapshotProvider interface {
	Stats() core.RuntimeStats
}

// SnapshotPoller periodically exports LocalSet/runtime Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	setsMu sync.RWMutex
	sets   map[string]LocalSetSnapshotProvider

	runtimesMu sync.RWMutex
	runtimes   map[string]RuntimeSnapshotProvider

	setTasks     *prom.GaugeVec
	setQueued    *prom.GaugeVec
	setTicks     *prom.GaugeVec
	setPolled    *prom.GaugeVec
	setCancelled *prom.GaugeVec
	setPanicked  *prom.GaugeVec
	setDriving   *prom.GaugeVec
	setClosed    *prom.GaugeVec

	runtimeQueued  *prom.GaugeVec
	runtimeActive  *prom.GaugeVec
	runtimeDelayed *prom.GaugeVec
	runtimeWorkers *prom.GaugeVec
	runtimeTasks   *prom.GaugeVec
	runtimeRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newGaugeVec(name, help string, labels ...string) *prom.GaugeVec {
	return prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "localset",
		Name:      name,
		Help:      help,
	}, labels)
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	p := &SnapshotPoller{
		interval: interval,
		sets:     make(map[string]LocalSetSnapshotProvider),
		runtimes: make(map[string]RuntimeSnapshotProvider),

		setTasks:     newGaugeVec("set_tasks", "Registered tasks that have not finished per LocalSet.", "set"),
		setQueued:    newGaugeVec("set_queued", "Tasks ready to be polled per LocalSet.", "set"),
		setTicks:     newGaugeVec("set_ticks_total", "LocalSet tick count snapshot.", "set"),
		setPolled:    newGaugeVec("set_polled_total", "LocalSet poll count snapshot.", "set"),
		setCancelled: newGaugeVec("set_cancelled_total", "LocalSet cancelled task count snapshot.", "set"),
		setPanicked:  newGaugeVec("set_panicked_total", "LocalSet panicked task count snapshot.", "set"),
		setDriving:   newGaugeVec("set_driving", "LocalSet driving state (1=driven, 0=idle).", "set"),
		setClosed:    newGaugeVec("set_closed", "LocalSet closed state (1=closed, 0=open).", "set"),

		runtimeQueued:  newGaugeVec("runtime_queued", "Queued closures per runtime.", "runtime"),
		runtimeActive:  newGaugeVec("runtime_active", "Active closures per runtime.", "runtime"),
		runtimeDelayed: newGaugeVec("runtime_delayed", "Delayed closures per runtime.", "runtime"),
		runtimeWorkers: newGaugeVec("runtime_workers", "Worker count per runtime.", "runtime"),
		runtimeTasks:   newGaugeVec("runtime_tasks", "Spawned send tasks that have not finished per runtime.", "runtime"),
		runtimeRunning: newGaugeVec("runtime_running", "Runtime running state (1=running, 0=stopped).", "runtime"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.setTasks, &p.setQueued, &p.setTicks, &p.setPolled, &p.setCancelled, &p.setPanicked,
		&p.setDriving, &p.setClosed,
		&p.runtimeQueued, &p.runtimeActive, &p.runtimeDelayed, &p.runtimeWorkers, &p.runtimeTasks,
		&p.runtimeRunning,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}

	return p, nil
}

// AddLocalSet adds or replaces a LocalSet snapshot provider by name.
func (p *SnapshotPoller) AddLocalSet(name string, provider LocalSetSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "localset")
	p.setsMu.Lock()
	p.sets[name] = provider
	p.setsMu.Unlock()
}

// AddRuntime adds or replaces a runtime snapshot provider by name.
func (p *SnapshotPoller) AddRuntime(name string, provider RuntimeSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runtime")
	p.runtimesMu.Lock()
	p.runtimes[name] = provider
	p.runtimesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (p *SnapshotPoller) collectOnce() {
	p.setsMu.RLock()
	for name, provider := range p.sets {
		stats := provider.Stats()
		p.setTasks.WithLabelValues(name).Set(float64(stats.Tasks))
		p.setQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.setTicks.WithLabelValues(name).Set(float64(stats.Ticks))
		p.setPolled.WithLabelValues(name).Set(float64(stats.Polled))
		p.setCancelled.WithLabelValues(name).Set(float64(stats.Cancelled))
		p.setPanicked.WithLabelValues(name).Set(float64(stats.Panicked))
		p.setDriving.WithLabelValues(name).Set(boolGauge(stats.Driving))
		p.setClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}
	p.setsMu.RUnlock()

	p.runtimesMu.RLock()
	for name, provider := range p.runtimes {
		stats := provider.Stats()
		p.runtimeQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.runtimeActive.WithLabelValues(name).Set(float64(stats.Active))
		p.runtimeDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.runtimeWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.runtimeTasks.WithLabelValues(name).Set(float64(stats.Tasks))
		p.runtimeRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.runtimesMu.RUnlock()
}
