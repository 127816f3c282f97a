// Package health implements the health monitor half of C9: periodic checks
// of LLM reachability, vector store, relational store, disk free, and memory
// free, each against a warn/critical threshold pair, with a consecutive-
// critical-triggered restart policy. Grounded on the same retention-sweep
// ticker-loop shape, generalized from a single sweep to N independent
// component checks feeding one Snapshot.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/edge-tutor/node/pkg/ports"
)

// Status is one component's (or the system's overall) health state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarn     Status = "warn"
	StatusCritical Status = "critical"
)

// Component names, used as Snapshot.Components map keys (spec §6 health op).
const (
	ComponentLLM        = "llm"
	ComponentVectorStore = "vector_store"
	ComponentRelational  = "relational_store"
	ComponentDisk        = "disk"
	ComponentMemory      = "memory"
)

// ComponentStatus is one component's current reading.
type ComponentStatus struct {
	Status Status
	Detail string
}

// Snapshot is the health() operation's response (spec §6).
type Snapshot struct {
	Components map[string]ComponentStatus
	Overall    Status
}

// LlmHealthChecker is an optional extension an LlmPort implementation may
// satisfy to support a cheap reachability probe distinct from Stream.
// llmhttp.Client implements this; a fake LlmPort that doesn't is treated as
// always-healthy (nothing to check).
type LlmHealthChecker interface {
	Healthy(ctx context.Context) error
}

// Thresholds pairs a warn and critical boundary for one metric, expressed as
// percent-used (0-100), matching pkg/config.HealthConfig's DiskWarnPct-style
// fields: crossing WarnUsedPct is a warning, crossing CriticalUsedPct is
// critical.
type Thresholds struct {
	WarnUsedPct     float64
	CriticalUsedPct float64
}

var (
	defaultDiskThresholds   = Thresholds{WarnUsedPct: 80, CriticalUsedPct: 95}
	defaultMemoryThresholds = Thresholds{WarnUsedPct: 80, CriticalUsedPct: 95}
)

// RestartPolicy is invoked once consecutive-critical readings for any
// component reach Config.CriticalStreakLimit. Its job (spec §4.9) is to
// drain the scheduler, cancel in-flight requests, flush queues, and exit
// with a distinguishable code; the restart itself is delegated to the
// process manager.
type RestartPolicy interface {
	Trigger(ctx context.Context, component string, reason string)
}

// Config configures a Monitor. Zero values fall back to package defaults.
type Config struct {
	CheckInterval        time.Duration
	DiskPath             string
	DiskThresholds       Thresholds
	MemoryThresholds     Thresholds
	CriticalStreakLimit  int
}

const (
	DefaultCheckInterval       = 5 * time.Minute
	DefaultDiskPath            = "/"
	DefaultCriticalStreakLimit = 3
)

// Monitor is the production C9 health checker.
type Monitor struct {
	llm        ports.LlmPort
	vector     ports.VectorStorePort
	relational ports.RelationalStorePort
	clock      ports.ClockPort
	restart    RestartPolicy
	cfg        Config
	log        *slog.Logger

	diskUsage func(path string) (free, total uint64, err error)
	memUsage  func() (free, total uint64, err error)

	mu       sync.RWMutex
	snapshot Snapshot
	streaks  map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Monitor. restart may be nil (no automatic restart policy,
// checks still run and Snapshot() still reflects current readings).
func New(llm ports.LlmPort, vector ports.VectorStorePort, relational ports.RelationalStorePort, clock ports.ClockPort, cfg Config, restart RestartPolicy, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = DefaultDiskPath
	}
	if cfg.DiskThresholds == (Thresholds{}) {
		cfg.DiskThresholds = defaultDiskThresholds
	}
	if cfg.MemoryThresholds == (Thresholds{}) {
		cfg.MemoryThresholds = defaultMemoryThresholds
	}
	if cfg.CriticalStreakLimit <= 0 {
		cfg.CriticalStreakLimit = DefaultCriticalStreakLimit
	}

	return &Monitor{
		llm:        llm,
		vector:     vector,
		relational: relational,
		clock:      clock,
		restart:    restart,
		cfg:        cfg,
		log:        logger,
		diskUsage:  realDiskUsage,
		memUsage:   realMemUsage,
		streaks:    make(map[string]int),
		snapshot:   Snapshot{Components: map[string]ComponentStatus{}, Overall: StatusHealthy},
	}
}

func realDiskUsage(path string) (free, total uint64, err error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return u.Free, u.Total, nil
}

func realMemUsage() (free, total uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return v.Available, v.Total, nil
}

// Start begins the periodic check loop.
func (m *Monitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(loopCtx)
}

// Stop halts the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs every component probe once and updates the cached Snapshot.
// Exposed directly (not just via the ticker) so callers can force an
// out-of-band check, e.g. before answering a health() request.
func (m *Monitor) Check(ctx context.Context) Snapshot {
	components := map[string]ComponentStatus{
		ComponentLLM:         m.checkLLM(ctx),
		ComponentVectorStore: m.checkVectorStore(ctx),
		ComponentRelational:  m.checkRelational(ctx),
		ComponentDisk:        m.checkDisk(),
		ComponentMemory:      m.checkMemory(),
	}

	overall := StatusHealthy
	for name, cs := range components {
		m.recordStreak(ctx, name, cs)
		if cs.Status == StatusCritical {
			overall = StatusCritical
		} else if cs.Status == StatusWarn && overall != StatusCritical {
			overall = StatusWarn
		}
	}

	snap := Snapshot{Components: components, Overall: overall}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
	return snap
}

func (m *Monitor) recordStreak(ctx context.Context, component string, cs ComponentStatus) {
	m.mu.Lock()
	if cs.Status == StatusCritical {
		m.streaks[component]++
	} else {
		m.streaks[component] = 0
	}
	streak := m.streaks[component]
	m.mu.Unlock()

	if streak >= m.cfg.CriticalStreakLimit && m.restart != nil {
		m.restart.Trigger(ctx, component, cs.Detail)
	}
}

// Snapshot returns the most recently computed reading without blocking on a
// new check.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *Monitor) checkLLM(ctx context.Context) ComponentStatus {
	checker, ok := m.llm.(LlmHealthChecker)
	if !ok {
		return ComponentStatus{Status: StatusHealthy}
	}
	if err := checker.Healthy(ctx); err != nil {
		return ComponentStatus{Status: StatusCritical, Detail: err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy}
}

func (m *Monitor) checkVectorStore(ctx context.Context) ComponentStatus {
	if _, err := m.vector.TopK(ctx, "__health__", nil, 0); err != nil {
		return ComponentStatus{Status: StatusCritical, Detail: err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy}
}

func (m *Monitor) checkRelational(ctx context.Context) ComponentStatus {
	if err := m.relational.Health(ctx); err != nil {
		return ComponentStatus{Status: StatusCritical, Detail: err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy}
}

func (m *Monitor) checkDisk() ComponentStatus {
	free, total, err := m.diskUsage(m.cfg.DiskPath)
	if err != nil {
		return ComponentStatus{Status: StatusCritical, Detail: err.Error()}
	}
	return usedPctStatus(free, total, m.cfg.DiskThresholds)
}

func (m *Monitor) checkMemory() ComponentStatus {
	free, total, err := m.memUsage()
	if err != nil {
		return ComponentStatus{Status: StatusCritical, Detail: err.Error()}
	}
	return usedPctStatus(free, total, m.cfg.MemoryThresholds)
}

func usedPctStatus(free, total uint64, th Thresholds) ComponentStatus {
	if total == 0 {
		return ComponentStatus{Status: StatusCritical, Detail: "total capacity reported as zero"}
	}
	usedPct := (1 - float64(free)/float64(total)) * 100
	switch {
	case usedPct >= th.CriticalUsedPct:
		return ComponentStatus{Status: StatusCritical, Detail: "usage above critical threshold"}
	case usedPct >= th.WarnUsedPct:
		return ComponentStatus{Status: StatusWarn, Detail: "usage above warn threshold"}
	default:
		return ComponentStatus{Status: StatusHealthy}
	}
}
