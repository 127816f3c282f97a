package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-tutor/node/pkg/ports"
	"github.com/edge-tutor/node/pkg/ports/portstest"
)

type fakeRestart struct {
	triggers []string
}

func (f *fakeRestart) Trigger(ctx context.Context, component, reason string) {
	f.triggers = append(f.triggers, component)
}

func newTestMonitor(t *testing.T, cfg Config, restart RestartPolicy) (*Monitor, *portstest.ScriptedLLM, *portstest.MemVectorStore, *portstest.Relational) {
	t.Helper()
	llm := &portstest.ScriptedLLM{}
	vector := portstest.NewMemVectorStore()
	relational := portstest.NewRelational()
	clock := portstest.NewClock(time.Unix(0, 0))
	m := New(llm, vector, relational, clock, cfg, restart, nil)
	m.diskUsage = func(path string) (uint64, uint64, error) { return 500, 1000, nil }
	m.memUsage = func() (uint64, uint64, error) { return 500, 1000, nil }
	return m, llm, vector, relational
}

func TestCheck_AllHealthyYieldsOverallHealthy(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, Config{}, nil)
	snap := m.Check(context.Background())

	assert.Equal(t, StatusHealthy, snap.Overall)
	for name, cs := range snap.Components {
		assert.Equal(t, StatusHealthy, cs.Status, "component %s", name)
	}
}

func TestCheck_RelationalFailureIsCriticalAndDominatesOverall(t *testing.T) {
	m, _, _, relational := newTestMonitor(t, Config{}, nil)
	relational.HealthErr = errors.New("connection refused")

	snap := m.Check(context.Background())

	assert.Equal(t, StatusCritical, snap.Overall)
	assert.Equal(t, StatusCritical, snap.Components[ComponentRelational].Status)
}

func TestCheck_LlmHealthCheckFailureIsCritical(t *testing.T) {
	m, llm, _, _ := newTestMonitor(t, Config{}, nil)
	llm.HealthErr = errors.New("backend unreachable")

	snap := m.Check(context.Background())
	assert.Equal(t, StatusCritical, snap.Components[ComponentLLM].Status)
}

func TestCheck_LlmWithoutHealthCheckerIsAlwaysHealthy(t *testing.T) {
	llm := noHealthCheckLLM{}
	vector := portstest.NewMemVectorStore()
	relational := portstest.NewRelational()
	clock := portstest.NewClock(time.Unix(0, 0))
	m := New(llm, vector, relational, clock, Config{}, nil, nil)
	m.diskUsage = func(path string) (uint64, uint64, error) { return 500, 1000, nil }
	m.memUsage = func() (uint64, uint64, error) { return 500, 1000, nil }

	snap := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, snap.Components[ComponentLLM].Status)
}

// noHealthCheckLLM is a minimal ports.LlmPort that does not implement
// LlmHealthChecker, exercising the "nothing to check" fallback.
type noHealthCheckLLM struct{}

func (noHealthCheckLLM) Stream(ctx context.Context, prompt string, maxTokens int, stop []string) (<-chan ports.TokenChunk, <-chan error) {
	out := make(chan ports.TokenChunk)
	errc := make(chan error)
	close(out)
	close(errc)
	return out, errc
}

func TestCheck_DiskAboveWarnThresholdReportsWarn(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, Config{}, nil)
	m.diskUsage = func(path string) (uint64, uint64, error) { return 150, 1000, nil } // 85% used, default warn=80%

	snap := m.Check(context.Background())
	assert.Equal(t, StatusWarn, snap.Components[ComponentDisk].Status)
	assert.Equal(t, StatusWarn, snap.Overall)
}

func TestCheck_MemoryAboveCriticalThresholdReportsCritical(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, Config{}, nil)
	m.memUsage = func() (uint64, uint64, error) { return 10, 1000, nil } // 99% used, default critical=95%

	snap := m.Check(context.Background())
	assert.Equal(t, StatusCritical, snap.Components[ComponentMemory].Status)
}

func TestCheck_ConsecutiveCriticalTriggersRestartPolicyAtStreakLimit(t *testing.T) {
	restart := &fakeRestart{}
	m, _, _, relational := newTestMonitor(t, Config{CriticalStreakLimit: 2}, restart)
	relational.HealthErr = errors.New("down")

	m.Check(context.Background())
	assert.Empty(t, restart.triggers, "must not trigger before the streak limit")

	m.Check(context.Background())
	require.Len(t, restart.triggers, 1)
	assert.Equal(t, ComponentRelational, restart.triggers[0])
}

func TestCheck_RecoveryResetsStreak(t *testing.T) {
	restart := &fakeRestart{}
	m, _, _, relational := newTestMonitor(t, Config{CriticalStreakLimit: 2}, restart)
	relational.HealthErr = errors.New("down")

	m.Check(context.Background())
	relational.HealthErr = nil
	m.Check(context.Background())
	relational.HealthErr = errors.New("down again")
	m.Check(context.Background())

	assert.Empty(t, restart.triggers, "an intervening healthy check must reset the streak counter")
}

func TestSnapshot_ReturnsMostRecentCheckWithoutBlocking(t *testing.T) {
	m, _, _, _ := newTestMonitor(t, Config{}, nil)

	empty := m.Snapshot()
	assert.Equal(t, StatusHealthy, empty.Overall, "a fresh Monitor defaults to a healthy empty snapshot")

	m.Check(context.Background())
	snap := m.Snapshot()
	assert.NotEmpty(t, snap.Components)
}

func TestStartStop_RunsChecksOnTickerAndStopsCleanly(t *testing.T) {
	restart := &fakeRestart{}
	m, _, _, relational := newTestMonitor(t, Config{CheckInterval: 10 * time.Millisecond}, restart)
	relational.HealthErr = errors.New("down")

	m.Start(context.Background())
	require.Eventually(t, func() bool {
		return m.Snapshot().Overall == StatusCritical
	}, time.Second, 5*time.Millisecond)

	m.Stop()
}
