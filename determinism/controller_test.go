package determinism

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reproforge/reproforge/model"
)

// scriptedExecer records every command and answers from a script keyed by
// command prefix.
type scriptedExecer struct {
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func newScriptedExecer() *scriptedExecer {
	return &scriptedExecer{
		outputs: map[string]string{},
		errs:    map[string]error{},
	}
}

func (e *scriptedExecer) Run(_ context.Context, name string, args ...string) (string, error) {
	var call = name + " " + strings.Join(args, " ")
	e.calls = append(e.calls, call)

	for prefix, err := range e.errs {
		if strings.HasPrefix(call, prefix) {
			return e.outputs[prefix], err
		}
	}
	for prefix, out := range e.outputs {
		if strings.HasPrefix(call, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (e *scriptedExecer) called(prefix string) bool {
	for _, call := range e.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

var testEnvelope = Config{
	NetworkInterface:     "eth0",
	NetworkLatencyMS:     50,
	NetworkBandwidthKbps: 1000,
	CPULimit:             0.8,
	MemoryLimitMB:        1024,
	DiskQuotaMB:          500,
	MonitoringInterval:   time.Hour, // never fires during tests
	BrowserTimeout:       30 * time.Second,
	ReadyTimeout:         time.Second,
}

func TestControllerRunAppliesAndReleasesEnvelope(t *testing.T) {
	var exec = newScriptedExecer()
	exec.outputs["docker run"] = "container-1\n"
	exec.outputs["docker exec --env CI=true"] = "1 passed"

	var tc = model.TestConfig{
		TestID:               "t-1",
		Image:                "repro:latest",
		Command:              []string{"npx", "playwright", "test"},
		EnableNetworkShaping: true,
		EnableTimeFreezing:   true,
		EnableResourceLimits: true,
		FreezeAt:             "2024-03-01T10:00:00Z",
	}

	var c = NewController(testEnvelope, exec, nil)
	var result, err = c.Run(context.Background(), tc)
	require.NoError(t, err)
	require.True(t, result.Passed)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, 1, result.TestsRun)
	require.Equal(t, StateIdle, c.State())

	require.True(t, exec.called("tc qdisc add dev eth0 root netem delay 50ms rate 1000kbit"))
	require.True(t, exec.called("tc qdisc del dev eth0 root"))
	require.True(t, exec.called("docker stop container-1"))
	require.True(t, exec.called("docker rm -f container-1"))

	// The container carries isolation flags, resource caps and the frozen
	// clock binding.
	var run string
	for _, call := range exec.calls {
		if strings.HasPrefix(call, "docker run") {
			run = call
		}
	}
	require.Contains(t, run, "--read-only")
	require.Contains(t, run, "--cap-drop ALL")
	require.Contains(t, run, "--cap-add NET_BIND_SERVICE")
	require.Contains(t, run, "--security-opt no-new-privileges:true")
	require.Contains(t, run, "--cpu-quota 80000")
	require.Contains(t, run, "--memory 1024m")
	require.Contains(t, run, "FROZEN_TIME=2024-03-01T10:00:00Z")
	require.Contains(t, run, "TZ=UTC")
	require.Contains(t, run, "sleep infinity")
}

func TestControllerCleanupOrder(t *testing.T) {
	var exec = newScriptedExecer()
	exec.outputs["docker run"] = "container-2"
	exec.outputs["docker exec --env CI=true"] = "1 passed"

	var tc = model.TestConfig{
		TestID:               "t-2",
		Image:                "repro:latest",
		Command:              []string{"true"},
		EnableNetworkShaping: true,
	}

	var c = NewController(testEnvelope, exec, nil)
	var _, err = c.Run(context.Background(), tc)
	require.NoError(t, err)

	// Shaping rules are removed before the container is stopped.
	var delAt, stopAt = -1, -1
	for i, call := range exec.calls {
		if strings.HasPrefix(call, "tc qdisc del") {
			delAt = i
		}
		if strings.HasPrefix(call, "docker stop") {
			stopAt = i
		}
	}
	require.NotEqual(t, -1, delAt)
	require.NotEqual(t, -1, stopAt)
	require.Less(t, delAt, stopAt)
}

func TestControllerCleansUpOnContainerFailure(t *testing.T) {
	var exec = newScriptedExecer()
	exec.errs["docker run"] = fmt.Errorf("image not found")

	var tc = model.TestConfig{
		TestID:               "t-3",
		Image:                "missing:latest",
		Command:              []string{"true"},
		EnableNetworkShaping: true,
	}

	var c = NewController(testEnvelope, exec, nil)
	var _, err = c.Run(context.Background(), tc)
	require.Error(t, err)
	require.Equal(t, StateIdle, c.State())

	// The already-applied shaping is released even though no container
	// exists to remove.
	require.True(t, exec.called("tc qdisc del dev eth0 root"))
	require.False(t, exec.called("docker stop"))
}

func TestControllerRejectsBadFreezeInstant(t *testing.T) {
	var exec = newScriptedExecer()
	var tc = model.TestConfig{
		TestID:             "t-4",
		Image:              "repro:latest",
		Command:            []string{"true"},
		EnableTimeFreezing: true,
		FreezeAt:           "yesterday",
	}

	var c = NewController(testEnvelope, exec, nil)
	var _, err = c.Run(context.Background(), tc)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parsing freeze instant")
}

func TestFrozenInstantOffset(t *testing.T) {
	var before = time.Now().UTC()
	var at, err = frozenInstant(model.TestConfig{FakeTimeOffset: "1h"})
	require.NoError(t, err)
	require.True(t, at.After(before.Add(59*time.Minute)))
	require.True(t, at.Before(before.Add(61*time.Minute)))
}

func TestParseStats(t *testing.T) {
	var sample, ok = ParseStats("12.34%;56.78%;512MiB / 1GiB\n")
	require.True(t, ok)
	require.InDelta(t, 12.34, sample.CPUPercent, 1e-9)
	require.InDelta(t, 56.78, sample.MemPercent, 1e-9)
	require.InDelta(t, 512, sample.MemUsedMB, 1e-9)

	sample, ok = ParseStats("1.5%;2.5%;2GiB / 4GiB")
	require.True(t, ok)
	require.InDelta(t, 2048, sample.MemUsedMB, 1e-9)

	_, ok = ParseStats("garbage")
	require.False(t, ok)
}

func TestParseDiskPercent(t *testing.T) {
	var out = "Filesystem     1024-blocks  Used Available Capacity Mounted on\n" +
		"tmpfs               512000  5120    506880       1% /tmp\n"
	var pct, ok = ParseDiskPercent(out)
	require.True(t, ok)
	require.InDelta(t, 1, pct, 1e-9)

	_, ok = ParseDiskPercent("df: /tmp: No such file or directory")
	require.False(t, ok)

	_, ok = ParseDiskPercent("")
	require.False(t, ok)
}

func TestParseTestOutput(t *testing.T) {
	var cases = []struct {
		out      string
		exitCode int
		passed   bool
		testsRun int
	}{
		{"3 passed (2.1s)", 0, true, 3},
		{"2 passed, 1 failed", 1, false, 3},
		{"2 passed, 1 failed", 0, false, 3}, // zero exit demoted by failures
		{"Running 5 tests", 0, true, 5},
		{"", 1, false, 0},
		{"0 failed, 4 passed", 0, true, 4},
	}
	for _, tc := range cases {
		var passed, testsRun = ParseTestOutput(tc.out, tc.exitCode)
		require.Equal(t, tc.passed, passed, tc.out)
		require.Equal(t, tc.testsRun, testsRun, tc.out)
	}
}
