// Package determinism runs caller-supplied test bodies under a
// deterministic envelope: shaped egress, a frozen clock, resource caps, and
// an isolated container. Every layer acquired is released on every exit
// path.
package determinism

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/cache"
	"github.com/reproforge/reproforge/model"
)

// Config tunes the envelope defaults. Per-test values in the TestConfig
// override them.
type Config struct {
	NetworkInterface     string        `long:"network-interface" env:"NETWORK_INTERFACE" default:"eth0" description:"Interface carrying shaped egress"`
	NetworkLatencyMS     int           `long:"network-latency-ms" env:"NETWORK_LATENCY_MS" default:"50" description:"Added egress latency"`
	NetworkBandwidthKbps int           `long:"network-bandwidth-kbps" env:"NETWORK_BANDWIDTH_KBPS" default:"1000" description:"Egress bandwidth cap"`
	CPULimit             float64       `long:"cpu-limit" env:"CPU_LIMIT" default:"0.8" description:"CPU quota as a fraction of one core"`
	MemoryLimitMB        int           `long:"memory-limit-mb" env:"MEMORY_LIMIT_MB" default:"1024" description:"Container memory cap"`
	DiskQuotaMB          int           `long:"disk-quota-mb" env:"DISK_QUOTA_MB" default:"500" description:"Writable tmpfs quota"`
	MonitoringInterval   time.Duration `long:"monitoring-interval" env:"MONITORING_INTERVAL" default:"5s" description:"Resource sampling interval"`
	BrowserTimeout       time.Duration `long:"browser-timeout" env:"BROWSER_TIMEOUT" default:"30s" description:"Per-test execution timeout"`
	ReadyTimeout         time.Duration `long:"ready-timeout" env:"READY_TIMEOUT" default:"30s" description:"Container readiness timeout"`
}

// State is the controller's execution phase.
type State string

const (
	StateIdle             State = "idle"
	StateApplyEnvelope    State = "apply_envelope"
	StateContainerCreated State = "container_created"
	StateReady            State = "ready"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateCleanup          State = "cleanup"
)

// Controller executes one test at a time under the envelope.
type Controller struct {
	cfg   Config
	exec  Execer
	cache *cache.Cache

	state State

	// Acquired envelope state, released by cleanup.
	shapedInterface string
	frozenAt        *time.Time
	containerID     string
	monitorCancel   context.CancelFunc
	monitorDone     chan struct{}
}

// NewController builds a controller over the given command runner.
func NewController(cfg Config, exec Execer, kv *cache.Cache) *Controller {
	return &Controller{cfg: cfg, exec: exec, cache: kv, state: StateIdle}
}

// State returns the controller's current phase.
func (c *Controller) State() State { return c.state }

// Run executes the test body under the envelope and records the outcome in
// the cache under test_result:<test_id>. Cleanup is mandatory on every exit
// path and proceeds monitor, network rules, resource state, container.
func (c *Controller) Run(ctx context.Context, tc model.TestConfig) (*cache.TestResult, error) {
	var fields = log.Fields{"test": tc.TestID}

	defer func() {
		c.state = StateCleanup
		c.cleanup(fields)
		c.state = StateIdle
	}()

	c.state = StateApplyEnvelope
	if err := c.applyEnvelope(ctx, tc); err != nil {
		c.state = StateFailed
		return nil, err
	}

	if err := c.createContainer(ctx, tc); err != nil {
		c.state = StateFailed
		return nil, err
	}
	c.state = StateContainerCreated

	if err := c.awaitReady(ctx); err != nil {
		c.state = StateFailed
		return nil, err
	}
	c.state = StateReady

	c.startMonitor(tc.TestID)

	c.state = StateExecuting
	var result, err = c.execute(ctx, tc)
	if err != nil {
		c.state = StateFailed
		return nil, err
	}
	c.state = StateCompleted

	if c.cache != nil {
		if err = c.cache.SetTestResult(ctx, *result); err != nil {
			log.WithFields(fields).WithField("err", err).Warn("caching test result failed")
		}
	}
	return result, nil
}

// applyEnvelope acquires the pre-container layers: egress shaping and the
// frozen clock. Resource caps become container flags and need no
// acquisition of their own.
func (c *Controller) applyEnvelope(ctx context.Context, tc model.TestConfig) error {
	if tc.EnableNetworkShaping {
		var iface = tc.NetworkInterface
		if iface == "" {
			iface = c.cfg.NetworkInterface
		}
		var latency = tc.NetworkLatencyMS
		if latency == 0 {
			latency = c.cfg.NetworkLatencyMS
		}
		var bandwidth = tc.NetworkBandwidthKbps
		if bandwidth == 0 {
			bandwidth = c.cfg.NetworkBandwidthKbps
		}

		var _, err = c.exec.Run(ctx, "tc", "qdisc", "add", "dev", iface, "root", "netem",
			"delay", fmt.Sprintf("%dms", latency),
			"rate", fmt.Sprintf("%dkbit", bandwidth))
		if err != nil {
			return fmt.Errorf("applying egress shaping on %s: %w", iface, err)
		}
		c.shapedInterface = iface
	}

	if tc.EnableTimeFreezing {
		var at, err = frozenInstant(tc)
		if err != nil {
			return err
		}
		c.frozenAt = &at
	}
	return nil
}

// frozenInstant resolves the clock binding: an explicit instant when given,
// otherwise now plus the configured offset.
func frozenInstant(tc model.TestConfig) (time.Time, error) {
	if tc.FreezeAt != "" {
		var at, err = time.Parse(time.RFC3339, tc.FreezeAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing freeze instant %q: %w", tc.FreezeAt, err)
		}
		return at, nil
	}
	var offset time.Duration
	if tc.FakeTimeOffset != "" {
		var err error
		if offset, err = time.ParseDuration(tc.FakeTimeOffset); err != nil {
			return time.Time{}, fmt.Errorf("parsing fake time offset %q: %w", tc.FakeTimeOffset, err)
		}
	}
	return time.Now().Add(offset).UTC(), nil
}

func (c *Controller) createContainer(ctx context.Context, tc model.TestConfig) error {
	var args = []string{
		"run", "--detach",
		"--read-only",
		"--tmpfs", fmt.Sprintf("/tmp:rw,noexec,nosuid,size=%dm", c.diskQuota(tc)),
		"--tmpfs", fmt.Sprintf("/app/tmp:rw,noexec,nosuid,size=%dm", c.diskQuota(tc)),
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"--cap-add", "NET_BIND_SERVICE",
		"--env", "DETERMINISTIC_MODE=true",
		"--env", "CI=true",
	}

	if tc.EnableResourceLimits {
		var cpu = tc.CPULimit
		if cpu == 0 {
			cpu = c.cfg.CPULimit
		}
		var mem = tc.MemoryLimitMB
		if mem == 0 {
			mem = c.cfg.MemoryLimitMB
		}
		args = append(args,
			"--cpu-period", "100000",
			"--cpu-quota", strconv.Itoa(int(cpu*100000)),
			"--memory", fmt.Sprintf("%dm", mem),
		)
	}
	if c.frozenAt != nil {
		args = append(args,
			"--env", "FAKETIME=@"+c.frozenAt.Format("2006-01-02 15:04:05"),
			"--env", "FROZEN_TIME="+c.frozenAt.Format(time.RFC3339),
			"--env", "TZ=UTC",
		)
	}
	for k, v := range tc.Env {
		args = append(args, "--env", k+"="+v)
	}
	for _, mount := range tc.Mounts {
		args = append(args, "--mount", mount)
	}
	if tc.WorkDir != "" {
		args = append(args, "--workdir", tc.WorkDir)
	}
	args = append(args, tc.Image, "sleep", "infinity")

	var out, err = c.exec.Run(ctx, "docker", args...)
	if err != nil {
		return fmt.Errorf("creating container: %w (%s)", err, out)
	}
	c.containerID = strings.TrimSpace(out)
	return nil
}

// awaitReady polls an in-container echo probe until it succeeds.
func (c *Controller) awaitReady(ctx context.Context) error {
	var deadline = time.Now().Add(c.cfg.ReadyTimeout)
	for {
		if _, err := c.exec.Run(ctx, "docker", "exec", c.containerID, "echo", "ready"); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %s not ready after %s", c.containerID, c.cfg.ReadyTimeout)
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) execute(ctx context.Context, tc model.TestConfig) (*cache.TestResult, error) {
	var execCtx, cancel = context.WithTimeout(ctx, c.cfg.BrowserTimeout)
	defer cancel()

	var args = append([]string{"exec", "--env", "CI=true", c.containerID}, tc.Command...)

	var began = time.Now()
	var out, err = c.exec.Run(execCtx, "docker", args...)
	var duration = time.Since(began)

	var code = ExitCode(err)
	if code == -1 && err != nil {
		return nil, fmt.Errorf("executing test body: %w", err)
	}

	var passed, testsRun = ParseTestOutput(out, code)
	return &cache.TestResult{
		TestID:     tc.TestID,
		Passed:     passed,
		ExitCode:   code,
		DurationMS: duration.Milliseconds(),
		TestsRun:   testsRun,
		Output:     out,
		FinishedAt: time.Now().UTC(),
	}, nil
}

func (c *Controller) diskQuota(tc model.TestConfig) int {
	if tc.DiskQuotaMB > 0 {
		return tc.DiskQuotaMB
	}
	return c.cfg.DiskQuotaMB
}

// cleanup releases whatever was acquired: monitor first, then network
// rules, then clock state, then the container. It runs on every exit path
// and uses a fresh context so a cancelled run still tears down fully.
func (c *Controller) cleanup(fields log.Fields) {
	var ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if c.monitorCancel != nil {
		c.monitorCancel()
		<-c.monitorDone
		c.monitorCancel, c.monitorDone = nil, nil
	}

	if c.shapedInterface != "" {
		if _, err := c.exec.Run(ctx, "tc", "qdisc", "del", "dev", c.shapedInterface, "root"); err != nil {
			log.WithFields(fields).WithField("err", err).Error("removing egress shaping failed")
		}
		c.shapedInterface = ""
	}

	c.frozenAt = nil

	if c.containerID != "" {
		if _, err := c.exec.Run(ctx, "docker", "stop", c.containerID); err != nil {
			log.WithFields(fields).WithField("err", err).Warn("stopping container failed")
		}
		if _, err := c.exec.Run(ctx, "docker", "rm", "-f", c.containerID); err != nil {
			log.WithFields(fields).WithField("err", err).Error("removing container failed")
		}
		c.containerID = ""
	}
}
