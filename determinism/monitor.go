package determinism

import (
	"context"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/cache"
)

// Warning thresholds for resource samples.
const (
	cpuWarnPercent = 90.0
	memWarnPercent = 85.0
)

// startMonitor samples container resource usage on the configured interval
// and records each sample under resource_stats:<test_id>.
func (c *Controller) startMonitor(testID string) {
	var ctx, cancel = context.WithCancel(context.Background())
	c.monitorCancel = cancel
	c.monitorDone = make(chan struct{})

	go func() {
		defer close(c.monitorDone)
		var ticker = time.NewTicker(c.cfg.MonitoringInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sample(ctx, testID)
			}
		}
	}()
}

func (c *Controller) sample(ctx context.Context, testID string) {
	var out, err = c.exec.Run(ctx, "docker", "stats", "--no-stream",
		"--format", "{{.CPUPerc}};{{.MemPerc}};{{.MemUsage}}", c.containerID)
	if err != nil {
		log.WithFields(log.Fields{"test": testID, "err": err}).Debug("resource sampling failed")
		return
	}

	var sample, ok = ParseStats(out)
	if !ok {
		return
	}
	sample.TestID = testID
	sample.ObservedAt = time.Now().UTC()

	// Disk usage of the writable tmpfs, read from inside the container.
	if df, err := c.exec.Run(ctx, "docker", "exec", c.containerID, "df", "-P", "/tmp"); err == nil {
		if pct, ok := ParseDiskPercent(df); ok {
			sample.DiskPercent = pct
		}
	}

	if sample.CPUPercent > cpuWarnPercent {
		log.WithFields(log.Fields{"test": testID, "cpu": sample.CPUPercent}).Warn("cpu usage above threshold")
	}
	if sample.MemPercent > memWarnPercent {
		log.WithFields(log.Fields{"test": testID, "memory": sample.MemPercent}).Warn("memory usage above threshold")
	}

	if c.cache != nil {
		if err = c.cache.SetResourceStats(ctx, sample); err != nil {
			log.WithFields(log.Fields{"test": testID, "err": err}).Debug("caching resource sample failed")
		}
	}
}

// ParseStats decodes one `docker stats` line of the form
// "12.34%;56.78%;512MiB / 1GiB".
func ParseStats(line string) (cache.ResourceSample, bool) {
	var parts = strings.Split(strings.TrimSpace(line), ";")
	if len(parts) < 3 {
		return cache.ResourceSample{}, false
	}

	var out cache.ResourceSample
	var err error
	if out.CPUPercent, err = parsePercent(parts[0]); err != nil {
		return cache.ResourceSample{}, false
	}
	if out.MemPercent, err = parsePercent(parts[1]); err != nil {
		return cache.ResourceSample{}, false
	}
	out.MemUsedMB = parseMemUsage(parts[2])
	return out, true
}

// ParseDiskPercent reads the Capacity column of POSIX `df -P` output for a
// single filesystem.
func ParseDiskPercent(out string) (float64, bool) {
	var lines = strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, false
	}
	var fields = strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return 0, false
	}
	var pct, err = parsePercent(fields[4])
	if err != nil {
		return 0, false
	}
	return pct, true
}

func parsePercent(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
}

// parseMemUsage reads the used side of "512MiB / 1GiB" in MiB.
func parseMemUsage(s string) float64 {
	var used = strings.TrimSpace(strings.SplitN(s, "/", 2)[0])
	for _, unit := range []struct {
		suffix string
		scale  float64
	}{
		{"GiB", 1024}, {"MiB", 1}, {"KiB", 1.0 / 1024}, {"B", 1.0 / (1024 * 1024)},
	} {
		var suffix, scale = unit.suffix, unit.scale
		if strings.HasSuffix(used, suffix) {
			var v, err = strconv.ParseFloat(strings.TrimSuffix(used, suffix), 64)
			if err != nil {
				return 0
			}
			return v * scale
		}
	}
	return 0
}
