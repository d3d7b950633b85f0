// Package cache is the key-value cache of derived, ephemeral pipeline state:
// stability summaries, resource samples, and test results. Eviction never
// affects correctness.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reproforge/reproforge/model"
)

// Config are cache connection parameters.
type Config struct {
	Host string `long:"host" env:"HOST" default:"localhost" description:"Cache host"`
	Port int    `long:"port" env:"PORT" default:"6379" description:"Cache port"`
}

// TTLs of the cache key families.
const (
	ResourceStatsTTL = 5 * time.Minute
	TestResultTTL    = time.Hour
	StabilityTTL     = 24 * time.Hour
)

// Cache wraps the redis client with the pipeline's key families.
type Cache struct {
	rdb *redis.Client
}

// New dials the cache and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	var rdb = redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging cache: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// Close releases the underlying connection pool.
func (c *Cache) Close() error { return c.rdb.Close() }

// ResourceSample is one monitoring observation of a running test container.
type ResourceSample struct {
	TestID      string    `json:"test_id"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"memory_percent"`
	MemUsedMB   float64   `json:"memory_used_mb"`
	DiskPercent float64   `json:"disk_percent"`
	ObservedAt  time.Time `json:"observed_at"`
}

// SetResourceStats records the latest resource sample for a test.
func (c *Cache) SetResourceStats(ctx context.Context, sample ResourceSample) error {
	return c.setJSON(ctx, "resource_stats:"+sample.TestID, sample, ResourceStatsTTL)
}

// GetResourceStats returns the latest resource sample, or nil when absent.
func (c *Cache) GetResourceStats(ctx context.Context, testID string) (*ResourceSample, error) {
	var out ResourceSample
	if ok, err := c.getJSON(ctx, "resource_stats:"+testID, &out); err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// TestResult is the recorded outcome of one envelope execution.
type TestResult struct {
	TestID     string    `json:"test_id"`
	Passed     bool      `json:"passed"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	TestsRun   int       `json:"tests_run"`
	Output     string    `json:"output"`
	FinishedAt time.Time `json:"finished_at"`
}

// SetTestResult records the outcome of one envelope execution.
func (c *Cache) SetTestResult(ctx context.Context, result TestResult) error {
	return c.setJSON(ctx, "test_result:"+result.TestID, result, TestResultTTL)
}

// GetTestResult returns a recorded outcome, or nil when absent or expired.
func (c *Cache) GetTestResult(ctx context.Context, testID string) (*TestResult, error) {
	var out TestResult
	if ok, err := c.getJSON(ctx, "test_result:"+testID, &out); err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

// SetStability caches the stability summary of a repro's validation cycle.
func (c *Cache) SetStability(ctx context.Context, rec model.StabilityRecord) error {
	return c.setJSON(ctx, "stability:"+rec.ReproID, rec, StabilityTTL)
}

// GetStability returns a cached stability summary, or nil when absent.
func (c *Cache) GetStability(ctx context.Context, reproID string) (*model.StabilityRecord, error) {
	var out model.StabilityRecord
	if ok, err := c.getJSON(ctx, "stability:"+reproID, &out); err != nil || !ok {
		return nil, err
	}
	return &out, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	var data, err = json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err = c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func (c *Cache) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	var data, err = c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	return true, json.Unmarshal(data, v)
}
