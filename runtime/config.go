package runtime

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/blob"
	"github.com/reproforge/reproforge/cache"
)

// DatabaseConfig are relational store connection parameters.
type DatabaseConfig struct {
	Host     string `long:"host" env:"HOST" default:"localhost" description:"Database host"`
	Port     int    `long:"port" env:"PORT" default:"5432" description:"Database port"`
	Name     string `long:"name" env:"NAME" default:"bug_repro" description:"Database name"`
	User     string `long:"user" env:"USERNAME" default:"postgres" description:"Database user"`
	Password string `long:"password" env:"PASSWORD" default:"postgres" description:"Database password"`
}

// DSN renders a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.Host, c.Port, c.Name, c.User, c.Password)
}

// BusConfig are message bus connection parameters.
type BusConfig struct {
	URL    string `long:"url" env:"URL" default:"nats://localhost:4222" description:"Bus server URL"`
	Stream string `long:"stream" env:"STREAM" default:"PIPELINE" description:"Stream holding all pipeline subjects"`
}

// WorkerConfig tunes the shared worker skeleton.
type WorkerConfig struct {
	TempDir            string        `long:"temp-dir" env:"TEMP_DIR" default:"/tmp/reproforge" description:"Scratch directory for downloaded artifacts"`
	MaxConcurrentTasks int64         `long:"max-concurrent-tasks" env:"MAX_CONCURRENT_TASKS" default:"5" description:"Cap on concurrently in-flight handlers"`
	ShutdownGrace      time.Duration `long:"shutdown-grace" env:"SHUTDOWN_GRACE" default:"30s" description:"Bound on draining in-flight handlers at shutdown"`
	AckWait            time.Duration `long:"ack-wait" env:"ACK_WAIT" default:"2m" description:"Redelivery deadline for unacknowledged messages"`
	PoisonRedeliveries int           `long:"poison-redeliveries" env:"POISON_REDELIVERIES" default:"5" description:"Redelivery count beyond which a message is quarantined"`
	MetricsAddr        string        `long:"metrics-addr" env:"METRICS_ADDR" default:":8090" description:"Address serving Prometheus metrics (empty to disable)"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
}

// Configure applies the logging configuration to the global logger.
func (c LogConfig) Configure() {
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if lvl, err := log.ParseLevel(c.Level); err == nil {
		log.SetLevel(lvl)
	}
}

// BaseConfig is the configuration shared by every worker role.
type BaseConfig struct {
	Database DatabaseConfig `group:"Database" namespace:"db" env-namespace:"DB"`
	Cache    cache.Config   `group:"Cache" namespace:"redis" env-namespace:"REDIS"`
	Bus      BusConfig      `group:"Bus" namespace:"nats" env-namespace:"NATS"`
	Store    blob.Config    `group:"Object store" namespace:"s3" env-namespace:"S3"`
	Worker   WorkerConfig   `group:"Worker" namespace:"worker"`
	Log      LogConfig      `group:"Logging" namespace:"log" env-namespace:"LOG"`
}
