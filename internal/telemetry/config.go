package telemetry

import (
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/cemctl/telemetry.db"
	backupDirName  = "backups"

	defaultMQTTConnectTimeout = 5 * time.Second
	defaultMQTTPublishTimeout = 500 * time.Millisecond
	defaultKafkaBatchTimeout  = 10 * time.Millisecond
)

// Config configures the SQLite recorder. A BatchSize of zero writes every
// event immediately.
type Config struct {
	DBPath       string
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		BatchSize:    50,
		BatchTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout time.Duration
		}{
			BatchSize:    c.BatchSize,
			BatchTimeout: c.BatchTimeout,
		})
	}

	return nil
}

// MQTTConfig configures the MQTT publisher. Events go to Topic/<pair>/<kind>.
type MQTTConfig struct {
	Broker         string
	Topic          string
	ClientID       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}
