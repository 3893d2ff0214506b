package config

import "time"

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	args       []string
	argsSet    bool
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "CEMCTL"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithArgs parses args instead of os.Args[1:]
func WithArgs(args []string) Option {
	return func(o *options) error {
		o.args = args
		o.argsSet = true
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// ValidationError describes one rejected configuration value
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

// Pair is one counter/analog-output channel pair driven by its own loop
type Pair struct {
	Name    string  `mapstructure:"name"`
	Counter string  `mapstructure:"counter"`
	Output  string  `mapstructure:"output"`
	SimRate float64 `mapstructure:"sim_rate"`
}

// Config is the fully resolved daemon configuration
type Config struct {
	SmoothingTimeConstant time.Duration `mapstructure:"smoothing_time_constant"`
	InitialFullScaleRate  float64       `mapstructure:"initial_full_scale_rate"`
	StrikesToRescale      int           `mapstructure:"strikes_to_rescale"`
	TickPacing            time.Duration `mapstructure:"tick_pacing"`
	SampleRate            float64       `mapstructure:"sample_rate"`
	VMax                  float64       `mapstructure:"v_max"`
	DeviceTimeout         time.Duration `mapstructure:"device_timeout"`

	Driver  string  `mapstructure:"driver"`
	SimRate float64 `mapstructure:"sim_rate"`
	Pairs   []Pair  `mapstructure:"pairs"`

	LogLevel string `mapstructure:"log_level"`

	Telemetry             bool          `mapstructure:"telemetry"`
	TelemetryDB           string        `mapstructure:"telemetry_db"`
	TelemetryBatchSize    int           `mapstructure:"telemetry_batch_size"`
	TelemetryBatchTimeout time.Duration `mapstructure:"telemetry_batch_timeout"`

	MQTTBroker string `mapstructure:"mqtt_broker"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`

	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`

	HTTPAddr      string        `mapstructure:"http_addr"`
	HistorySpan   time.Duration `mapstructure:"history_span"`
	HistoryPoints int           `mapstructure:"history_points"`
}
