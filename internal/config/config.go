package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/cemctl/internal/controller"
	"codeberg.org/mutker/cemctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultEnvPrefix  = "CEMCTL"
	defaultConfigPath = "/etc/cemctl.toml"

	defaultSmoothingTimeConstant = time.Second
	defaultInitialFullScaleRate  = 10000.0
	defaultStrikesToRescale      = 2
	defaultTickPacing            = 25 * time.Millisecond
	defaultVMax                  = 10.0
	defaultDeviceTimeout         = 10 * time.Second
	defaultDriver                = "sim"
	defaultSimRate               = 2000.0

	defaultTelemetryDB           = "/var/lib/cemctl/telemetry.db"
	defaultTelemetryBatchSize    = 50
	defaultTelemetryBatchTimeout = 5 * time.Second
	defaultMQTTTopic             = "cemctl"
	defaultKafkaTopic            = "cemctl-events"
	defaultHistorySpan           = 2 * time.Second
	defaultHistoryPoints         = 50
)

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level":               "log_level",
	"smoothing-time-constant": "smoothing_time_constant",
	"initial-full-scale-rate": "initial_full_scale_rate",
	"strikes-to-rescale":      "strikes_to_rescale",
	"tick-pacing":             "tick_pacing",
	"sample-rate":             "sample_rate",
	"v-max":                   "v_max",
	"device-timeout":          "device_timeout",
	"driver":                  "driver",
	"sim-rate":                "sim_rate",
	"telemetry":               "telemetry",
	"telemetry-db":            "telemetry_db",
	"mqtt-broker":             "mqtt_broker",
	"mqtt-topic":              "mqtt_topic",
	"kafka-brokers":           "kafka_brokers",
	"kafka-topic":             "kafka_topic",
	"http-addr":               "http_addr",
}

// Load resolves the configuration from flags, environment, the TOML config
// file and defaults, in that order of precedence, and validates it.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	flags := newFlagSet()
	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path, _ := flags.GetString("config"); path != "" {
		o.configPath = path
	}
	if err := readConfigFile(v, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	cfg.fillPairDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(v *viper.Viper, o options) error {
	errFactory := errors.New()

	path := o.configPath
	explicit := path != ""
	if !explicit {
		if env, ok := os.LookupEnv(o.envPrefix + "_CONFIG"); ok {
			if env == "" {
				return nil
			}
			path = env
			explicit = true
		} else {
			path = defaultConfigPath
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("smoothing_time_constant", defaultSmoothingTimeConstant)
	v.SetDefault("initial_full_scale_rate", defaultInitialFullScaleRate)
	v.SetDefault("strikes_to_rescale", defaultStrikesToRescale)
	v.SetDefault("tick_pacing", defaultTickPacing)
	v.SetDefault("sample_rate", 0.0)
	v.SetDefault("v_max", defaultVMax)
	v.SetDefault("device_timeout", defaultDeviceTimeout)
	v.SetDefault("driver", defaultDriver)
	v.SetDefault("sim_rate", defaultSimRate)
	v.SetDefault("pairs", []map[string]interface{}{
		{"name": "cem", "counter": "/Dev6229/ctr1", "output": "/Dev6229/ao0"},
	})
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("telemetry_db", defaultTelemetryDB)
	v.SetDefault("telemetry_batch_size", defaultTelemetryBatchSize)
	v.SetDefault("telemetry_batch_timeout", defaultTelemetryBatchTimeout)
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_topic", defaultMQTTTopic)
	v.SetDefault("kafka_brokers", []string{})
	v.SetDefault("kafka_topic", defaultKafkaTopic)
	v.SetDefault("http_addr", "")
	v.SetDefault("history_span", defaultHistorySpan)
	v.SetDefault("history_points", defaultHistoryPoints)
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("cemctl", pflag.ContinueOnError)

	flags.String("config", "", "Path to the TOML configuration file")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Duration("smoothing-time-constant", defaultSmoothingTimeConstant, "Time constant of the rate moving average")
	flags.Float64("initial-full-scale-rate", defaultInitialFullScaleRate, "Count rate mapped to the maximum output voltage")
	flags.Int("strikes-to-rescale", defaultStrikesToRescale, "Consecutive saturated ticks before the full scale doubles")
	flags.Duration("tick-pacing", defaultTickPacing, "Sleep between control ticks")
	flags.Float64("sample-rate", 0, "Counter sampling rate in Hz (0 disables pacing)")
	flags.Float64("v-max", defaultVMax, "Maximum output voltage")
	flags.Duration("device-timeout", defaultDeviceTimeout, "Bound on each device call")
	flags.String("driver", defaultDriver, "Device driver")
	flags.Float64("sim-rate", defaultSimRate, "Mean pulse rate of the simulated counter")
	flags.Bool("telemetry", false, "Record events to the telemetry database")
	flags.String("telemetry-db", defaultTelemetryDB, "Telemetry database path")
	flags.String("mqtt-broker", "", "MQTT broker URL for event publishing")
	flags.String("mqtt-topic", defaultMQTTTopic, "MQTT topic prefix")
	flags.StringSlice("kafka-brokers", nil, "Kafka brokers for event publishing")
	flags.String("kafka-topic", defaultKafkaTopic, "Kafka topic")
	flags.String("http-addr", "", "Listen address of the status server")

	return flags
}

func (c *Config) fillPairDefaults() {
	for i := range c.Pairs {
		if c.Pairs[i].Name == "" {
			c.Pairs[i].Name = fmt.Sprintf("pair%d", i)
		}
		if c.Pairs[i].SimRate == 0 {
			c.Pairs[i].SimRate = c.SimRate
		}
	}
}

// Controller returns the controller constants carried by the configuration
func (c *Config) Controller() controller.Config {
	return controller.Config{
		SmoothingTimeConstant: c.SmoothingTimeConstant,
		InitialFullScaleRate:  c.InitialFullScaleRate,
		StrikesToRescale:      c.StrikesToRescale,
		VMax:                  c.VMax,
	}
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, ValidationError{
			Field: "log_level", Value: c.LogLevel, Reason: "must be debug, info, warning or error",
		})
	}

	if err := c.Controller().Validate(); err != nil {
		return err
	}

	invalid := func(field string, value interface{}, reason string) error {
		return errFactory.WithData(errors.ErrInvalidConfig, ValidationError{Field: field, Value: value, Reason: reason})
	}

	switch {
	case c.TickPacing < 0:
		return invalid("tick_pacing", c.TickPacing, "must not be negative")
	case c.SampleRate < 0:
		return invalid("sample_rate", c.SampleRate, "must not be negative")
	case c.DeviceTimeout <= 0:
		return invalid("device_timeout", c.DeviceTimeout, "must be positive")
	case c.Driver == "":
		return invalid("driver", c.Driver, "must be set")
	case len(c.Pairs) == 0:
		return invalid("pairs", c.Pairs, "at least one pair is required")
	case c.Telemetry && c.TelemetryDB == "":
		return invalid("telemetry_db", c.TelemetryDB, "required when telemetry is enabled")
	case c.TelemetryBatchSize < 0:
		return invalid("telemetry_batch_size", c.TelemetryBatchSize, "must not be negative")
	case c.HTTPAddr != "" && c.HistoryPoints < 1:
		return invalid("history_points", c.HistoryPoints, "must be at least 1")
	}

	seen := make(map[string]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if seen[p.Name] {
			return invalid("pairs", p.Name, "duplicate pair name")
		}
		seen[p.Name] = true
	}

	return nil
}
