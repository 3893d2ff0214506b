package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/cemctl/internal/config"
	"codeberg.org/mutker/cemctl/internal/controller"
	"codeberg.org/mutker/cemctl/internal/device"
	"codeberg.org/mutker/cemctl/internal/device/sim"
	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/feedback"
	"codeberg.org/mutker/cemctl/internal/history"
	"codeberg.org/mutker/cemctl/internal/logger"
	"codeberg.org/mutker/cemctl/internal/pid"
	"codeberg.org/mutker/cemctl/internal/sampler"
	"codeberg.org/mutker/cemctl/internal/server"
	"codeberg.org/mutker/cemctl/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

var (
	cfg     *config.Config
	pidFile *pid.File
)

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")

	pidFile = pid.New("", "")
	if err := pidFile.Write(); err != nil {
		logger.FatalWithCode(err).Str("path", pidFile.Path()).Msg("failed to write PID file")
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	err := run(ctx)
	cleanup()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	errFactory := errors.New()

	store := history.New(cfg.HistorySpan, cfg.HistoryPoints)

	sink, repo, err := newCollectors(ctx, store)
	if err != nil {
		logger.ErrorWithCode(err).Msg("failed to initialize telemetry")
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.ErrorWithCode(err).Msg("failed to close telemetry")
		}
	}()

	loops := make([]*feedback.Loop, 0, len(cfg.Pairs))
	for i, p := range cfg.Pairs {
		loop, err := newLoop(i, p, sink)
		if err != nil {
			logger.ErrorWithCode(err).Str("pair", p.Name).Msg("failed to initialize pair")
			return errFactory.Wrap(errors.ErrInitApp, err)
		}
		loops = append(loops, loop)
	}

	srvCtx, stopServer := context.WithCancel(ctx)
	var srvWG sync.WaitGroup
	if cfg.HTTPAddr != "" {
		var events server.EventSource
		if repo != nil {
			events = repo
		}
		srv := server.New(store, events, logger.Default().With("component", "server"))

		srvWG.Add(1)
		go func() {
			defer srvWG.Done()
			if err := srv.ListenAndServe(srvCtx, cfg.HTTPAddr); err != nil {
				logger.ErrorWithCode(err).Msg("status server stopped")
			}
		}()
	}

	// Pairs run independently: a failed loop does not stop the others.
	var g errgroup.Group
	for i, loop := range loops {
		loop := loop
		name := cfg.Pairs[i].Name
		g.Go(func() error {
			if err := loop.Run(ctx); err != nil {
				logger.ErrorWithCode(err).Str("pair", name).Msg("control loop failed")
				return err
			}
			return nil
		})
	}
	err = g.Wait()

	stopServer()
	srvWG.Wait()

	return err
}

// newCollectors builds the event sinks. The history store and the log are
// always present; the SQLite recorder is required once enabled, while
// unreachable MQTT or Kafka brokers only disable their publisher.
func newCollectors(ctx context.Context, store *history.Store) (telemetry.Collector, *telemetry.Repository, error) {
	log := logger.Default().With("component", "telemetry")
	collectors := []telemetry.Collector{telemetry.NewLogCollector(log), store}

	var repo *telemetry.Repository
	if cfg.Telemetry {
		var err error
		repo, err = telemetry.NewRepository(telemetry.Config{
			DBPath:       cfg.TelemetryDB,
			BatchSize:    cfg.TelemetryBatchSize,
			BatchTimeout: cfg.TelemetryBatchTimeout,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		collectors = append(collectors, repo)
	}

	if cfg.MQTTBroker != "" {
		pub, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker: cfg.MQTTBroker,
			Topic:  cfg.MQTTTopic,
		}, log)
		if err != nil {
			log.ErrorWithCode(err).Msg("MQTT publisher disabled")
		} else {
			collectors = append(collectors, pub)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := telemetry.NewKafkaPublisher(telemetry.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, log)
		if err != nil {
			log.ErrorWithCode(err).Msg("Kafka publisher disabled")
		} else {
			collectors = append(collectors, pub)
		}
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	return telemetry.Multi(collectors...), repo, nil
}

func newLoop(i int, p config.Pair, sink telemetry.Collector) (*feedback.Loop, error) {
	ch, out, err := openPair(i, p)
	if err != nil {
		return nil, err
	}

	ctrl, err := controller.New(cfg.Controller())
	if err != nil {
		return nil, err
	}

	s := sampler.New(ch, sampler.WithName(p.Counter), sampler.WithTimeout(cfg.DeviceTimeout))

	return feedback.New(feedback.Config{
		Pair:          p.Name,
		Output:        p.Output,
		TickPacing:    cfg.TickPacing,
		SampleRate:    cfg.SampleRate,
		DeviceTimeout: cfg.DeviceTimeout,
	}, s, ctrl, out, sink, logger.Default().With("component", "loop").With("pair", p.Name)), nil
}

func openPair(i int, p config.Pair) (device.CountingChannel, device.AnalogOutput, error) {
	switch cfg.Driver {
	case "sim":
		seed := time.Now().UnixNano() + int64(i)
		return sim.NewCounter(p.Counter, p.SimRate, seed), sim.NewOutput(p.Output), nil
	default:
		return nil, nil, errors.New().WithData(device.ErrUnknownDriver, cfg.Driver)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup() {
	if err := pidFile.Remove(); err != nil {
		logger.ErrorWithCode(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
