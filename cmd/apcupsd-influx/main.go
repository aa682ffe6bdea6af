package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/apcupsd-influx/internal/apcupsd"
	"github.com/sweeney/apcupsd-influx/internal/config"
	"github.com/sweeney/apcupsd-influx/internal/logging"
	"github.com/sweeney/apcupsd-influx/internal/normalize"
	"github.com/sweeney/apcupsd-influx/internal/nut"
	"github.com/sweeney/apcupsd-influx/internal/telemetry"
	"github.com/sweeney/apcupsd-influx/internal/writer"
)

func main() {
	configPath := flag.String("config", "/etc/apcupsd-influx/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, "./config.toml")
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Logging, cfg.Verbose)
	slog.SetDefault(logger.Logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("apcupsd-influx starting",
		"source", cfg.Source,
		"influxdb", cfg.InfluxDB.URL(),
		"bucket", cfg.InfluxDB.Bucket,
		"interval", cfg.Interval.Duration)

	rec := telemetry.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(rec), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close() //nolint:errcheck
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	w, err := openWriters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("closing writers", "error", err)
		}
	}()

	src, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close() //nolint:errcheck

	return pollLoop(ctx, cfg.Interval.Duration, func(ctx context.Context) error {
		return doPoll(ctx, src, w, cfg.NormalizeOptions(), rec, logger)
	}, logger)
}

func metricsMux(rec *telemetry.Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	return mux
}

// openWriters connects the InfluxDB writer and, when a broker is configured,
// the MQTT mirror.
func openWriters(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*writer.Multi, error) {
	influx := writer.NewInfluxWriter(cfg.InfluxDB)
	if err := influx.HealthCheck(ctx); err != nil {
		logger.Warn("influxdb not reachable yet", "url", cfg.InfluxDB.URL(), "error", err)
	}
	writers := map[string]writer.Writer{"influxdb": influx}
	order := []string{"influxdb"}

	if cfg.MQTT.Broker != "" {
		mq, err := writer.NewMQTTWriter(cfg.MQTT)
		if err != nil {
			influx.Close() //nolint:errcheck
			return nil, err
		}
		writers["mqtt"] = mq
		order = append(order, "mqtt")
		logger.Info("mirroring points to MQTT", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}
	return writer.NewMulti(writers, order...)
}

func openSource(cfg *config.Config) (apcupsd.Source, error) {
	switch cfg.Source {
	case config.SourceNUT:
		c, err := nut.NewClient(cfg.NUT.Host, cfg.NUT.Port, cfg.NUT.Username, cfg.NUT.Password, cfg.NUT.UPSName)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return apcupsd.NewClient(cfg.APCUPSD.Host, cfg.APCUPSD.Port, cfg.APCUPSD.Timeout.Duration), nil
	}
}

// pollLoop runs poll immediately and then every interval until ctx ends.
// A missing rated power is not recoverable and stops the loop; any other
// cycle error is logged and the next cycle proceeds.
func pollLoop(ctx context.Context, interval time.Duration, poll func(context.Context) error, logger *logging.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		cycleCtx, cancel := context.WithTimeout(ctx, interval)
		err := poll(cycleCtx)
		cancel()
		if errors.Is(err, normalize.ErrMissingRatedPower) {
			return err
		}
		if err != nil {
			logger.Warn("poll cycle failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		}
	}
}

// doPoll fetches one status snapshot, normalizes it, and writes the point.
func doPoll(
	ctx context.Context,
	src apcupsd.Source,
	w writer.Writer,
	opts normalize.Options,
	rec *telemetry.Recorder,
	logger *logging.Logger,
) error {
	start := time.Now()
	result := telemetry.ResultOK
	defer func() { rec.ObservePoll(result, time.Since(start)) }()

	raw, err := src.Poll(ctx)
	if err != nil {
		result = telemetry.ResultSourceError
		return fmt.Errorf("polling status: %w", err)
	}

	p, err := normalize.Normalize(raw, opts)
	if err != nil {
		result = telemetry.ResultNormalizeError
		return fmt.Errorf("normalizing status: %w", err)
	}
	logger.Debug("assembled point", "point", p.String())

	if err := w.Write(ctx, p); err != nil {
		result = telemetry.ResultWriteError
		logger.Debug("write failed", "error", err)
		return fmt.Errorf("writing point: %w", err)
	}

	watts, _ := p.Fields[normalize.WattsKey].(float64)
	rec.ObserveWrite(p.Tags[normalize.HostTag], watts, time.Now())
	logger.Debug("write ok", "host", p.Tags[normalize.HostTag], "watts", watts)
	return nil
}
