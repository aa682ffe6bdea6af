package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/apcupsd-influx/internal/config"
	"github.com/sweeney/apcupsd-influx/internal/normalize"
)

const (
	defaultPingTimeout = 5 * time.Second

	// httpTimeoutSeconds bounds every request the InfluxDB client makes.
	httpTimeoutSeconds = 10
)

// ErrUnhealthy is returned by HealthCheck when the server answers but
// reports itself unhealthy.
var ErrUnhealthy = errors.New("influxdb: server not healthy")

// InfluxWriter writes points synchronously to one InfluxDB v2 bucket.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	url      string
	now      func() time.Time
}

// NewInfluxWriter creates a client for cfg. No request is made until the
// first Write or HealthCheck.
func NewInfluxWriter(cfg config.InfluxDBConfig) *InfluxWriter {
	url := cfg.URL()
	client := influxdb2.NewClientWithOptions(
		url,
		cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(httpTimeoutSeconds),
	)
	return &InfluxWriter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		url:      url,
		now:      time.Now,
	}
}

// Write stamps p with the current time and blocks until the server has
// accepted it.
func (w *InfluxWriter) Write(ctx context.Context, p normalize.Point) error {
	point := write.NewPoint(p.Measurement, p.Tags, p.Fields, w.now())
	if err := w.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("writing to influxdb at %s: %w", w.url, err)
	}
	return nil
}

// HealthCheck pings the server.
func (w *InfluxWriter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := w.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

// Close releases the underlying HTTP client.
func (w *InfluxWriter) Close() error {
	w.client.Close()
	return nil
}
