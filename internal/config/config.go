// Package config loads and merges configuration from a TOML file and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sweeney/apcupsd-influx/internal/normalize"
)

// Status source names.
const (
	SourceAPCUPSD = "apcupsd"
	SourceNUT     = "nut"
)

// Duration wraps time.Duration so that BurntSushi/toml can decode "30s"-style
// strings via the encoding.TextUnmarshaler interface.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// InfluxDBConfig holds the destination store settings.
type InfluxDBConfig struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

// URL returns the server URL. Host may carry its own scheme
// ("https://influx"); plain hosts default to http.
func (c InfluxDBConfig) URL() string {
	host := c.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// APCUPSDConfig holds the apcupsd NIS connection settings.
type APCUPSDConfig struct {
	Host    string   `toml:"host"`
	Port    int      `toml:"port"`
	Timeout Duration `toml:"timeout"`
}

// NUTConfig holds Network UPS Tools client settings, used when Source is "nut".
type NUTConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UPSName  string `toml:"ups_name"`
}

// MQTTConfig holds the optional MQTT mirror settings. An empty Broker
// disables the mirror.
type MQTTConfig struct {
	Broker      string `toml:"broker"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QOS         byte   `toml:"qos"`
	TLSCACert   string `toml:"tls_ca_cert"`
}

// LoggingConfig selects log level and handler format ("text" or "json").
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the top-level configuration struct.
type Config struct {
	Source   string   `toml:"source"`
	Interval Duration `toml:"interval"`
	Verbose  bool     `toml:"verbose"`
	// Watts overrides the UPS's reported NOMPOWER when set.
	Watts *float64 `toml:"watts"`
	// Hostname overrides the host tag when non-empty.
	Hostname    string `toml:"hostname"`
	MetricsAddr string `toml:"metrics_addr"`

	InfluxDB InfluxDBConfig `toml:"influxdb"`
	APCUPSD  APCUPSDConfig  `toml:"apcupsd"`
	NUT      NUTConfig      `toml:"nut"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Logging  LoggingConfig  `toml:"logging"`
}

// NormalizeOptions returns the subset of cfg the status normalizer reads.
func (c *Config) NormalizeOptions() normalize.Options {
	return normalize.Options{Hostname: c.Hostname, Watts: c.Watts}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Source != SourceAPCUPSD && c.Source != SourceNUT {
		errs = append(errs, fmt.Errorf("source must be %q or %q, got %q", SourceAPCUPSD, SourceNUT, c.Source))
	}
	if c.Interval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.InfluxDB.Host == "" {
		errs = append(errs, errors.New("influxdb host must be set"))
	}
	if c.InfluxDB.Bucket == "" {
		errs = append(errs, errors.New("influxdb bucket must be set"))
	}
	if err := c.NormalizeOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load reads config from the first existing path in paths, then applies
// environment variable overrides. Missing files are skipped silently;
// a malformed file returns an error. Calling Load() with no arguments
// returns pure defaults plus any env overrides.
func Load(paths ...string) (*Config, error) {
	cfg := defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", path, err)
			}
			break // first found file wins
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking config path %q: %w", path, statErr)
		}
	}

	applyEnvOverrides(cfg)

	// The daemon usually runs next to the store, as in the original exporter.
	if cfg.APCUPSD.Host == "" {
		cfg.APCUPSD.Host = hostOnly(cfg.InfluxDB.Host)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Source:   SourceAPCUPSD,
		Interval: Duration{10 * time.Second},
		InfluxDB: InfluxDBConfig{
			Host:   "localhost",
			Port:   8086,
			Bucket: "apcupsd",
		},
		APCUPSD: APCUPSDConfig{
			Port:    3551,
			Timeout: Duration{10 * time.Second},
		},
		NUT: NUTConfig{
			Host:    "localhost",
			Port:    3493,
			UPSName: "ups",
		},
		MQTT: MQTTConfig{
			ClientID:    "apcupsd-influx",
			TopicPrefix: "apcupsd",
			QOS:         1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides copies any set environment variables into cfg. The
// variable names match the original Python exporter's.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.InfluxDB.Org, "INFLUXDB_ORG")
	setString(&cfg.InfluxDB.Bucket, "INFLUXDB_BUCKET")
	setString(&cfg.InfluxDB.Token, "INFLUXDB_TOKEN")
	setString(&cfg.InfluxDB.Host, "INFLUXDB_HOST")
	setInt(&cfg.InfluxDB.Port, "INFLUXDB_PORT")

	setString(&cfg.APCUPSD.Host, "APCUPSD_HOST")
	setInt(&cfg.APCUPSD.Port, "APCUPSD_PORT")

	if v := os.Getenv("INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Interval = Duration{time.Duration(secs) * time.Second}
		} else {
			slog.Warn("config: ignoring invalid INTERVAL", "value", v, "error", err)
		}
	}
	if v := os.Getenv("VERBOSE"); v != "" {
		cfg.Verbose = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("WATTS"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Watts = &w
		} else {
			slog.Warn("config: ignoring invalid WATTS", "value", v, "error", err)
		}
	}
	setString(&cfg.Hostname, "HOSTNAME")
	setString(&cfg.Source, "SOURCE")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	setString(&cfg.NUT.Host, "NUT_HOST")
	setInt(&cfg.NUT.Port, "NUT_PORT")
	setString(&cfg.NUT.Username, "NUT_USERNAME")
	setString(&cfg.NUT.Password, "NUT_PASSWORD")
	setString(&cfg.NUT.UPSName, "NUT_UPS_NAME")

	setString(&cfg.MQTT.Broker, "MQTT_BROKER")
	setString(&cfg.MQTT.Username, "MQTT_USERNAME")
	setString(&cfg.MQTT.Password, "MQTT_PASSWORD")
	setString(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&cfg.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")
	setString(&cfg.MQTT.TLSCACert, "MQTT_TLS_CA_CERT")
	if v := os.Getenv("MQTT_QOS"); v != "" {
		if q, err := strconv.ParseUint(v, 10, 8); err == nil {
			cfg.MQTT.QOS = byte(q)
		} else {
			slog.Warn("config: ignoring invalid MQTT_QOS", "value", v, "error", err)
		}
	}

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring invalid "+env, "value", v, "error", err)
		return
	}
	*dst = n
}

// hostOnly strips any scheme and port from an InfluxDB host so it can be
// dialled directly.
func hostOnly(host string) string {
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
