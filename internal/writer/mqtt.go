package writer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/apcupsd-influx/internal/config"
	"github.com/sweeney/apcupsd-influx/internal/normalize"
)

// StateMessage is the JSON payload mirrored to the per-host state topic.
type StateMessage struct {
	Timestamp   string                 `json:"timestamp"`
	Measurement string                 `json:"measurement"`
	Tags        map[string]string      `json:"tags"`
	Fields      map[string]interface{} `json:"fields"`
}

// OnlineState is the LWT / online-announcement payload.
type OnlineState struct {
	Online    bool   `json:"online"`
	Timestamp string `json:"timestamp"`
}

// StateTopic returns the topic a host's points are mirrored to.
func StateTopic(prefix, host string) string {
	return fmt.Sprintf("%s/%s/state", prefix, host)
}

// AvailabilityTopic returns the topic carrying the exporter's online state.
func AvailabilityTopic(prefix string) string {
	return prefix + "/availability"
}

// FormatState renders p as the JSON state payload.
func FormatState(p normalize.Point, ts time.Time) (string, error) {
	payload, err := json.Marshal(StateMessage{
		Timestamp:   ts.UTC().Format(time.RFC3339),
		Measurement: p.Measurement,
		Tags:        p.Tags,
		Fields:      p.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling state: %w", err)
	}
	return string(payload), nil
}

// FormatOnline returns the JSON payload for the availability topic.
func FormatOnline(online bool) string {
	payload, _ := json.Marshal(OnlineState{
		Online:    online,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return string(payload)
}

// MQTTWriter mirrors points to an MQTT broker as retained JSON messages.
type MQTTWriter struct {
	client mqtt.Client
	qos    byte
	prefix string
}

// NewMQTTWriter connects to cfg.Broker. The broker publishes an offline
// announcement on the availability topic if the exporter disappears.
func NewMQTTWriter(cfg config.MQTTConfig) (*MQTTWriter, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(AvailabilityTopic(cfg.TopicPrefix), FormatOnline(false), cfg.QOS, true)

	if cfg.TLSCACert != "" {
		tlsCfg, err := newTLSConfig(cfg.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("loading TLS CA cert %q: %w", cfg.TLSCACert, err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %q: %w", cfg.Broker, token.Error())
	}

	w := &MQTTWriter{client: client, qos: cfg.QOS, prefix: cfg.TopicPrefix}
	if err := w.publish(context.Background(), AvailabilityTopic(w.prefix), FormatOnline(true)); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("announcing online state: %w", err)
	}
	return w, nil
}

// Write publishes p to its host's state topic and waits for the broker to
// acknowledge or ctx to end.
func (w *MQTTWriter) Write(ctx context.Context, p normalize.Point) error {
	payload, err := FormatState(p, time.Now())
	if err != nil {
		return err
	}
	return w.publish(ctx, StateTopic(w.prefix, p.Tags[normalize.HostTag]), payload)
}

func (w *MQTTWriter) publish(ctx context.Context, topic, payload string) error {
	token := w.client.Publish(topic, w.qos, true, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
}

// Close announces the exporter offline and disconnects gracefully.
func (w *MQTTWriter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := w.publish(ctx, AvailabilityTopic(w.prefix), FormatOnline(false))
	w.client.Disconnect(250)
	return err
}

// newTLSConfig builds a *tls.Config that trusts caFile as an additional CA.
func newTLSConfig(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert from %q", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}
