package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/apcupsd-influx/internal/apcupsd"
	"github.com/sweeney/apcupsd-influx/internal/config"
	"github.com/sweeney/apcupsd-influx/internal/logging"
	"github.com/sweeney/apcupsd-influx/internal/normalize"
	"github.com/sweeney/apcupsd-influx/internal/telemetry"
	"github.com/sweeney/apcupsd-influx/internal/writer"
)

var sampleStatus = map[string]string{
	"APC":      "001,036,0857",
	"DATE":     "2024-03-09 10:21:44 +0000",
	"HOSTNAME": "nas",
	"MODEL":    "Back-UPS RS 900G",
	"STATUS":   "ONLINE",
	"LOADPCT":  "8.0",
	"NOMPOWER": "900",
	"END APC":  "2024-03-09 10:22:09 +0000",
}

func testLogger(buf *bytes.Buffer, verbose bool) *logging.Logger {
	return logging.New(buf, config.LoggingConfig{Level: "info"}, verbose)
}

func TestDoPoll_Success(t *testing.T) {
	fs := &apcupsd.FakeSource{Status: sampleStatus}
	fw := &writer.FakeWriter{}
	rec := telemetry.New()
	var buf bytes.Buffer

	if err := doPoll(context.Background(), fs, fw, normalize.Options{}, rec, testLogger(&buf, false)); err != nil {
		t.Fatalf("doPoll: %v", err)
	}
	if fs.CallCount != 1 {
		t.Errorf("CallCount = %d, want 1", fs.CallCount)
	}
	p, ok := fw.Last()
	if !ok {
		t.Fatal("no point written")
	}
	if p.Tags["host"] != "nas" || p.Tags["MODEL"] != "Back-UPS RS 900G" {
		t.Errorf("tags = %v", p.Tags)
	}
	if p.Fields["WATTS"] != 72.0 {
		t.Errorf("WATTS = %v, want 72", p.Fields["WATTS"])
	}
	if _, ok := p.Fields["DATE"]; ok {
		t.Error("DATE should not be written")
	}
	if buf.Len() != 0 {
		t.Errorf("non-verbose cycle logged output: %q", buf.String())
	}
}

func TestDoPoll_Verbose(t *testing.T) {
	fs := &apcupsd.FakeSource{Status: sampleStatus}
	fw := &writer.FakeWriter{}
	var buf bytes.Buffer

	if err := doPoll(context.Background(), fs, fw, normalize.Options{}, telemetry.New(), testLogger(&buf, true)); err != nil {
		t.Fatalf("doPoll: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "assembled point") || !strings.Contains(out, "apcaccess_status") {
		t.Errorf("verbose output missing point dump: %q", out)
	}
	if !strings.Contains(out, "write ok") {
		t.Errorf("verbose output missing write outcome: %q", out)
	}
}

func TestDoPoll_SourceError(t *testing.T) {
	fs := &apcupsd.FakeSource{Err: errors.New("connection refused")}
	fw := &writer.FakeWriter{}
	rec := telemetry.New()
	var buf bytes.Buffer

	err := doPoll(context.Background(), fs, fw, normalize.Options{}, rec, testLogger(&buf, false))
	if err == nil {
		t.Fatal("expected error when Poll fails")
	}
	if len(fw.Points) != 0 {
		t.Error("no points should be written when Poll fails")
	}
}

func TestDoPoll_MissingRatedPower(t *testing.T) {
	fs := &apcupsd.FakeSource{Status: map[string]string{"LOADPCT": "8.0"}}
	fw := &writer.FakeWriter{}
	var buf bytes.Buffer

	err := doPoll(context.Background(), fs, fw, normalize.Options{}, telemetry.New(), testLogger(&buf, false))
	if !errors.Is(err, normalize.ErrMissingRatedPower) {
		t.Fatalf("err = %v, want ErrMissingRatedPower", err)
	}
	if len(fw.Points) != 0 {
		t.Error("no points should be written without rated power")
	}
}

func TestDoPoll_WattsOverride(t *testing.T) {
	fs := &apcupsd.FakeSource{Status: map[string]string{"LOADPCT": "50"}}
	fw := &writer.FakeWriter{}
	watts := 1000.0
	var buf bytes.Buffer

	opts := normalize.Options{Watts: &watts, Hostname: "edge-01"}
	if err := doPoll(context.Background(), fs, fw, opts, telemetry.New(), testLogger(&buf, false)); err != nil {
		t.Fatalf("doPoll: %v", err)
	}
	p, _ := fw.Last()
	if p.Fields["WATTS"] != 500.0 || p.Tags["host"] != "edge-01" {
		t.Errorf("point = %+v", p)
	}
}

func TestDoPoll_WriteError(t *testing.T) {
	fs := &apcupsd.FakeSource{Status: sampleStatus}
	fw := &writer.FakeWriter{WriteError: errors.New("bucket not found")}
	var buf bytes.Buffer

	if err := doPoll(context.Background(), fs, fw, normalize.Options{}, telemetry.New(), testLogger(&buf, false)); err == nil {
		t.Fatal("expected error when write fails")
	}
}

func TestPollLoop_StopsOnMissingRatedPower(t *testing.T) {
	var buf bytes.Buffer
	calls := 0
	err := pollLoop(context.Background(), time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("daemon unreachable")
		}
		return fmt.Errorf("normalizing status: %w", normalize.ErrMissingRatedPower)
	}, testLogger(&buf, false))

	if !errors.Is(err, normalize.ErrMissingRatedPower) {
		t.Fatalf("err = %v, want ErrMissingRatedPower", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (transient errors must not stop the loop)", calls)
	}
	if !strings.Contains(buf.String(), "poll cycle failed") {
		t.Errorf("transient failures not logged: %q", buf.String())
	}
}

func TestPollLoop_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	calls := 0
	err := pollLoop(ctx, time.Hour, func(context.Context) error {
		calls++
		cancel()
		return nil
	}, testLogger(&buf, false))

	if err != nil {
		t.Fatalf("pollLoop: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (first poll runs immediately)", calls)
	}
}

func TestDoPoll_RecordsTelemetry(t *testing.T) {
	rec := telemetry.New()
	var buf bytes.Buffer

	doPoll(context.Background(), &apcupsd.FakeSource{Status: sampleStatus}, &writer.FakeWriter{}, //nolint:errcheck
		normalize.Options{}, rec, testLogger(&buf, false))
	doPoll(context.Background(), &apcupsd.FakeSource{Err: errors.New("down")}, &writer.FakeWriter{}, //nolint:errcheck
		normalize.Options{}, rec, testLogger(&buf, false))

	resp := httptest.NewRecorder()
	metricsMux(rec).ServeHTTP(resp, httptest.NewRequest("GET", "/metrics", nil))
	body := resp.Body.String()
	for _, want := range []string{
		`apcupsd_influx_polls_total{result="ok"} 1`,
		`apcupsd_influx_polls_total{result="source_error"} 1`,
		`apcupsd_influx_watts{host="nas"} 72`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestOpenSource_Apcupsd(t *testing.T) {
	cfg := &config.Config{
		Source:  config.SourceAPCUPSD,
		APCUPSD: config.APCUPSDConfig{Host: "nas.local", Port: 3551},
	}
	src, err := openSource(cfg)
	if err != nil {
		t.Fatalf("openSource: %v", err)
	}
	c, ok := src.(*apcupsd.Client)
	if !ok {
		t.Fatalf("source = %T, want *apcupsd.Client", src)
	}
	if c.Addr() != "nas.local:3551" {
		t.Errorf("Addr = %q", c.Addr())
	}
}
