package writer_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sweeney/apcupsd-influx/internal/normalize"
	"github.com/sweeney/apcupsd-influx/internal/writer"
)

var (
	_ writer.Writer = (*writer.FakeWriter)(nil)
	_ writer.Writer = (*writer.Multi)(nil)
	_ writer.Writer = (*writer.InfluxWriter)(nil)
	_ writer.Writer = (*writer.MQTTWriter)(nil)
)

var point = normalize.Point{
	Measurement: normalize.Measurement,
	Tags:        map[string]string{"host": "nas"},
	Fields:      map[string]interface{}{"WATTS": 72.0},
}

func TestNewMulti_NoWriters(t *testing.T) {
	if _, err := writer.NewMulti(nil); !errors.Is(err, writer.ErrNoWriters) {
		t.Fatalf("err = %v, want ErrNoWriters", err)
	}
}

func TestNewMulti_UnknownName(t *testing.T) {
	if _, err := writer.NewMulti(map[string]writer.Writer{}, "influxdb"); err == nil {
		t.Fatal("expected error for a name with no writer")
	}
}

func TestMulti_WritesToAll(t *testing.T) {
	a, b := &writer.FakeWriter{}, &writer.FakeWriter{}
	m, err := writer.NewMulti(map[string]writer.Writer{"a": a, "b": b}, "a", "b")
	if err != nil {
		t.Fatalf("NewMulti: %v", err)
	}
	if err := m.Write(context.Background(), point); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(a.Points) != 1 || len(b.Points) != 1 {
		t.Errorf("points written: a=%d b=%d, want 1 each", len(a.Points), len(b.Points))
	}
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	a := &writer.FakeWriter{WriteError: errors.New("bucket not found")}
	b := &writer.FakeWriter{}
	m, _ := writer.NewMulti(map[string]writer.Writer{"influxdb": a, "mqtt": b}, "influxdb", "mqtt")

	err := m.Write(context.Background(), point)
	if err == nil {
		t.Fatal("expected error when a writer fails")
	}
	if !strings.Contains(err.Error(), "influxdb: bucket not found") {
		t.Errorf("err = %v, want writer name in message", err)
	}
	if len(b.Points) != 1 {
		t.Error("second writer should still receive the point")
	}
}

func TestMulti_Close(t *testing.T) {
	a := &writer.FakeWriter{CloseError: errors.New("flush failed")}
	b := &writer.FakeWriter{}
	m, _ := writer.NewMulti(map[string]writer.Writer{"a": a, "b": b}, "a", "b")

	if err := m.Close(); err == nil {
		t.Error("expected Close to report the failing writer")
	}
	if !a.Closed || !b.Closed {
		t.Error("every writer should be closed")
	}
}

func TestFakeWriter_LastAndReset(t *testing.T) {
	fw := &writer.FakeWriter{}
	if _, ok := fw.Last(); ok {
		t.Fatal("Last should report false before any write")
	}
	fw.Write(context.Background(), point) //nolint:errcheck
	got, ok := fw.Last()
	if !ok || got.Tags["host"] != "nas" {
		t.Errorf("Last = %+v, %v", got, ok)
	}
	fw.Reset()
	if fw.Points != nil || fw.Closed {
		t.Error("Reset should clear recorded state")
	}
}
