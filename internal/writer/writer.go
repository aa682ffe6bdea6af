// Package writer persists normalized status points. The InfluxDB writer is
// the primary destination; an MQTT mirror can be fanned out alongside it.
package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/apcupsd-influx/internal/normalize"
)

// ErrNoWriters is returned by NewMulti when given nothing to fan out to.
var ErrNoWriters = errors.New("writer: no writers configured")

// Writer is the minimal interface the poll loop uses to persist a point.
// The real clients and FakeWriter all implement it.
type Writer interface {
	Write(ctx context.Context, p normalize.Point) error
	Close() error
}

// Multi writes every point to each of its writers in order.
type Multi struct {
	writers []Writer
	names   []string
}

// NewMulti returns a Multi over writers, keyed by name for error messages.
func NewMulti(writers map[string]Writer, order ...string) (*Multi, error) {
	if len(order) == 0 {
		return nil, ErrNoWriters
	}
	m := &Multi{}
	for _, name := range order {
		w, ok := writers[name]
		if !ok || w == nil {
			return nil, fmt.Errorf("writer %q not configured", name)
		}
		m.writers = append(m.writers, w)
		m.names = append(m.names, name)
	}
	return m, nil
}

// Write attempts every writer even if an earlier one fails, and returns all
// failures joined.
func (m *Multi) Write(ctx context.Context, p normalize.Point) error {
	var errs []error
	for i, w := range m.writers {
		if err := w.Write(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every writer and returns all failures joined.
func (m *Multi) Close() error {
	var errs []error
	for i, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}
