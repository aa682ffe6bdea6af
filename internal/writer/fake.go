package writer

import (
	"context"

	"github.com/sweeney/apcupsd-influx/internal/normalize"
)

// FakeWriter records every written point so tests can inspect them.
type FakeWriter struct {
	Points     []normalize.Point
	WriteError error
	CloseError error
	Closed     bool
}

// Write appends p to the recorded list, or returns WriteError if set.
func (f *FakeWriter) Write(_ context.Context, p normalize.Point) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Points = append(f.Points, p)
	return nil
}

// Close marks the writer as closed and returns CloseError.
func (f *FakeWriter) Close() error {
	f.Closed = true
	return f.CloseError
}

// Last returns the most recently written point, plus a found bool.
func (f *FakeWriter) Last() (normalize.Point, bool) {
	if len(f.Points) == 0 {
		return normalize.Point{}, false
	}
	return f.Points[len(f.Points)-1], true
}

// Reset clears all recorded state so the fake can be reused between sub-tests.
func (f *FakeWriter) Reset() {
	f.Points = nil
	f.WriteError = nil
	f.CloseError = nil
	f.Closed = false
}
