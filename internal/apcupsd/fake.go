package apcupsd

import "context"

// FakeSource is a test double for Source.
//
// Single-snapshot mode: pre-seed Status; every Poll() returns a copy of it.
// Sequence mode: pre-seed Sequence; each Poll() returns the next element.
// When the sequence is exhausted the last element is repeated. Set Err to
// inject a failure on every call.
type FakeSource struct {
	Status    map[string]string
	Sequence  []map[string]string
	Err       error
	CallCount int
	Closed    bool
}

// Poll returns a copy of the snapshot for the current call index, or Err.
func (f *FakeSource) Poll(_ context.Context) (map[string]string, error) {
	f.CallCount++
	if f.Err != nil {
		return nil, f.Err
	}

	src := f.Status
	if len(f.Sequence) > 0 {
		idx := f.CallCount - 1
		if idx >= len(f.Sequence) {
			idx = len(f.Sequence) - 1
		}
		src = f.Sequence[idx]
	}

	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

// Close records that the source was closed.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}

// Reset clears all state so the fake can be reused between sub-tests.
func (f *FakeSource) Reset() {
	f.Status = nil
	f.Sequence = nil
	f.Err = nil
	f.CallCount = 0
	f.Closed = false
}
