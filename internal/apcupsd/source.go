// Package apcupsd talks to an apcupsd Network Information Server and turns
// its status report into a flat key/value map.
package apcupsd

import "context"

// Source abstracts a UPS status source so the poll loop and tests can swap
// implementations. Poll returns a fresh key → value snapshot on every call.
type Source interface {
	Poll(ctx context.Context) (map[string]string, error)
	Close() error
}
