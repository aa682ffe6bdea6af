// Package normalize turns a raw apcupsd status snapshot into a single
// time-series point. There is no I/O and no shared state; all functions are
// safe to call from any goroutine.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Measurement is the name every point is written under.
const Measurement = "apcaccess_status"

// FallbackHost is used for the host tag when neither an override nor the
// daemon's own HOSTNAME is available.
const FallbackHost = "apcupsd-influxdb-exporter"

// Well-known status keys.
const (
	HostTag     = "host"
	HostnameKey = "HOSTNAME"
	LoadPctKey  = "LOADPCT"
	NomPowerKey = "NOMPOWER"
	WattsKey    = "WATTS"
)

// ErrMissingRatedPower is returned when neither a watts override nor a
// NOMPOWER value is available, so instantaneous power cannot be derived.
var ErrMissingRatedPower = errors.New("UPS does not report NOMPOWER; the rated watts of the UPS must be configured")

// ignoredKeys describe the report itself rather than the UPS.
var ignoredKeys = []string{"DATE", "STARTTIME", "END APC", "ALARMDEL"}

// tagKeys are identity/descriptor keys stored as tags, verbatim.
var tagKeys = []string{
	"APC", "HOSTNAME", "UPSNAME", "VERSION",
	"CABLE", "MODEL", "UPSMODE", "DRIVER", "APCMODEL",
}

// Options carries the configuration values Normalize depends on.
type Options struct {
	// Hostname overrides the host tag when non-empty.
	Hostname string
	// Watts overrides the UPS's reported NOMPOWER when non-nil.
	Watts *float64
}

// Validate rejects option values that can never produce a sensible point.
func (o Options) Validate() error {
	if o.Watts != nil && *o.Watts < 0 {
		return fmt.Errorf("rated watts must not be negative, got %v", *o.Watts)
	}
	return nil
}

// Point is one normalized status snapshot.
//
// Fields values are float64 when the raw value was numeric and string
// otherwise.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
}

// Normalize builds a Point from raw. raw is not modified.
func Normalize(raw map[string]string, opts Options) (Point, error) {
	work := make(map[string]string, len(raw))
	for k, v := range raw {
		work[k] = v
	}

	for _, k := range ignoredKeys {
		delete(work, k)
	}

	tags := map[string]string{HostTag: resolveHost(raw, opts.Hostname)}
	for _, k := range tagKeys {
		if v, ok := work[k]; ok {
			tags[k] = v
			delete(work, k)
		}
	}
	// A stray lower-case "host" key would otherwise shadow the tag.
	delete(work, HostTag)

	fields := make(map[string]interface{}, len(work)+1)
	for k, v := range work {
		fields[k] = Coerce(v)
	}

	rated, err := ratedPower(fields, opts.Watts)
	if err != nil {
		return Point{}, err
	}
	load, _ := fields[LoadPctKey].(float64)
	fields[WattsKey] = rated * 0.01 * load

	return Point{
		Measurement: Measurement,
		Tags:        tags,
		Fields:      fields,
	}, nil
}

func resolveHost(raw map[string]string, override string) string {
	if override != "" {
		return override
	}
	if h, ok := raw[HostnameKey]; ok {
		return h
	}
	return FallbackHost
}

func ratedPower(fields map[string]interface{}, override *float64) (float64, error) {
	if override != nil {
		return *override, nil
	}
	if nominal, ok := fields[NomPowerKey].(float64); ok {
		return nominal, nil
	}
	return 0, ErrMissingRatedPower
}

// Coerce converts a decimal string (ASCII digits with at most one '.') to
// float64. Any other value, including one that is already a float64, is
// returned unchanged.
func Coerce(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if f, ok := parseDecimal(s); ok {
		return f
	}
	return s
}

func parseDecimal(s string) (float64, bool) {
	digits, dots := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
			if dots > 1 {
				return 0, false
			}
		default:
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// String renders p as a single line-protocol-like line with sorted keys,
// for diagnostics.
func (p Point) String() string {
	var b strings.Builder
	b.WriteString(p.Measurement)
	for _, k := range sortedKeys(p.Tags) {
		fmt.Fprintf(&b, ",%s=%s", k, p.Tags[k])
	}
	for i, k := range sortedKeys(p.Fields) {
		sep := ","
		if i == 0 {
			sep = " "
		}
		switch v := p.Fields[k].(type) {
		case float64:
			fmt.Fprintf(&b, "%s%s=%s", sep, k, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			fmt.Fprintf(&b, "%s%s=%q", sep, k, fmt.Sprint(v))
		}
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
