package apcupsd

import "strings"

// units are the suffixes apcupsd appends to values. Longer suffixes come
// first so "Percent Load Capacity" is not cut down to "... Load Capacity".
var units = []string{
	"Percent Load Capacity",
	"Minutes",
	"Seconds",
	"Percent",
	"Volts",
	"Watts",
	"Amps",
	"Hz",
	"VA",
	"C",
}

// ParseStatus converts "KEY : VALUE" report lines into a map. Keys and values
// are trimmed, and a trailing unit word is removed from each value. Lines
// without a colon are skipped.
func ParseStatus(lines []string) map[string]string {
	status := make(map[string]string, len(lines))
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		status[key] = stripUnits(strings.TrimSpace(value))
	}
	return status
}

func stripUnits(value string) string {
	for _, u := range units {
		if strings.HasSuffix(value, " "+u) {
			return strings.TrimSpace(strings.TrimSuffix(value, " "+u))
		}
	}
	return value
}
