package nut

import (
	"strconv"
)

// Variable holds a single NUT variable name/value pair.
// Value is always normalised to a string; callers parse as needed.
type Variable struct {
	Name  string
	Value string
}

// mnemonics maps NUT variable names onto the apcupsd status keys the rest of
// the exporter understands. Variables not listed here are dropped.
var mnemonics = map[string]string{
	"ups.load":                "LOADPCT",
	"ups.realpower.nominal":   "NOMPOWER",
	"ups.power.nominal":       "NOMAPNT",
	"ups.status":              "STATUS",
	"ups.model":               "MODEL",
	"ups.serial":              "SERIALNO",
	"ups.firmware":            "FIRMWARE",
	"ups.temperature":         "ITEMP",
	"ups.mfr.date":            "MANDATE",
	"battery.charge":          "BCHARGE",
	"battery.charge.low":      "MBATTCHG",
	"battery.voltage":         "BATTV",
	"battery.voltage.nominal": "NOMBATTV",
	"battery.date":            "BATTDATE",
	"input.voltage":           "LINEV",
	"input.voltage.nominal":   "NOMINV",
	"input.frequency":         "LINEFREQ",
	"input.transfer.low":      "LOTRANS",
	"input.transfer.high":     "HITRANS",
	"output.voltage":          "OUTPUTV",
	"output.voltage.nominal":  "NOMOUTV",
	"driver.name":             "DRIVER",
	"driver.version":          "VERSION",
}

// ToStatus converts NUT variables into an apcupsd-style status map.
// battery.runtime (seconds) becomes TIMELEFT in minutes, and upsName is
// reported as UPSNAME.
func ToStatus(vars []Variable, upsName string) map[string]string {
	status := make(map[string]string, len(vars)+1)
	for _, v := range vars {
		if key, ok := mnemonics[v.Name]; ok {
			status[key] = v.Value
		}
	}

	// device.model is the newer name; ups.model wins when both are present.
	if _, ok := status["MODEL"]; !ok {
		for _, v := range vars {
			if v.Name == "device.model" {
				status["MODEL"] = v.Value
			}
		}
	}

	for _, v := range vars {
		if v.Name != "battery.runtime" {
			continue
		}
		if secs, err := strconv.ParseFloat(v.Value, 64); err == nil {
			status["TIMELEFT"] = strconv.FormatFloat(secs/60, 'f', 1, 64)
		}
	}

	if upsName != "" {
		status["UPSNAME"] = upsName
	}
	return status
}
