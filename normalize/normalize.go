// Package normalize validates decoded telemetry payloads and coerces them
// into canonical records and patches.
//
// Nothing is returned partially: a payload either normalizes completely or
// is rejected with an *Error.
package normalize

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/dratasich/telemetry-cache/clock"
	"github.com/dratasich/telemetry-cache/events"
)

// Mode selects how strictly a payload is checked.
type Mode int

const (
	// Create requires deviceId and metrics.
	Create Mode = iota
	// Patch accepts any subset of deviceId, ts and metrics.
	Patch
)

func (m Mode) String() string {
	if m == Patch {
		return "patch"
	}
	return "create"
}

const (
	fieldDeviceID = "deviceId"
	fieldTs       = "ts"
	fieldMetrics  = "metrics"
)

// top-level shape of a payload, before type checks
type rawPayload struct {
	DeviceID  any `mapstructure:"deviceId"`
	Timestamp any `mapstructure:"ts"`
	Metrics   any `mapstructure:"metrics"`
}

// Normalizer turns decoded JSON values into records and patches.
// Its only side effect is reading the clock for missing timestamps.
type Normalizer struct {
	clock clock.Clock
}

func New(c clock.Clock) *Normalizer {
	if c == nil {
		c = clock.Real()
	}
	return &Normalizer{clock: c}
}

// Result of Normalize; exactly one of Record or Patch is meaningful,
// depending on the mode.
type Result struct {
	Mode   Mode
	Record events.Record
	Patch  events.Patch
}

// Normalize validates input in the given mode.
func (n *Normalizer) Normalize(input any, mode Mode) (Result, error) {
	fields, err := n.fields(input, mode)
	if err != nil {
		return Result{}, err
	}
	res := Result{Mode: mode, Patch: fields}
	if mode == Create {
		res.Record = events.Record{
			DeviceID:  *fields.DeviceID,
			Timestamp: *fields.Timestamp,
			Metrics:   fields.Metrics,
		}
	}
	return res, nil
}

// Record normalizes a create payload into a complete record.
func (n *Normalizer) Record(input any) (events.Record, error) {
	res, err := n.Normalize(input, Create)
	return res.Record, err
}

// Patch normalizes a partial update. Absent fields stay nil.
func (n *Normalizer) Patch(input any) (events.Patch, error) {
	res, err := n.Normalize(input, Patch)
	return res.Patch, err
}

func (n *Normalizer) fields(input any, mode Mode) (events.Patch, error) {
	obj, ok := input.(map[string]any)
	if !ok {
		return events.Patch{}, notAnObject(input)
	}

	if mode == Create {
		for _, name := range []string{fieldDeviceID, fieldMetrics} {
			if _, present := obj[name]; !present {
				return events.Patch{}, missingField(name)
			}
		}
	}

	var raw rawPayload
	var md mapstructure.Metadata
	if err := mapstructure.DecodeMetadata(obj, &raw, &md); err != nil {
		// fields are untyped, decoding a string-keyed map cannot fail
		return events.Patch{}, notAnObject(input)
	}
	if len(md.Unused) > 0 {
		log.Debug().Msgf("Ignoring unknown telemetry fields: %v", md.Unused)
	}

	var out events.Patch

	if _, present := obj[fieldDeviceID]; present {
		id, ok := raw.DeviceID.(string)
		if !ok || (mode == Create && id == "") {
			return events.Patch{}, typeError(fieldDeviceID, "a non-empty string")
		}
		out.DeviceID = &id
	}

	// ts: null counts as absent
	switch ts := raw.Timestamp.(type) {
	case nil:
		if mode == Create {
			stamp := clock.Stamp(n.clock)
			out.Timestamp = &stamp
		}
	case string:
		out.Timestamp = &ts
	default:
		return events.Patch{}, typeError(fieldTs, "an ISO 8601 string")
	}

	if _, present := obj[fieldMetrics]; present {
		metrics, err := coerceMetrics(raw.Metrics)
		if err != nil {
			return events.Patch{}, err
		}
		out.Metrics = metrics
	}

	return out, nil
}

func coerceMetrics(v any) (map[string]float64, error) {
	in, ok := v.(map[string]any)
	if !ok {
		return nil, typeError(fieldMetrics, "an object")
	}
	out := make(map[string]float64, len(in))
	// sorted so the reported key is deterministic
	for _, key := range slices.Sorted(maps.Keys(in)) {
		f, ok := toFloat(in[key])
		if !ok {
			return nil, invalidMetric(key, in[key])
		}
		out[key] = f
	}
	return out, nil
}

// toFloat accepts numbers and numeric strings, nothing else.
func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		parsed, ok := parseDecimal(val)
		if !ok {
			return 0, false
		}
		f = parsed
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		// ints, uints and floats of any width; objects and arrays fail
		if err := mapstructure.Decode(v, &f); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseDecimal parses a decimal numeric string. Hex float syntax
// ("0x1p4") is not a number on the wire.
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	digits := strings.TrimLeft(s, "+-")
	if len(digits) >= 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
