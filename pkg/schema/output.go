package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// TaskOutput is the result of evaluating a task or a step: a string, a
// float64 or a bool. Templates are only scanned inside strings.
type TaskOutput = any

// Stringify renders a TaskOutput in its textual form. Numbers and booleans
// use their JSON text; nil renders as the empty string.
func Stringify(v TaskOutput) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return FormatNumber(val)
	}
	if out, ok := NormalizeOutput(v); ok {
		return Stringify(out)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// FormatNumber prints f the way JavaScript does: integral values without a
// fractional part, everything else in shortest form, and exponent notation
// below 1e-6 or from 1e21 on in magnitude.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if abs := math.Abs(f); abs >= 1e21 || abs < 1e-6 {
		// Go pads the exponent to two digits ("1e-07"); JavaScript does not.
		mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NormalizeOutput converts v to the canonical TaskOutput representation.
// It reports false when v is not a string, number or boolean.
func NormalizeOutput(v any) (TaskOutput, bool) {
	switch val := v.(type) {
	case string, bool, float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return nil, false
}
