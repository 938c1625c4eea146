package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidValue is returned when a value does not satisfy its field's
// declared type or options.
var ErrInvalidValue = errors.New("invalid field value")

// Validate checks raw against the field's declared type and returns the
// canonical value to persist and broadcast.
//
// Numbers accept JSON numbers and numeric strings and canonicalize to
// float64. Dropdown values must be an exact member of Options. Every other
// type is accepted unchanged.
func Validate(field Field, raw any) (any, error) {
	switch field.Type {
	case TypeNumber:
		n, err := parseNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidValue, field.ID, err)
		}
		return n, nil
	case TypeDropdown:
		s, ok := raw.(string)
		if !ok || !contains(field.Options, s) {
			return nil, fmt.Errorf("%w: field %s: %v is not one of %q", ErrInvalidValue, field.ID, raw, field.Options)
		}
		return s, nil
	default:
		return raw, nil
	}
}

func parseNumber(raw any) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, err
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		n = f
	default:
		return 0, fmt.Errorf("%T is not a number", raw)
	}

	// JSON has no encoding for these.
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%v is not a finite number", n)
	}
	return n, nil
}

func contains(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
