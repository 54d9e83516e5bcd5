package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseError reports a document field whose value could not be decoded
type ParseError struct {
	Field string
	Value interface{}
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s value %v: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseResetDay decodes a monthly reset day. An absent value yields nil with
// no error; anything that is not a day of month yields nil and a *ParseError.
func ParseResetDay(field string, raw interface{}) (*int, error) {
	if raw == nil {
		return nil, nil
	}

	var day int
	switch v := raw.(type) {
	case int64:
		day = int(v)
	case int:
		day = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("not a finite number")}
		}
		day = int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, &ParseError{Field: field, Value: raw, Err: err}
		}
		day = n
	default:
		return nil, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("unsupported type %T", raw)}
	}

	if day < 1 || day > 31 {
		return nil, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("day %d out of range 1-31", day)}
	}
	return &day, nil
}

// ParseReading decodes a numeric reading. Absent values read as 0.
func ParseReading(field string, raw interface{}) (float64, error) {
	var value float64
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		value = v
	case int64:
		value = float64(v)
	case int:
		value = float64(v)
	case string:
		// Strip square brackets if present
		f, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(v), "[]"), 64)
		if err != nil {
			return 0, &ParseError{Field: field, Value: raw, Err: err}
		}
		value = f
	default:
		return 0, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("unsupported type %T", raw)}
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("not a finite number")}
	}
	return value, nil
}

// ParseReadings decodes an array of numeric readings
func ParseReadings(field string, raw interface{}) ([]float64, error) {
	if raw == nil {
		return []float64{}, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("expected array, got %T", raw)}
	}

	values := make([]float64, 0, len(items))
	for i, item := range items {
		v, err := ParseReading(fmt.Sprintf("%s[%d]", field, i), item)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// ParseLabels decodes an array of labels. Numeric labels are formatted the
// way they would have been written.
func ParseLabels(field string, raw interface{}) ([]string, error) {
	if raw == nil {
		return []string{}, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, &ParseError{Field: field, Value: raw, Err: fmt.Errorf("expected array, got %T", raw)}
	}

	labels := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			labels = append(labels, v)
		case int64:
			labels = append(labels, strconv.FormatInt(v, 10))
		case float64:
			labels = append(labels, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			labels = append(labels, fmt.Sprint(v))
		}
	}
	return labels, nil
}
