package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a stack entry: a scalar, or a vector such as a spline keyframe.
type Value struct {
	num float64
	vec []float64
}

// Scalar returns a scalar value.
func Scalar(f float64) Value { return Value{num: f} }

// Vector returns a vector value. A nil or empty vector is still a vector.
func Vector(v ...float64) Value {
	if v == nil {
		v = []float64{}
	}
	return Value{vec: v}
}

func (v Value) IsVector() bool { return v.vec != nil }

// Float returns the scalar; vectors report false.
func (v Value) Float() (float64, bool) {
	if v.vec != nil {
		return 0, false
	}
	return v.num, true
}

// Components returns the vector components, or nil for a scalar.
func (v Value) Components() []float64 { return v.vec }

// Equal compares two values exactly.
func (v Value) Equal(o Value) bool {
	if v.IsVector() != o.IsVector() {
		return false
	}
	if !v.IsVector() {
		return v.num == o.num
	}
	if len(v.vec) != len(o.vec) {
		return false
	}
	for i := range v.vec {
		if v.vec[i] != o.vec[i] {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	if !v.IsVector() {
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	}
	parts := make([]string, len(v.vec))
	for i, c := range v.vec {
		parts[i] = strconv.FormatFloat(c, 'g', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ValueOf converts a decoded JSON value into a Value. Numbers may arrive as
// float64 or int64 depending on the decoder.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case []any:
		vec := make([]float64, len(x))
		for i, c := range x {
			f, err := ToFloat(c)
			if err != nil {
				return Value{}, fmt.Errorf("component %d: %w", i, err)
			}
			vec[i] = f
		}
		return Vector(vec...), nil
	case []float64:
		return Vector(append([]float64(nil), x...)...), nil
	default:
		f, err := ToFloat(raw)
		if err != nil {
			return Value{}, err
		}
		return Scalar(f), nil
	}
}

// ToFloat converts a decoded JSON scalar to float64. Booleans count as 0 or 1.
func ToFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, raw)
	}
}
