package formula

import (
	"fmt"
	"math"
	"slices"
)

type valueStack []Value

func (s *valueStack) push(v Value) { *s = append(*s, v) }

func (s *valueStack) pop() (Value, error) {
	n := len(*s)
	if n == 0 {
		return Value{}, ErrUnbalancedStack
	}
	v := (*s)[n-1]
	*s = (*s)[:n-1]
	return v, nil
}

func (s *valueStack) popScalar() (float64, error) {
	v, err := s.pop()
	if err != nil {
		return 0, err
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%w: expected scalar, got %s", ErrUnsupportedOperand, v)
	}
	return f, nil
}

func countOf(v Value) (int, error) {
	f, ok := v.Float()
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: bad keyframe count %s", ErrUnsupportedOperand, v)
	}
	return int(f), nil
}

// Evaluate runs the formula and returns the single value left on the stack.
// in may be nil for formulas without references.
func (f *Formula) Evaluate(in Inputs) (Value, error) {
	var stack valueStack
	for _, op := range f.Operations {
		switch op.Code {
		case OpPush:
			switch {
			case op.HasValue:
				stack.push(op.Val)
			case op.Ref != nil && in != nil:
				v, err := in.Value(op.Ref)
				if err != nil {
					return Value{}, fmt.Errorf("%s: evaluate %s: %w", f.Name, op.Ref, err)
				}
				stack.push(v)
			default:
				return Value{}, fmt.Errorf("%s: %w: %s", f.Name, ErrUnsupportedOperand, op)
			}

		case OpMult:
			a, err := stack.popScalar()
			if err != nil {
				return Value{}, fmt.Errorf("%s: mult: %w", f.Name, err)
			}
			b, err := stack.popScalar()
			if err != nil {
				return Value{}, fmt.Errorf("%s: mult: %w", f.Name, err)
			}
			stack.push(Scalar(a * b))

		case OpSplineTCB, OpSplineLinear, OpSplineConstant:
			keys, input, err := popSpline(&stack)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %s: %w", f.Name, op.Code, err)
			}
			if op.Code != OpSplineTCB {
				// Linear and constant splines are not evaluated; they
				// consume their operands and yield 0.
				stack.push(Scalar(0))
				continue
			}
			x, ok := input.Float()
			if !ok {
				return Value{}, fmt.Errorf("%s: %w: spline input %s", f.Name, ErrUnsupportedOperand, input)
			}
			frames, err := keyframesFrom(keys)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", f.Name, err)
			}
			spline, err := NewSpline(frames)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", f.Name, err)
			}
			stack.push(Scalar(spline.Evaluate(x)))

		default:
			return Value{}, fmt.Errorf("%s: %w: %s", f.Name, ErrUnsupportedOp, op.Code)
		}
	}
	if len(stack) != 1 {
		return Value{}, fmt.Errorf("%s: %w: %d values left", f.Name, ErrUnbalancedStack, len(stack))
	}
	return stack[0], nil
}

// popSpline pops the keyframe count, the keyframes and the spline input.
func popSpline(stack *valueStack) (keys []Value, input Value, err error) {
	nv, err := stack.pop()
	if err != nil {
		return nil, Value{}, err
	}
	n, err := countOf(nv)
	if err != nil {
		return nil, Value{}, err
	}
	keys = make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		if keys[i], err = stack.pop(); err != nil {
			return nil, Value{}, err
		}
	}
	input, err = stack.pop()
	if err != nil {
		return nil, Value{}, err
	}
	return keys, input, nil
}

// EvaluateScalar evaluates f and requires a scalar result.
func (f *Formula) EvaluateScalar(in Inputs) (float64, error) {
	v, err := f.Evaluate(in)
	if err != nil {
		return 0, err
	}
	x, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%s: %w: result %s", f.Name, ErrNotNumeric, v)
	}
	return x, nil
}

// EvaluateList combines all formulas attached to one output: the sum stage
// is added to static, then the mult stage is multiplied in.
func EvaluateList(list []*Formula, static float64, in Inputs) (float64, error) {
	result := static
	for _, f := range list {
		if f.Stage != StageSum {
			continue
		}
		v, err := f.EvaluateScalar(in)
		if err != nil {
			return 0, err
		}
		result += v
	}
	for _, f := range list {
		if f.Stage != StageMult {
			continue
		}
		v, err := f.EvaluateScalar(in)
		if err != nil {
			return 0, err
		}
		result *= v
	}
	return result, nil
}

// MultipliesByZero reports whether any mult-stage formula is a constant zero,
// which forces the output to zero.
func MultipliesByZero(list []*Formula) bool {
	for _, f := range list {
		if f.Stage != StageMult {
			continue
		}
		if c, ok := f.ConstantScalar(); ok && math.Abs(c) < Epsilon {
			return true
		}
	}
	return false
}

// ListIsConstant reports whether the combined result of list can't change:
// it is multiplied by zero, every formula is constant, or the sum stage is
// constant and sums to zero.
func ListIsConstant(list []*Formula) bool {
	if MultipliesByZero(list) {
		return true
	}
	if !slices.ContainsFunc(list, func(f *Formula) bool { return !f.IsConstant() }) {
		return true
	}
	var total float64
	for _, f := range list {
		if f.Stage != StageSum {
			continue
		}
		c, ok := f.ConstantScalar()
		if !ok {
			return false
		}
		total += c
	}
	return math.Abs(total) < Epsilon
}
