package formula

import (
	"fmt"
	"slices"
)

// fragment is a run of operations that leaves exactly one value on the stack.
type fragment []Operation

func (fr fragment) constant() (Value, bool) {
	if len(fr) != 1 || !fr[0].IsConst() {
		return Value{}, false
	}
	return fr[0].Val, true
}

func (fr fragment) scalar() (float64, bool) {
	v, ok := fr.constant()
	if !ok {
		return 0, false
	}
	return v.Float()
}

type fragmentStack []fragment

func (s *fragmentStack) pop() (fragment, error) {
	n := len(*s)
	if n == 0 {
		return nil, ErrUnbalancedStack
	}
	fr := (*s)[n-1]
	*s = (*s)[:n-1]
	return fr, nil
}

// Optimize returns a simplified copy of f. Refs the policy reports as not
// dynamic are replaced by their current value from in, then constant
// subexpressions are folded. A nil policy treats every ref as dynamic.
// Optimizing an optimized formula returns the same operations.
func (f *Formula) Optimize(policy Policy, in Inputs) (*Formula, error) {
	ops := make([]Operation, 0, len(f.Operations))
	for _, op := range f.Operations {
		if op.Code == OpPush && op.Ref != nil && policy != nil && !policy.IsDynamic(op.Ref) {
			if in == nil {
				return nil, fmt.Errorf("%s: no inputs to bake %s", f.Name, op.Ref)
			}
			v, err := in.Value(op.Ref)
			if err != nil {
				return nil, fmt.Errorf("%s: bake %s: %w", f.Name, op.Ref, err)
			}
			op = PushValue(v)
		}
		ops = append(ops, op)
	}

	folded, err := fold(ops)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return f.WithOperations(folded), nil
}

func fold(ops []Operation) ([]Operation, error) {
	var stack fragmentStack
	for _, op := range ops {
		switch op.Code {
		case OpPush:
			stack = append(stack, fragment{op})

		case OpMult:
			a, err := stack.pop()
			if err != nil {
				return nil, err
			}
			b, err := stack.pop()
			if err != nil {
				return nil, err
			}
			stack = append(stack, foldMult(b, a, op))

		case OpSplineTCB, OpSplineLinear, OpSplineConstant:
			fr, err := foldSpline(&stack, op)
			if err != nil {
				return nil, err
			}
			stack = append(stack, fr)

		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOp, op.Code)
		}
	}

	var out []Operation
	for _, fr := range stack {
		out = append(out, fr...)
	}
	return out, nil
}

func foldMult(b, a fragment, op Operation) fragment {
	av, aConst := a.scalar()
	bv, bConst := b.scalar()
	switch {
	case aConst && bConst:
		return fragment{PushScalar(av * bv)}
	case (aConst && av == 0) || (bConst && bv == 0):
		return fragment{PushScalar(0)}
	case aConst && av == 1:
		return b
	case bConst && bv == 1:
		return a
	}
	out := make(fragment, 0, len(b)+len(a)+1)
	out = append(out, b...)
	out = append(out, a...)
	return append(out, op)
}

func foldSpline(stack *fragmentStack, op Operation) (fragment, error) {
	nf, err := stack.pop()
	if err != nil {
		return nil, err
	}
	nv, ok := nf.constant()
	if !ok {
		return nil, fmt.Errorf("%w: %s keyframe count is not constant", ErrUnsupportedOperand, op.Code)
	}
	n, err := countOf(nv)
	if err != nil {
		return nil, err
	}
	keys := make([]fragment, n)
	for i := n - 1; i >= 0; i-- {
		if keys[i], err = stack.pop(); err != nil {
			return nil, err
		}
	}
	input, err := stack.pop()
	if err != nil {
		return nil, err
	}

	allConst := true
	x, inputConst := input.scalar()
	if !inputConst {
		allConst = false
	}
	vals := make([]Value, n)
	for i, k := range keys {
		v, ok := k.constant()
		if !ok {
			allConst = false
			break
		}
		vals[i] = v
	}

	if op.Code == OpSplineTCB && allConst {
		frames, err := keyframesFrom(vals)
		if err != nil {
			return nil, err
		}
		spline, err := NewSpline(frames)
		if err != nil {
			return nil, err
		}
		return fragment{PushScalar(spline.Evaluate(x))}, nil
	}

	out := slices.Clone(input)
	for _, k := range keys {
		out = append(out, k...)
	}
	out = append(out, nf...)
	return append(out, op), nil
}
