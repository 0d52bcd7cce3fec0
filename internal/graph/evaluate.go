package graph

import (
	"errors"
	"fmt"

	"github.com/agentic-research/dsongraph/internal/formula"
)

// EvalOptions controls static evaluation of a property.
type EvalOptions struct {
	// WithoutModifiers returns the property's own value, ignoring formulas.
	WithoutModifiers bool

	// UseDefaultValues evaluates as if no channel had been changed from
	// its asset default. It requires modifiers.
	UseDefaultValues bool

	// SkipConstantValue drops this property's own value from the sum,
	// keeping only formula contributions. Inputs still use theirs.
	SkipConstantValue bool
}

// Evaluate computes the property's value: its own value plus sum-stage
// formulas, times mult-stage formulas, clamped to its limits.
func (p *Property) Evaluate(opts EvalOptions) (float64, error) {
	ev := &evaluator{env: p.node.env, opts: opts, active: make(map[PropertyRef]bool)}
	return ev.evaluate(p, opts.SkipConstantValue)
}

// Vec3 evaluates the x, y and z children of the property.
func (p *Property) Vec3(opts EvalOptions) ([3]float64, error) {
	var out [3]float64
	for i, axis := range []string{"x", "y", "z"} {
		c, err := p.Property(axis)
		if err != nil {
			return out, err
		}
		if out[i], err = c.Evaluate(opts); err != nil {
			return out, err
		}
	}
	return out, nil
}

// PropertyForRef looks up the property a formula ref points at.
func (e *Environment) PropertyForRef(r PropertyRef) (*Property, error) {
	n := e.Node(r.Node)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, r)
	}
	return n.Property(r.Path)
}

// evaluator feeds formula inputs by evaluating the referenced properties.
// active holds the properties being evaluated, to catch formula cycles.
type evaluator struct {
	env    *Environment
	opts   EvalOptions
	active map[PropertyRef]bool
}

func (ev *evaluator) Value(ref formula.Ref) (formula.Value, error) {
	pr, ok := ref.(PropertyRef)
	if !ok {
		return formula.Value{}, fmt.Errorf("%w: %s", formula.ErrUnsupportedOperand, ref)
	}
	p, err := ev.env.PropertyForRef(pr)
	if err != nil {
		return formula.Value{}, err
	}
	v, err := ev.evaluate(p, false)
	if err != nil {
		return formula.Value{}, err
	}
	return formula.Scalar(v), nil
}

func (ev *evaluator) evaluate(p *Property, skipConstant bool) (float64, error) {
	static, err := ev.staticValue(p, skipConstant)
	if err != nil {
		return 0, err
	}
	if ev.opts.WithoutModifiers {
		if ev.opts.UseDefaultValues {
			return 0, errors.New("default values need modifiers")
		}
		return static, nil
	}

	ref := p.Ref()
	if ev.active[ref] {
		return 0, fmt.Errorf("%w at %s", ErrEvaluationCycle, p.URL())
	}
	ev.active[ref] = true
	defer delete(ev.active, ref)

	result, err := formula.EvaluateList(p.node.Formulas[p.path], static, ev)
	if err != nil {
		return 0, err
	}
	return p.ApplyLimits(result), nil
}

func (ev *evaluator) staticValue(p *Property, skipConstant bool) (float64, error) {
	var raw any
	switch {
	case skipConstant:
		return 0, nil
	case ev.opts.UseDefaultValues:
		v, ok := p.Default()
		if !ok {
			return 0, notFound(p.node, p.path+"/value")
		}
		raw = v
	default:
		v, err := p.ValueWithDefault()
		if err != nil {
			return 0, err
		}
		raw = v
	}
	f, err := formula.ToFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", p, err)
	}
	return f, nil
}

// refPolicy applies the environment's dynamic policy to formula refs.
type refPolicy struct{ env *Environment }

func (rp refPolicy) IsDynamic(ref formula.Ref) bool {
	pr, ok := ref.(PropertyRef)
	if !ok {
		return true
	}
	p, err := rp.env.PropertyForRef(pr)
	if err != nil {
		return true
	}
	return p.IsDynamic()
}
