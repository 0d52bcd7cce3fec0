// Package formula implements the stack-machine formulas that drive modifier
// channels: parsing op codes, constant folding, and static evaluation.
package formula

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedOperand = errors.New("unsupported push operand")
	ErrUnsupportedOp      = errors.New("unsupported op")
	ErrUnbalancedStack    = errors.New("unbalanced formula stack")
	ErrNotNumeric         = errors.New("value is not numeric")
)

// Epsilon is the tolerance used when deciding that a constant is zero.
const Epsilon = 0.0001

// OpCode is a formula operation.
type OpCode int

const (
	OpPush OpCode = iota
	OpMult
	OpSplineTCB
	OpSplineLinear
	OpSplineConstant
)

var opNames = [...]string{
	OpPush:           "push",
	OpMult:           "mult",
	OpSplineTCB:      "spline_tcb",
	OpSplineLinear:   "spline_linear",
	OpSplineConstant: "spline_constant",
}

func (o OpCode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("OpCode(%d)", int(o))
}

// ParseOpCode maps an op name from an asset file to its OpCode.
func ParseOpCode(s string) (OpCode, error) {
	for i, name := range opNames {
		if name == s {
			return OpCode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedOp, s)
}

// Stage selects how a formula combines with the others on the same output.
type Stage int

const (
	StageSum Stage = iota
	StageMult
)

func (s Stage) String() string {
	if s == StageMult {
		return "mult"
	}
	return "sum"
}

// ParseStage parses a stage name. An empty name means sum.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "", "sum":
		return StageSum, nil
	case "mult":
		return StageMult, nil
	}
	return 0, fmt.Errorf("unknown formula stage %q", s)
}

// Ref identifies a formula input or output. Implementations must be
// comparable, since refs are used as map keys.
type Ref interface {
	String() string
}

// Inputs supplies the current value of a referenced input.
type Inputs interface {
	Value(ref Ref) (Value, error)
}

// Policy decides whether a referenced input stays live. Inputs that are not
// dynamic are baked into constants by Optimize.
type Policy interface {
	IsDynamic(ref Ref) bool
}

// InputsFunc adapts a function to Inputs.
type InputsFunc func(ref Ref) (Value, error)

func (f InputsFunc) Value(ref Ref) (Value, error) { return f(ref) }

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ref Ref) bool

func (f PolicyFunc) IsDynamic(ref Ref) bool { return f(ref) }

// Operation is one step of a formula. Push operations carry either a Value
// or a Ref.
type Operation struct {
	Code     OpCode
	Ref      Ref
	Val      Value
	HasValue bool
}

func PushValue(v Value) Operation { return Operation{Code: OpPush, Val: v, HasValue: true} }
func PushScalar(f float64) Operation {
	return PushValue(Scalar(f))
}
func PushRef(r Ref) Operation  { return Operation{Code: OpPush, Ref: r} }
func Op(code OpCode) Operation { return Operation{Code: code} }

// IsConst reports whether the operation pushes a literal.
func (o Operation) IsConst() bool { return o.Code == OpPush && o.HasValue }

func (o Operation) String() string {
	switch {
	case o.Code != OpPush:
		return o.Code.String()
	case o.HasValue:
		return "push " + o.Val.String()
	case o.Ref != nil:
		return "push <" + o.Ref.String() + ">"
	}
	return "push ?"
}

// Formula computes one contribution to an output.
type Formula struct {
	Name       string
	Output     Ref
	Operations []Operation
	Stage      Stage
}

// New builds a formula.
func New(name string, output Ref, ops []Operation, stage Stage) *Formula {
	return &Formula{Name: name, Output: output, Operations: ops, Stage: stage}
}

// WithOperations returns a copy of f using ops.
func (f *Formula) WithOperations(ops []Operation) *Formula {
	return &Formula{Name: f.Name, Output: f.Output, Operations: ops, Stage: f.Stage}
}

// ConstantValue returns the value of a formula that is a single literal push.
func (f *Formula) ConstantValue() (Value, bool) {
	if len(f.Operations) != 1 || !f.Operations[0].IsConst() {
		return Value{}, false
	}
	return f.Operations[0].Val, true
}

// ConstantScalar is ConstantValue restricted to scalars.
func (f *Formula) ConstantScalar() (float64, bool) {
	v, ok := f.ConstantValue()
	if !ok {
		return 0, false
	}
	return v.Float()
}

func (f *Formula) IsConstant() bool {
	_, ok := f.ConstantValue()
	return ok
}

// Inputs returns the distinct refs pushed by the formula, in order.
func (f *Formula) Inputs() []Ref {
	var out []Ref
	seen := make(map[Ref]bool)
	for _, op := range f.Operations {
		if op.Code != OpPush || op.Ref == nil || seen[op.Ref] {
			continue
		}
		seen[op.Ref] = true
		out = append(out, op.Ref)
	}
	return out
}

// SimpleMultiplyByRef recognises "push ref, push const, mult" in either
// operand order, the most common formula shape.
func (f *Formula) SimpleMultiplyByRef() (Ref, float64, bool) {
	ops := f.Operations
	if len(ops) != 3 || ops[0].Code != OpPush || ops[1].Code != OpPush || ops[2].Code != OpMult {
		return nil, 0, false
	}
	var ref Ref
	var val *float64
	for _, op := range ops[:2] {
		if op.Ref != nil {
			ref = op.Ref
		} else if c, ok := op.Val.Float(); ok && op.HasValue {
			val = &c
		}
	}
	if ref == nil || val == nil {
		return nil, 0, false
	}
	return ref, *val, true
}

func (f *Formula) String() string {
	parts := make([]string, len(f.Operations))
	for i, op := range f.Operations {
		parts[i] = op.String()
	}
	return fmt.Sprintf("%s[%s](%s)", f.Name, f.Stage, strings.Join(parts, "; "))
}
