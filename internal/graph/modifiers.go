package graph

import (
	"errors"
	"fmt"

	"github.com/agentic-research/dsongraph/internal/dsonurl"
	"github.com/agentic-research/dsongraph/internal/formula"
)

// LoadAllModifiers builds formulas for every scene node carrying a
// "formulas" list and attaches them to their output properties. URLs are
// resolved from the modifier's top node. Formulas that reference something
// not loaded are logged and skipped.
func LoadAllModifiers(env *Environment) error {
	for n := range env.Scene().BreadthFirst() {
		for _, child := range n.Children() {
			list, ok := child.Get("formulas")
			if !ok {
				continue
			}
			if !child.IsInstanced() {
				return fmt.Errorf("%s: %w", child, ErrNotInstanced)
			}
			target := child.FindTopNode()
			for _, fp := range list.ArrayChildren() {
				_, err := CreateFormulaFromModifier(target, fp)
				if skippable(err) {
					env.logger.Warn("ignoring formula with unknown dependency", "formula", fp.String(), "err", err)
					continue
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// skippable reports errors that drop one formula instead of failing the load.
func skippable(err error) bool {
	return errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, formula.ErrUnsupportedOp) ||
		errors.Is(err, formula.ErrUnsupportedOperand) ||
		errors.Is(err, formula.ErrNotNumeric)
}

// CreateFormulaFromModifier converts one formula entry of a modifier and
// attaches it to the output property's node.
func CreateFormulaFromModifier(target *Node, fp *Property) (*formula.Formula, error) {
	outURL, _ := fp.GetValue("output", "").(string)
	out, err := target.ResolveModifierURL(outURL, true)
	if err != nil {
		return nil, err
	}
	if out.Property == nil {
		return nil, fmt.Errorf("%s: output %q: %w", fp, outURL, ErrInvalidURL)
	}

	opsProp, err := fp.Property("operations")
	if err != nil {
		return nil, err
	}
	var ops []formula.Operation
	for _, opProp := range opsProp.ArrayChildren() {
		op, err := operationFromData(target, opProp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opProp, err)
		}
		ops = append(ops, op)
	}

	stageName, _ := fp.GetValue("stage", "").(string)
	stage, err := formula.ParseStage(stageName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fp, err)
	}
	return CreateFormula(fp.String(), out.Property, ops, stage), nil
}

func operationFromData(target *Node, opProp *Property) (formula.Operation, error) {
	m, _ := opProp.Value().(map[string]any)
	name, _ := m["op"].(string)
	code, err := formula.ParseOpCode(name)
	if err != nil {
		return formula.Operation{}, err
	}
	if code != formula.OpPush {
		return formula.Op(code), nil
	}
	if u, ok := m["url"].(string); ok {
		r, err := target.ResolveModifierURL(u, true)
		if err != nil {
			return formula.Operation{}, err
		}
		if r.Property == nil {
			return formula.Operation{}, fmt.Errorf("input %q: %w", u, ErrInvalidURL)
		}
		return formula.PushRef(r.Property.Ref()), nil
	}
	if raw, ok := m["val"]; ok {
		v, err := formula.ValueOf(raw)
		if err != nil {
			return formula.Operation{}, err
		}
		return formula.PushValue(v), nil
	}
	return formula.Operation{}, formula.ErrUnsupportedOperand
}

// CreateFormula builds a formula writing to output and registers it on the
// output's node.
func CreateFormula(name string, output *Property, ops []formula.Operation, stage formula.Stage) *formula.Formula {
	f := formula.New(name, output.Ref(), ops, stage)
	output.node.addFormula(output.path, f)
	return f
}

// AddAutoFollowFormulas makes each auto_follow modifier add the value of the
// same-named modifier on the figure its figure conforms to.
func AddAutoFollowFormulas(env *Environment) error {
	var followers []*Node
	for n := range env.Scene().DepthFirst() {
		if n.source == SourceModifier && truthy(n.Value("channel/auto_follow", nil)) {
			followers = append(followers, n)
		}
	}
	for _, n := range followers {
		target, err := n.ConformTarget()
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		following, err := target.FindAssetName(n.Name())
		if err != nil {
			env.logger.Debug("auto-follow channel has no match", "node", n.String(), "name", n.Name())
			continue
		}
		in, err := following.Property("value")
		if err != nil {
			return err
		}
		out, err := n.Property("value")
		if err != nil {
			return err
		}
		name := fmt.Sprintf("auto_follow(%s follows %s)", n, following)
		CreateFormula(name, out, []formula.Operation{formula.PushRef(in.Ref())}, formula.StageSum)
		env.logger.Debug("auto-follow", "node", n.String(), "following", following.String())
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	case string:
		return x != ""
	}
	f, err := formula.ToFloat(v)
	return err == nil && f != 0
}

// OptimizeAllModifiers bakes non-dynamic inputs into every scene formula
// and folds constants. Afterwards, evaluating with default values no longer
// reflects the defaults of baked inputs.
func OptimizeAllModifiers(env *Environment) error {
	policy := refPolicy{env: env}
	for n := range env.Scene().BreadthFirst() {
		for _, list := range n.Formulas {
			for i, f := range list {
				ev := &evaluator{env: env, active: make(map[PropertyRef]bool)}
				opt, err := f.Optimize(policy, ev)
				if err != nil {
					return err
				}
				list[i] = opt
			}
		}
	}
	return nil
}

// RecursivelyLoadModifierDependencies loads every file named by formula
// outputs, formula inputs and alias targets, repeating until a pass finds
// no new nodes.
func RecursivelyLoadModifierDependencies(env *Environment) error {
	seen := make(map[NodeID]bool)
	for {
		var fresh []*Node
		for n := range env.DepthFirst() {
			if !seen[n.id] {
				seen[n.id] = true
				fresh = append(fresh, n)
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		for _, n := range fresh {
			if err := loadModifierDependencies(n); err != nil {
				return err
			}
		}
	}
}

func loadModifierDependencies(n *Node) error {
	env := n.env
	if n.Value("channel/type", nil) == "alias" {
		if tc, ok := n.Get("channel/target_channel"); ok {
			if p := tc.ParsedURL().Path(); p != "" {
				if _, err := env.TryLoadFile(p); err != nil {
					return err
				}
			}
		}
	}

	list, ok := n.Get("formulas")
	if !ok {
		return nil
	}
	for _, fp := range list.ArrayChildren() {
		urls := []any{fp.GetValue("output", nil)}
		if ops, ok := fp.Get("operations"); ok {
			for _, op := range ops.ArrayChildren() {
				urls = append(urls, op.GetValue("url", nil))
			}
		}
		for _, raw := range urls {
			s, _ := raw.(string)
			if p := dsonurl.Parse(s).Path(); p != "" {
				if _, err := env.TryLoadFile(p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type pass struct {
	name string
	run  func(*Environment) error
}

// PrepareScene runs the loading passes a freshly loaded scene needs before
// its properties can be evaluated: dependency files, implicit instances,
// figure id modifiers, formulas and auto-follow. With optimize, formulas
// are then optimized against the environment's dynamic policy.
func PrepareScene(env *Environment, optimize bool) error {
	passes := []pass{
		{"load modifier dependencies", RecursivelyLoadModifierDependencies},
		{"instance assets", func(e *Environment) error { return RecursivelyInstanceAssets(e.Scene()) }},
		{"create figure id modifiers", CreateFIDModifiers},
		{"load modifiers", LoadAllModifiers},
		{"add auto-follow formulas", AddAutoFollowFormulas},
	}
	if optimize {
		passes = append(passes, pass{"optimize modifiers", OptimizeAllModifiers})
	}
	for _, p := range passes {
		if err := p.run(env); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	return nil
}
