package graph

import (
	"fmt"
)

// CreateInstanceForAsset instances the asset n under parent, as if the
// parent's file had declared it. The instance gets a fresh unique id.
func (n *Node) CreateInstanceForAsset(parent *Node) (*Node, error) {
	if n.IsInstanced() {
		return nil, fmt.Errorf("instance %s: node is already an instance", n)
	}
	if parent.file == nil {
		return nil, fmt.Errorf("instance %s under %s: parent has no file", n, parent)
	}
	id := n.env.UniqueID(n.nodeID)
	raw := map[string]any{
		"id":  id,
		"url": n.url,
	}
	return parent.file.addNodeWithAsset(raw, n.source, parent.root, parent.id, n.id)
}

// RecursivelyInstanceAssets makes every child an instance inherits from its
// asset explicit. Files only instance asset children they change, but
// modifiers need a node of their own on each figure they apply to.
func RecursivelyInstanceAssets(n *Node) error {
	if asset := n.Asset(); asset != nil {
		have := make(map[NodeID]bool, len(n.children))
		for _, c := range n.Children() {
			have[c.asset] = true
		}
		for _, ac := range asset.Children() {
			if have[ac.id] {
				continue
			}
			if _, err := ac.CreateInstanceForAsset(n); err != nil {
				return err
			}
		}
	}
	for _, c := range n.Children() {
		if err := RecursivelyInstanceAssets(c); err != nil {
			return err
		}
	}
	return nil
}

// CreateFIDModifiers gives every figure its implicit FID_<name> modifier,
// a clamped channel fixed at 1 that formulas and auto-follow read. Each
// gets a generated file holding the asset and its instance.
func CreateFIDModifiers(env *Environment) error {
	var figures []*Node
	for n := range env.Scene().DepthFirst() {
		if n.IsTopNode() && n.typ == TypeFigure && n.Asset() != nil {
			figures = append(figures, n)
		}
	}

	for _, fig := range figures {
		asset := fig.Asset()
		name := "FID_" + asset.Name()
		env.logger.Debug("creating figure id modifier", "name", name, "node", fig.String())

		f := env.CreateGeneratedFile()
		assetNode, err := f.addNode(map[string]any{
			"id":     name + "-1",
			"name":   name,
			"parent": asset.url,
			"group":  "Figure ID",
			"channel": map[string]any{
				"id":      "value",
				"name":    "value",
				"type":    "float",
				"value":   1.0,
				"min":     1.0,
				"max":     1.0,
				"clamped": true,
			},
		}, SourceModifier, env.library, 0)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}

		if _, err := f.addNode(map[string]any{
			"id":     name,
			"name":   name,
			"url":    assetNode.url,
			"parent": fig.url,
		}, SourceModifier, env.scene, 0); err != nil {
			return fmt.Errorf("instance %s: %w", name, err)
		}
	}
	return nil
}
