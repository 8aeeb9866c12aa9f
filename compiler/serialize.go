package compiler

import (
	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

// Serializer flattens expression trees into model.Trees, resolving scalar
// references against a catalog built for the same system.
type Serializer struct {
	Catalog    *model.Catalog
	Scalarizer *Scalarizer
}

// Serialize flattens n in postorder. Every node gets a storage window of
// Dim**rank slots at a rising watermark, so children always sit below their
// parent. Partial markers must already be expanded.
func (s *Serializer) Serialize(n *expr.Node) *model.Tree {
	t := &model.Tree{Dim: s.Scalarizer.Dim}
	var watermark int32
	s.emit(t, n, &watermark)
	t.StackDepth = watermark
	if err := t.Validate(); err != nil {
		core.Fatalf("serialized tree breaks layout: %v", err)
	}
	return t
}

// emit appends n's subtree and returns the slot of n.
func (s *Serializer) emit(t *model.Tree, n *expr.Node, watermark *int32) int {
	left := model.NoChild
	switch {
	case n.Tag().Binary():
		left = s.emit(t, n.Left(), watermark)
		s.emit(t, n.Right(), watermark)
	case n.Tag().Unary():
		s.emit(t, n.Child(), watermark)
	}

	tag := n.Tag()
	var ids []int32
	var binding core.Index
	value := 0.0
	switch tag {
	case expr.TagPartial:
		core.Fatalf("serialize unexpanded derivative %s", n)
	case expr.TagRatio:
		core.Assertf(n.Right().Rank() == 0, "ratio denominator %s has rank %d", n.Right(), n.Right().Rank())
	case expr.TagBind, expr.TagDelta:
		binding = n.Index()
	case expr.TagEpsilon:
		binding = n.Index()
		core.Assertf(binding.Len() == s.Scalarizer.Dim, "epsilon(%s) needs %d labels", binding, s.Scalarizer.Dim)
	case expr.TagLiteral:
		value = n.Literal().Float64()
	case expr.TagTensor:
		binding = n.Index()
		tag = expr.TagScalar
		for _, ref := range s.Scalarizer.LeafRefs(n) {
			ids = append(ids, int32(s.Catalog.ID(ref)))
		}
		if s.Scalarizer.IsConstant(n.Tensor()) {
			tag = expr.TagConstant
		}
	case expr.TagScalar:
		ref := n.Scalar()
		ids = append(ids, int32(s.Catalog.ID(ref)))
		if ref.Constant {
			tag = expr.TagConstant
		}
	}

	slot := t.Len()
	t.Tags = append(t.Tags, tag)
	t.Left = append(t.Left, int32(left))
	t.Outer.Push(n.Outer().Labels()...)
	t.Inner.Push(n.Inner().Labels()...)
	t.Binding.Push(binding.Labels()...)
	t.IDs.Push(ids...)
	t.Values = append(t.Values, value)
	t.Funcs = append(t.Funcs, n.Func())
	t.Offsets = append(t.Offsets, *watermark)
	*watermark += int32(core.Pow(s.Scalarizer.Dim, n.Rank()))
	return slot
}
