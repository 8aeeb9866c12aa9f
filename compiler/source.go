package compiler

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

// ModelSource is the YAML description of an equation system:
//
//	name: heat
//	dimension: 2
//	tensors:
//	  - {name: u, order: 0}
//	  - {name: kappa, order: 0}
//	equations:
//	  - {lhs: u, rhs: "kappa * D(u, i, i)"}
//	constants:
//	  kappa: 0.1
//
// Constants are keyed by binding name, e.g. "kappa" or "c[0,1]".
type ModelSource struct {
	Name      string             `yaml:"name"`
	Dimension int                `yaml:"dimension"`
	Tensors   []TensorSource     `yaml:"tensors"`
	Equations []EquationSource   `yaml:"equations"`
	Constants map[string]float64 `yaml:"constants"`
}

// TensorSource declares one tensor symbol.
type TensorSource struct {
	Name  string `yaml:"name"`
	Order int    `yaml:"order"`
}

// EquationSource assigns an expression to a declared tensor. Index fixes the
// lhs label order and may be omitted for scalars or when the rhs order is
// wanted.
type EquationSource struct {
	LHS   string `yaml:"lhs"`
	Index string `yaml:"index"`
	RHS   string `yaml:"rhs"`
}

// Model is a parsed model source.
type Model struct {
	System    *model.System
	Tensors   map[string]*expr.Tensor
	Constants map[string]float64
}

// Bindings returns the model constants in name order.
func (m *Model) Bindings() []model.Binding {
	names := make([]string, 0, len(m.Constants))
	for name := range m.Constants {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.Binding, len(names))
	for i, name := range names {
		out[i] = model.Binding{Name: name, Value: m.Constants[name]}
	}
	return out
}

// DecodeModelSource unmarshals YAML without building the system.
func DecodeModelSource(data []byte) (*ModelSource, error) {
	var src ModelSource
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	return &src, nil
}

// ParseModel decodes and builds a model.
func ParseModel(data []byte) (*Model, error) {
	src, err := DecodeModelSource(data)
	if err != nil {
		return nil, err
	}
	return src.Build()
}

// LoadModel reads and builds the model at path.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return m, nil
}

// Build declares the tensors, parses every equation and validates the
// resulting system.
func (src *ModelSource) Build() (*Model, error) {
	m := &Model{Tensors: make(map[string]*expr.Tensor, len(src.Tensors)), Constants: src.Constants}
	for _, ts := range src.Tensors {
		if _, dup := m.Tensors[ts.Name]; dup {
			return nil, errors.Wrapf(model.ErrInvalidSystem, "tensor %s declared twice", ts.Name)
		}
		if !validName(ts.Name) || ts.Order < 0 || ts.Order > model.MaxOrder {
			return nil, errors.Wrapf(model.ErrInvalidSystem, "tensor %q of order %d", ts.Name, ts.Order)
		}
		if _, reserved := expr.FuncByName(ts.Name); reserved || reservedNames[ts.Name] {
			return nil, errors.Wrapf(model.ErrInvalidSystem, "tensor name %q is reserved", ts.Name)
		}
		m.Tensors[ts.Name] = expr.NewTensor(ts.Name, ts.Order)
	}

	sys := &model.System{Name: src.Name, Dim: src.Dimension}
	for i, es := range src.Equations {
		lhs, ok := m.Tensors[es.LHS]
		if !ok {
			return nil, errors.Wrapf(model.ErrInvalidSystem, "equation %d: unknown lhs tensor %q", i, es.LHS)
		}
		rhs, err := ParseExpr(es.RHS, m.Tensors)
		if err != nil {
			return nil, errors.Wrapf(err, "equation %d (%s)", i, es.LHS)
		}
		if len(es.Index) > model.MaxOrder {
			return nil, errors.Wrapf(model.ErrInvalidSystem, "equation %d: index %q too long", i, es.Index)
		}
		if err := sys.Add(model.Eq(lhs, es.Index, rhs)); err != nil {
			return nil, errors.Wrapf(err, "equation %d", i)
		}
	}
	if err := sys.Validate(); err != nil {
		return nil, err
	}
	m.System = sys
	return m, nil
}

var reservedNames = map[string]bool{"D": true, "bind": true, "symmetrize": true, "delta": true, "epsilon": true}

func validName(name string) bool {
	if name == "" || !isLetter(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isLetter(name[i]) && !isDigit(name[i]) {
			return false
		}
	}
	return true
}
