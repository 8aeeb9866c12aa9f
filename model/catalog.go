package model

import (
	"sort"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// Catalog partitions the scalar unknowns of a system into the constants
// bound once by the caller and the scalars read per evaluation point. Both
// tables are sorted and deduplicated; trees refer to entries by position.
type Catalog struct {
	Constants []expr.ScalarRef
	Scalars   []expr.ScalarRef

	ids map[expr.ScalarRef]int
}

// NewCatalog builds the tables from every reference collected across a
// system. Duplicates are dropped.
func NewCatalog(refs []expr.ScalarRef) *Catalog {
	c := &Catalog{}
	seen := make(map[expr.ScalarRef]bool, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		if r.Constant {
			c.Constants = append(c.Constants, r)
		} else {
			c.Scalars = append(c.Scalars, r)
		}
	}
	sortRefs(c.Constants)
	sortRefs(c.Scalars)
	c.index()
	return c
}

func (c *Catalog) index() {
	c.ids = make(map[expr.ScalarRef]int, len(c.Constants)+len(c.Scalars))
	for i, r := range c.Constants {
		c.ids[r] = i
	}
	for i, r := range c.Scalars {
		c.ids[r] = i
	}
}

func sortRefs(refs []expr.ScalarRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

func sortTensors(ts []*expr.Tensor) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Seq() < ts[j].Seq() })
}

// Lookup returns the position of r in its table.
func (c *Catalog) Lookup(r expr.ScalarRef) (int, bool) {
	id, ok := c.ids[r]
	return id, ok
}

// ID returns the position of r in its table. A missing reference means the
// catalog was built from a different system and is fatal.
func (c *Catalog) ID(r expr.ScalarRef) int {
	id, ok := c.ids[r]
	core.Assertf(ok, "scalar %s missing from catalog", r.Key())
	return id
}

// ConstantKeys returns the binding names of the constants table.
func (c *Catalog) ConstantKeys() []string { return keys(c.Constants) }

// ScalarKeys returns the binding names of the scalars table.
func (c *Catalog) ScalarKeys() []string { return keys(c.Scalars) }

func keys(refs []expr.ScalarRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Key()
	}
	return out
}
