package core

import (
	"sort"
	"strconv"
	"strings"
)

// Coord is a fixed-capacity tuple of small non-negative integers. It names a
// tensor component (one entry per order) or a multiset of derivative
// directions. Coord is comparable and can be used as a map key.
type Coord struct {
	n uint8
	v [IndexCapacity]uint8
}

// CoordOf builds a Coord from the given values.
func CoordOf(values ...int) Coord {
	Assertf(len(values) <= IndexCapacity, "coord of %d values exceeds capacity %d", len(values), IndexCapacity)
	var c Coord
	for i, x := range values {
		Assertf(x >= 0 && x < 256, "coord value %d out of range", x)
		c.v[i] = uint8(x)
	}
	c.n = uint8(len(values))
	return c
}

// Len returns the number of entries.
func (c Coord) Len() int { return int(c.n) }

// At returns entry i.
func (c Coord) At(i int) int {
	Assertf(i >= 0 && i < int(c.n), "coord position %d out of range", i)
	return int(c.v[i])
}

// Values returns the entries as ints.
func (c Coord) Values() []int {
	out := make([]int, c.n)
	for i := range out {
		out[i] = int(c.v[i])
	}
	return out
}

// Append returns c with x appended.
func (c Coord) Append(x int) Coord {
	Assertf(int(c.n) < IndexCapacity, "coord exceeds capacity %d", IndexCapacity)
	Assertf(x >= 0 && x < 256, "coord value %d out of range", x)
	c.v[c.n] = uint8(x)
	c.n++
	return c
}

// Sorted returns the entries in ascending order, the canonical form of a multiset.
func (c Coord) Sorted() Coord {
	out := c
	sort.Slice(out.v[:out.n], func(i, j int) bool { return out.v[i] < out.v[j] })
	return out
}

// Less orders coords by length, then lexicographically.
func (c Coord) Less(o Coord) bool {
	if c.n != o.n {
		return c.n < o.n
	}
	for i := 0; i < int(c.n); i++ {
		if c.v[i] != o.v[i] {
			return c.v[i] < o.v[i]
		}
	}
	return false
}

// Max returns the largest entry, or -1 for an empty coord.
func (c Coord) Max() int {
	m := -1
	for i := 0; i < int(c.n); i++ {
		if int(c.v[i]) > m {
			m = int(c.v[i])
		}
	}
	return m
}

func (c Coord) String() string {
	parts := make([]string, c.n)
	for i := range parts {
		parts[i] = strconv.Itoa(int(c.v[i]))
	}
	return strings.Join(parts, ",")
}

// Pow returns n**k for small non-negative exponents.
func Pow(n, k int) int {
	r := 1
	for ; k > 0; k-- {
		r *= n
	}
	return r
}

// Odometer enumerates every assignment of k digits in [0, n) in row-major
// (mixed-radix, last digit fastest) order with carry increment.
type Odometer struct {
	digits []int
	n      int
	done   bool
}

// NewOdometer starts at the all-zero assignment. With k == 0 it yields one
// empty assignment.
func NewOdometer(k, n int) *Odometer {
	Assertf(n > 0, "odometer radix must be positive, got %d", n)
	return &Odometer{digits: make([]int, k), n: n}
}

// Done reports whether every assignment has been visited.
func (o *Odometer) Done() bool { return o.done }

// Digits returns the current assignment. The slice is reused between steps.
func (o *Odometer) Digits() []int { return o.digits }

// Next advances to the following assignment.
func (o *Odometer) Next() {
	for i := len(o.digits) - 1; i >= 0; i-- {
		o.digits[i]++
		if o.digits[i] < o.n {
			return
		}
		o.digits[i] = 0
	}
	o.done = true
}

// PermutationSign returns +1 for an even permutation of 0..n-1, -1 for an
// odd one and 0 when any value repeats.
func PermutationSign(digits []int) int {
	seen := make([]bool, len(digits))
	for _, d := range digits {
		if d < 0 || d >= len(digits) || seen[d] {
			return 0
		}
		seen[d] = true
	}
	sign := 1
	p := append([]int(nil), digits...)
	for i := range p {
		for p[i] != i {
			j := p[i]
			p[i], p[j] = p[j], p[i]
			sign = -sign
		}
	}
	return sign
}
