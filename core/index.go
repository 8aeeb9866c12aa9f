// Package core provides the fundamental value types shared by every stage of
// the tensorc pipeline.
//
// This package implements:
//   - Index: a fixed-capacity ordered multiset of index labels with the set
//     algebra used to compute free and contracted indices
//   - Coord: a fixed-capacity tuple of small integers (tensor components and
//     derivative-direction multisets)
//   - Assertion helpers for fatal invariant violations
//   - Memory alignment utilities for lane-batched evaluation buffers
//
// All types here are plain values: they are copied, never shared, and never
// allocate on the hot path.
package core

import "strings"

// IndexCapacity is the maximum number of labels an Index can hold.
const IndexCapacity = 8

// Index is an ordered sequence of single-byte labels, e.g. "ij".
// The zero value is the empty index.
type Index struct {
	n      uint8
	labels [IndexCapacity]byte
}

// NewIndex builds an Index from a label string. Exceeding IndexCapacity is fatal.
func NewIndex(labels string) Index {
	Assertf(len(labels) <= IndexCapacity, "index %q exceeds capacity %d", labels, IndexCapacity)
	var idx Index
	for i := 0; i < len(labels); i++ {
		idx.labels[i] = labels[i]
	}
	idx.n = uint8(len(labels))
	return idx
}

// IndexOf builds an Index from individual labels.
func IndexOf(labels ...byte) Index {
	return NewIndex(string(labels))
}

// Len returns the number of labels.
func (a Index) Len() int { return int(a.n) }

// Empty reports whether the index holds no labels.
func (a Index) Empty() bool { return a.n == 0 }

// At returns the label at position i.
func (a Index) At(i int) byte {
	Assertf(i >= 0 && i < int(a.n), "index position %d out of range for %q", i, a.String())
	return a.labels[i]
}

// Labels returns a copy of the labels as a byte slice.
func (a Index) Labels() []byte {
	out := make([]byte, a.n)
	copy(out, a.labels[:a.n])
	return out
}

func (a Index) String() string { return string(a.labels[:a.n]) }

// push appends one label; overflow is fatal.
func (a *Index) push(c byte) {
	Assertf(int(a.n) < IndexCapacity, "index %q+%q exceeds capacity %d", a.String(), string(c), IndexCapacity)
	a.labels[a.n] = c
	a.n++
}

// Concat returns a followed by b.
func (a Index) Concat(b Index) Index {
	out := a
	for i := 0; i < int(b.n); i++ {
		out.push(b.labels[i])
	}
	return out
}

// Append returns a with extra labels appended.
func (a Index) Append(labels ...byte) Index {
	out := a
	for _, c := range labels {
		out.push(c)
	}
	return out
}

// Reverse returns the labels in reverse order.
func (a Index) Reverse() Index {
	var out Index
	for i := int(a.n) - 1; i >= 0; i-- {
		out.push(a.labels[i])
	}
	return out
}

// Count returns how many times label c occurs.
func (a Index) Count(c byte) int {
	k := 0
	for i := 0; i < int(a.n); i++ {
		if a.labels[i] == c {
			k++
		}
	}
	return k
}

// Contains reports whether label c occurs at least once.
func (a Index) Contains(c byte) bool { return a.Position(c) >= 0 }

// Position returns the first position of label c, or -1.
func (a Index) Position(c byte) int {
	for i := 0; i < int(a.n); i++ {
		if a.labels[i] == c {
			return i
		}
	}
	return -1
}

// Unique keeps the first occurrence of each label.
func (a Index) Unique() Index {
	var out Index
	for i := 0; i < int(a.n); i++ {
		if !out.Contains(a.labels[i]) {
			out.push(a.labels[i])
		}
	}
	return out
}

// Repeated returns, once each, the labels occurring more than once.
func (a Index) Repeated() Index {
	var out Index
	for i := 0; i < int(a.n); i++ {
		c := a.labels[i]
		if a.Count(c) > 1 && !out.Contains(c) {
			out.push(c)
		}
	}
	return out
}

// Exclusive returns the labels occurring exactly once: the free indices.
func (a Index) Exclusive() Index {
	var out Index
	for i := 0; i < int(a.n); i++ {
		if a.Count(a.labels[i]) == 1 {
			out.push(a.labels[i])
		}
	}
	return out
}

// Intersect returns the unique labels of a that also occur in b.
func (a Index) Intersect(b Index) Index {
	var out Index
	for i := 0; i < int(a.n); i++ {
		c := a.labels[i]
		if b.Contains(c) && !out.Contains(c) {
			out.push(c)
		}
	}
	return out
}

// Minus returns the labels of a that do not occur in b, in order.
func (a Index) Minus(b Index) Index {
	var out Index
	for i := 0; i < int(a.n); i++ {
		if !b.Contains(a.labels[i]) {
			out.push(a.labels[i])
		}
	}
	return out
}

// Xor is the symmetric difference: labels of a not in b, then labels of b not in a.
func (a Index) Xor(b Index) Index {
	return a.Minus(b).Concat(b.Minus(a))
}

// IsPermutationOf reports whether a and b are equal as multisets.
func (a Index) IsPermutationOf(b Index) bool {
	if a.n != b.n {
		return false
	}
	for i := 0; i < int(a.n); i++ {
		if a.Count(a.labels[i]) != b.Count(a.labels[i]) {
			return false
		}
	}
	return true
}

// Equal reports label-by-label equality.
func (a Index) Equal(b Index) bool { return a == b }

// FreshLabel returns a lowercase label not present in any of the given indices.
func FreshLabel(used ...Index) byte {
	all := make([]string, len(used))
	for i, u := range used {
		all[i] = u.String()
	}
	joined := strings.Join(all, "")
	for c := byte('z'); c >= 'a'; c-- {
		if strings.IndexByte(joined, c) < 0 {
			return c
		}
	}
	Fatalf("no free index label left in %q", joined)
	return 0
}
