// Package index implements VertexIndex: the finite sequence of non-negative
// integers that identifies one slice of a (possibly vectorised) vertex.
package index

import (
	"strconv"
	"strings"
)

// Index is an ordered tuple of non-negative integers. Its length is the rank
// of the slice it addresses. The zero value is the rank-0 (scalar) index.
type Index []int

// New returns an Index built from the given components.
func New(components ...int) Index {
	if len(components) == 0 {
		return Index{}
	}
	ix := make(Index, len(components))
	copy(ix, components)
	return ix
}

// Rank returns the number of components, i.e. the dimensionality of the slice.
func (ix Index) Rank() int { return len(ix) }

// Prefix returns the first r components. Panics if r exceeds the index's rank,
// since that indicates a caller bug in rank bookkeeping rather than bad input.
func (ix Index) Prefix(r int) Index {
	if r > len(ix) {
		panic("index: prefix longer than index")
	}
	out := make(Index, r)
	copy(out, ix[:r])
	return out
}

// Last returns the final component and true, or (0, false) for a rank-0 index.
func (ix Index) Last() (int, bool) {
	if len(ix) == 0 {
		return 0, false
	}
	return ix[len(ix)-1], true
}

// Append returns a new Index with i appended as the last component.
func (ix Index) Append(i int) Index {
	out := make(Index, len(ix)+1)
	copy(out, ix)
	out[len(ix)] = i
	return out
}

// Equal reports whether two indices have identical components.
func (ix Index) Equal(other Index) bool {
	if len(ix) != len(other) {
		return false
	}
	for i := range ix {
		if ix[i] != other[i] {
			return false
		}
	}
	return true
}

// Less defines a total order over indices: shorter ranks sort first, then
// lexicographic comparison of components. This gives Index a stable,
// deterministic order usable for sorted iteration (MdMap.ToSlice) and for
// Reduce/Collect's "ascending last component" / "ascending idx" requirements.
func (ix Index) Less(other Index) bool {
	if len(ix) != len(other) {
		return len(ix) < len(other)
	}
	for i := range ix {
		if ix[i] != other[i] {
			return ix[i] < other[i]
		}
	}
	return false
}

// HasPrefix reports whether ix begins with all of prefix's components.
func (ix Index) HasPrefix(prefix Index) bool {
	if len(prefix) > len(ix) {
		return false
	}
	for i := range prefix {
		if ix[i] != prefix[i] {
			return false
		}
	}
	return true
}

// String renders the index as "[a,b,c]", matching how the teacher repo
// embeds instance indices into node IDs (e.g. "step[0]").
func (ix Index) String() string {
	parts := make([]string, len(ix))
	for i, c := range ix {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Key returns a value suitable for use as a Go map key, since a slice cannot
// be used directly.
func (ix Index) Key() string { return ix.String() }
