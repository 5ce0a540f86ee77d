// Package mdmap implements MdMap: a persistent trie keyed by multi-dimensional
// VertexIndex vectors (spec.md §9's "MdMap is a persistent trie keyed by
// index vectors"). It backs each vertex's per-slice VertexState storage.
//
// The trie is genuinely persistent (Add/Remove return a new Map, leaving the
// receiver untouched) via path copying: each mutating operation copies only
// the chain of nodes from the root to the affected leaf, sharing every
// untouched subtree by pointer with the original. No third-party persistent
// map library appears anywhere in the example corpus, so this is built on
// plain Go maps and structural sharing rather than importing one — the
// justification the transformation process requires for a stdlib-only part.
package mdmap

import (
	"sort"

	"github.com/vk/dataflow/internal/index"
)

// Shape describes the known extent of an MdMap's axes. A length of -1 means
// that axis's extent is not yet known (§3: "shape ... may be unknown until
// upstream slices complete").
type Shape struct {
	Lengths []int
}

// Rank returns the number of axes described by the shape.
func (s Shape) Rank() int { return len(s.Lengths) }

// KnownAt reports whether axis a's length is known, and returns it if so.
func (s Shape) KnownAt(a int) (int, bool) {
	if a < 0 || a >= len(s.Lengths) {
		return 0, false
	}
	if s.Lengths[a] < 0 {
		return 0, false
	}
	return s.Lengths[a], true
}

// WithAxis returns a new Shape with axis a's length set to n.
func (s Shape) WithAxis(a, n int) Shape {
	out := Shape{Lengths: append([]int(nil), s.Lengths...)}
	for len(out.Lengths) <= a {
		out.Lengths = append(out.Lengths, -1)
	}
	out.Lengths[a] = n
	return out
}

// node is one trie level. A nil node represents an empty subtree.
type node[V any] struct {
	hasValue bool
	value    V
	children map[int]*node[V]
}

func (n *node[V]) clone() *node[V] {
	if n == nil {
		return &node[V]{children: make(map[int]*node[V])}
	}
	children := make(map[int]*node[V], len(n.children))
	for k, c := range n.children {
		children[k] = c
	}
	return &node[V]{hasValue: n.hasValue, value: n.value, children: children}
}

// Map is a persistent mapping from index.Index to V. The zero value is a
// valid, empty, rank-agnostic map.
type Map[V any] struct {
	root  *node[V]
	shape Shape
	size  int
}

// Empty returns an empty map whose shape starts with all axes unknown.
func Empty[V any](rank int) Map[V] {
	lengths := make([]int, rank)
	for i := range lengths {
		lengths[i] = -1
	}
	return Map[V]{shape: Shape{Lengths: lengths}}
}

// Shape returns the map's current shape.
func (m Map[V]) Shape() Shape { return m.shape }

// WithShapeAxis returns a copy of m with axis a's known length set to n.
func (m Map[V]) WithShapeAxis(a, n int) Map[V] {
	m.shape = m.shape.WithAxis(a, n)
	return m
}

// Len returns the number of entries stored.
func (m Map[V]) Len() int { return m.size }

// Find looks up the value at ix.
func (m Map[V]) Find(ix index.Index) (V, bool) {
	n := m.root
	for _, c := range ix {
		if n == nil {
			var zero V
			return zero, false
		}
		n = n.children[c]
	}
	if n == nil || !n.hasValue {
		var zero V
		return zero, false
	}
	return n.value, true
}

// Add returns a new Map with ix bound to v, sharing every untouched subtree
// with m.
func (m Map[V]) Add(ix index.Index, v V) Map[V] {
	newRoot, grew := addPath(m.root, ix, v)
	size := m.size
	if grew {
		size++
	}
	return Map[V]{root: newRoot, shape: m.shape, size: size}
}

func addPath[V any](n *node[V], ix index.Index, v V) (*node[V], bool) {
	cur := n.clone()
	if len(ix) == 0 {
		grew := !cur.hasValue
		cur.hasValue = true
		cur.value = v
		return cur, grew
	}
	head, rest := ix[0], ix[1:]
	child, grew := addPath(cur.children[head], rest, v)
	cur.children[head] = child
	return cur, grew
}

// Remove returns a new Map with ix unbound, sharing every untouched subtree
// with m. Removing an absent index is a no-op (returns an equivalent map).
func (m Map[V]) Remove(ix index.Index) Map[V] {
	newRoot, shrank := removePath(m.root, ix)
	size := m.size
	if shrank {
		size--
	}
	return Map[V]{root: newRoot, shape: m.shape, size: size}
}

func removePath[V any](n *node[V], ix index.Index) (*node[V], bool) {
	if n == nil {
		return nil, false
	}
	cur := n.clone()
	if len(ix) == 0 {
		shrank := cur.hasValue
		cur.hasValue = false
		var zero V
		cur.value = zero
		return cur, shrank
	}
	head, rest := ix[0], ix[1:]
	existing, ok := cur.children[head]
	if !ok {
		return cur, false
	}
	child, shrank := removePath(existing, rest)
	if child == nil || (!child.hasValue && len(child.children) == 0) {
		delete(cur.children, head)
	} else {
		cur.children[head] = child
	}
	return cur, shrank
}

// Entry is one (index, value) pair, as returned by ToSlice/StartingWith.
type Entry[V any] struct {
	Index index.Index
	Value V
}

// ToSlice returns every entry in the map, sorted by index.Less (spec.md's
// "toSeq").
func (m Map[V]) ToSlice() []Entry[V] {
	var out []Entry[V]
	collect(m.root, nil, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Index.Less(out[j].Index) })
	return out
}

func collect[V any](n *node[V], prefix index.Index, out *[]Entry[V]) {
	if n == nil {
		return
	}
	if n.hasValue {
		ix := make(index.Index, len(prefix))
		copy(ix, prefix)
		*out = append(*out, Entry[V]{Index: ix, Value: n.value})
	}
	for c, child := range n.children {
		next := make(index.Index, len(prefix)+1)
		copy(next, prefix)
		next[len(prefix)] = c
		collect(child, next, out)
	}
}

// StartingWith returns every entry whose index has the given prefix, sorted
// by index.Less.
func (m Map[V]) StartingWith(prefix index.Index) []Entry[V] {
	n := m.root
	for _, c := range prefix {
		if n == nil {
			return nil
		}
		n = n.children[c]
	}
	var out []Entry[V]
	collect(n, prefix, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Index.Less(out[j].Index) })
	return out
}

// Map applies f to every entry, returning a new Map with the same shape and
// keys but transformed values.
func (m Map[V]) Map(f func(index.Index, V) V) Map[V] {
	out := Map[V]{shape: m.shape}
	for _, e := range m.ToSlice() {
		out = out.Add(e.Index, f(e.Index, e.Value))
	}
	return out
}

// Equal reports structural equality: same entries (by eq), same shape.
func (m Map[V]) Equal(other Map[V], eq func(a, b V) bool) bool {
	if m.size != other.size {
		return false
	}
	if len(m.shape.Lengths) != len(other.shape.Lengths) {
		return false
	}
	for i := range m.shape.Lengths {
		if m.shape.Lengths[i] != other.shape.Lengths[i] {
			return false
		}
	}
	a, b := m.ToSlice(), other.ToSlice()
	for i := range a {
		if !a[i].Index.Equal(b[i].Index) || !eq(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}
