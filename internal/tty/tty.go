// Package tty implements the hierarchical tty namespace of spec.md §4.D:
// an unbounded-fanout tree addressed by a path of integers from the root,
// with a per-node connection list and a focus field used to find the
// "filling" client for a display refresh.
//
// Per spec.md §9 ("cyclic pointer graph ... is expressed with an arena of
// ttys and integer handles"), nodes live in a slice-backed arena and refer
// to each other by Handle rather than by pointer, so a connection can hold
// a Handle without pinning the tree's memory graph and deletion can walk
// the subtree in post-order without worrying about reference cycles.
package tty

import (
	"fmt"
	"sync"
)

// Handle is an arena index. The zero Handle is never valid; it marks the
// root's missing parent, where upward walks stop.
type Handle int32

// NoFocus is the sentinel focus value meaning "no child is selected";
// focus descent stops at a node bearing it.
const NoFocus int32 = -1

// RootHandle names the permanent root node, always present.
const RootHandle Handle = 1

// Filler is anything that can report whether it is the current
// "to-display" owner of its tty. connstate.Connection will implement this;
// the interface keeps this package free of a dependency on connstate.
type Filler interface {
	// IsFilling reports whether this client's braille buffer is currently
	// in the to-display freshness state (spec.md §3, §4.D).
	IsFilling() bool
}

type node struct {
	id       int32 // the path segment selecting this node among its siblings
	parent   Handle
	children map[int32]Handle
	focus    int32 // NoFocus, or the id of the focused child

	conns []Filler

	// refcount tracks live attachments rooted at or below this node; when
	// it drops to zero (and children is empty) the node is reclaimed,
	// except for the root, which is permanent (spec.md §3).
	refcount int
}

// Tree owns the arena and the connections mutex of spec.md §5's lock
// order ("connections" is the first lock acquired on any path that
// touches the tree).
type Tree struct {
	mu    sync.Mutex
	nodes map[Handle]*node
	next  Handle
}

// NewTree creates a tree with a permanent root.
func NewTree() *Tree {
	t := &Tree{
		nodes: make(map[Handle]*node),
		next:  RootHandle + 1,
	}
	t.nodes[RootHandle] = &node{
		id:       0,
		parent:   0,
		children: make(map[int32]Handle),
		focus:    NoFocus,
		refcount: 1, // the root never vanishes
	}
	return t
}

// Lookup walks path from the root, creating any missing nodes, and
// returns the resulting handle. Creation is transactional per spec.md
// §4.D: if an allocation fails partway through a multi-segment path, any
// newly created suffix is unwound before the error is returned.
func (t *Tree) Lookup(path []int32) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := RootHandle
	var created []Handle

	for _, seg := range path {
		n := t.nodes[cur]
		if child, ok := n.children[seg]; ok {
			cur = child
			continue
		}

		h, err := t.allocate(seg, cur)
		if err != nil {
			t.unwind(created)
			return 0, err
		}
		n.children[seg] = h
		created = append(created, h)
		cur = h
	}

	t.attachRef(cur)
	return cur, nil
}

func (t *Tree) allocate(id int32, parent Handle) (Handle, error) {
	h := t.next
	t.next++
	if _, exists := t.nodes[h]; exists {
		return 0, fmt.Errorf("tty: arena handle collision at %d", h)
	}
	t.nodes[h] = &node{
		id:       id,
		parent:   parent,
		children: make(map[int32]Handle),
		focus:    NoFocus,
	}
	return h, nil
}

// unwind removes freshly allocated nodes created during a failed Lookup,
// most recently created first, detaching each from its parent.
func (t *Tree) unwind(created []Handle) {
	for i := len(created) - 1; i >= 0; i-- {
		h := created[i]
		n, ok := t.nodes[h]
		if !ok {
			continue
		}
		if p, ok := t.nodes[n.parent]; ok {
			delete(p.children, n.id)
		}
		delete(t.nodes, h)
	}
}

// attachRef increments the reference count along the path from the root
// to h, inclusive, reflecting one more connection rooted below it.
func (t *Tree) attachRef(h Handle) {
	for cur := h; cur != 0; {
		n := t.nodes[cur]
		n.refcount++
		if cur == RootHandle {
			break
		}
		cur = n.parent
	}
}

// Release decrements the reference count along the path from h to the
// root and reclaims any interior node whose subtree and connection list
// have both become empty (spec.md §3: "interior nodes ... vanish when
// their subtree and connection list become empty").
func (t *Tree) Release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.release(h)
}

func (t *Tree) release(h Handle) {
	for cur := h; cur != 0; {
		n, ok := t.nodes[cur]
		if !ok {
			return
		}
		n.refcount--
		parent := n.parent
		if cur != RootHandle && n.refcount <= 0 && len(n.children) == 0 && len(n.conns) == 0 {
			if p, ok := t.nodes[parent]; ok {
				delete(p.children, n.id)
			}
			delete(t.nodes, cur)
		}
		if cur == RootHandle {
			break
		}
		cur = parent
	}
}

// AddConnection appends f to h's connection list (spec.md §3: "each node
// holds an ordered list of Connections").
func (t *Tree) AddConnection(h Handle, f Filler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[h]
	if !ok {
		return fmt.Errorf("tty: unknown handle %d", h)
	}
	n.conns = append(n.conns, f)
	return nil
}

// RemoveConnection removes f from h's connection list and releases the
// reference taken by the matching Lookup call.
func (t *Tree) RemoveConnection(h Handle, f Filler) {
	t.mu.Lock()
	n, ok := t.nodes[h]
	if ok {
		for i, c := range n.conns {
			if c == f {
				n.conns = append(n.conns[:i], n.conns[i+1:]...)
				break
			}
		}
	}
	t.release(h)
	t.mu.Unlock()
}

// SetFocus sets h's focus field to child, per spec.md §4.D. child is a
// path segment (the id of an existing or not-yet-existing child); NoFocus
// clears focus.
func (t *Tree) SetFocus(h Handle, child int32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[h]
	if !ok {
		return fmt.Errorf("tty: unknown handle %d", h)
	}
	n.focus = child
	return nil
}

// Focus returns h's current focus value.
func (t *Tree) Focus(h Handle) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[h]
	if !ok {
		return 0, fmt.Errorf("tty: unknown handle %d", h)
	}
	return n.focus, nil
}

// FocusDescent implements spec.md §4.D's focus descent rule: starting at
// the root, descend to the child whose number equals the parent's focus
// field, repeating until a leaf or a node with the sentinel focus is
// reached; the first connection along the path whose buffer is in
// to-display state is the filling client. It returns that client, or nil
// if none is found.
func (t *Tree) FocusDescent() Filler {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, n := range t.focusPathNodes() {
		for _, f := range n.conns {
			if f.IsFilling() {
				return f
			}
		}
	}
	return nil
}

// FocusPathConnections returns every connection attached to any node on
// the current focus-descent path, in root-to-leaf, list order — the
// traversal spec.md §4.G's key dispatcher walks to find the first
// connection (in path order) whose filter admits an incoming key, as
// opposed to FocusDescent's single filling client.
func (t *Tree) FocusPathConnections() []Filler {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Filler
	for _, n := range t.focusPathNodes() {
		out = append(out, n.conns...)
	}
	return out
}

// focusPathNodes walks the same child-via-focus chain as FocusDescent but
// returns every node visited, from root to the leaf or sentinel-focus
// node, without stopping early for a filling connection. Callers must
// hold t.mu.
func (t *Tree) focusPathNodes() []*node {
	var path []*node
	cur := RootHandle
	for {
		n := t.nodes[cur]
		path = append(path, n)

		if n.focus == NoFocus {
			return path
		}
		child, ok := n.children[n.focus]
		if !ok {
			return path
		}
		cur = child
	}
}

// Path reconstructs the path from the root to h, for diagnostics and
// logging.
func (t *Tree) Path(h Handle) []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rev []int32
	for cur := h; cur != RootHandle && cur != 0; {
		n, ok := t.nodes[cur]
		if !ok {
			break
		}
		rev = append(rev, n.id)
		cur = n.parent
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}
