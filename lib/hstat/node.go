package hstat

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"strings"
)

// --------------------------------------------------------------------------
// Node (vertex in the accounting tree)
// --------------------------------------------------------------------------

// Node is a vertex in a singly-rooted, multi-child accounting tree.
//
// A Node by itself carries no statistics. Statistics state exists only for
// (Node, Subsystem) bindings, created with Subsystem.Bind. One Node can be
// bound to any number of independent subsystems.
//
// The tree topology is expected to be static while updates and flushes are
// in flight: nodes are added before they are bound and removed after they
// are unbound from every subsystem.
type Node struct {
	name     string
	parent   *Node
	children *xsync.MapOf[string, *Node]
}

// NewRoot creates the root of a new accounting tree.
func NewRoot(name string) *Node {
	return &Node{
		name:     name,
		children: xsync.NewMapOf[string, *Node](),
	}
}

// NewChild creates a child of n and registers it under its name.
// It panics if n already has a child with the same name.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (n *Node) NewChild(name string) *Node {
	child := &Node{
		name:     name,
		parent:   n,
		children: xsync.NewMapOf[string, *Node](),
	}
	if _, loaded := n.children.LoadOrStore(name, child); loaded {
		panic(fmt.Sprintf("hstat: node %q already has a child %q", n.Path(), name))
	}
	return child
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent of the node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot reports whether the node is the root of its tree.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Child returns the child with the given name.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (n *Node) Child(name string) (*Node, bool) {
	return n.children.Load(name)
}

// RangeChildren calls fn for each child of n until fn returns false.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (n *Node) RangeChildren(fn func(child *Node) bool) {
	n.children.Range(func(_ string, child *Node) bool {
		return fn(child)
	})
}

// Delete removes n from its parent's child registry. The caller must have
// unbound n (and its descendants) from every subsystem first.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (n *Node) Delete() {
	if n.parent == nil {
		panic("hstat: cannot delete the root node")
	}
	n.parent.children.Delete(n.name)
}

// Path returns the slash-separated path from the root to n.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/" + n.name
	}

	var parts []string
	for cur := n; cur != nil; cur = cur.parent {
		parts = append(parts, cur.name)
	}

	// parts were collected leaf-first
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}
