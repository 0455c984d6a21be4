package hstat

import (
	"testing"
)

func newTestSubsystem(numCPU int) (*Subsystem, *Node) {
	root := NewRoot("root")
	s := NewSubsystem(root, &Options{Name: "tracker-test", NumCPU: numCPU})
	return s, root
}

func TestMarkDirtySpliceStructure(t *testing.T) {
	s, root := newTestSubsystem(1)
	a := root.NewChild("a")
	b := a.NewChild("b")
	s.MustBind(a)
	s.MustBind(b)

	s.MarkDirty(b, 0)

	// the splice must have threaded b into a's list and a into root's
	rootSh := s.mustBinding(root).shard(0)
	aSh := s.mustBinding(a).shard(0)
	bSh := s.mustBinding(b).shard(0)

	if rootSh.children != a || aSh.children != b {
		t.Errorf("dirty-children heads not spliced bottom-up")
	}
	if aSh.next != nil || bSh.next != nil {
		t.Errorf("single dirty child must terminate its sibling list")
	}
	if !rootSh.onTree.Load() || !aSh.onTree.Load() || !bSh.onTree.Load() {
		t.Errorf("closure invariant violated: ancestors not on tree")
	}

	// a second dirty sibling goes to the front of the parent's list
	c := a.NewChild("c")
	s.MustBind(c)
	s.MarkDirty(c, 0)

	cSh := s.mustBinding(c).shard(0)
	if aSh.children != c || cSh.next != b {
		t.Errorf("new dirty sibling must be pushed onto the list head")
	}
}

func TestMarkDirtyIdempotent(t *testing.T) {
	s, root := newTestSubsystem(1)
	a := root.NewChild("a")
	s.MustBind(a)

	// repeated marks must not splice the node twice
	for i := 0; i < 10; i++ {
		s.MarkDirty(a, 0)
	}

	list := buildLocked(s, root, 0)
	if len(list) != 2 {
		t.Fatalf("expected [a root], got %d nodes", len(list))
	}
}

func TestMarkDirtyRootOnly(t *testing.T) {
	s, root := newTestSubsystem(2)

	s.MarkDirty(root, 1)

	if !s.IsDirty(root, 1) {
		t.Errorf("root not dirty after MarkDirty")
	}
	if s.IsDirty(root, 0) {
		t.Errorf("wrong shard marked")
	}

	list := buildLocked(s, root, 1)
	if len(list) != 1 || list[0] != root {
		t.Fatalf("expected [root], got %d nodes", len(list))
	}
}

func TestMarkDirtyUnboundPanics(t *testing.T) {
	s, root := newTestSubsystem(1)
	orphan := root.NewChild("orphan") // never bound

	defer func() {
		if recover() == nil {
			t.Errorf("MarkDirty on an unbound node must panic")
		}
	}()
	s.MarkDirty(orphan, 0)
}

func TestMarkDirtyCPUOutOfRangePanics(t *testing.T) {
	s, root := newTestSubsystem(2)

	defer func() {
		if recover() == nil {
			t.Errorf("MarkDirty with an out-of-range cpu must panic")
		}
	}()
	s.MarkDirty(root, 2)
}

func TestBindRequiresBoundParent(t *testing.T) {
	s, root := newTestSubsystem(1)
	a := root.NewChild("a")
	b := a.NewChild("b")

	if err := s.Bind(b); err == nil {
		t.Errorf("Bind must fail while the parent is unbound")
	}
	if err := s.Bind(a); err != nil {
		t.Errorf("Bind(a) failed: %v", err)
	}
	if err := s.Bind(b); err != nil {
		t.Errorf("Bind(b) failed: %v", err)
	}
	if err := s.Bind(b); err == nil {
		t.Errorf("double Bind must fail")
	}
	if err := s.Bind(root); err == nil {
		t.Errorf("binding the root explicitly must fail (bound eagerly)")
	}
}

func TestUnbindWithBoundChildPanics(t *testing.T) {
	s, root := newTestSubsystem(1)
	a := root.NewChild("a")
	b := a.NewChild("b")
	s.MustBind(a)
	s.MustBind(b)

	defer func() {
		if recover() == nil {
			t.Errorf("Unbind of a node with bound children must panic")
		}
	}()
	s.Unbind(a)
}
