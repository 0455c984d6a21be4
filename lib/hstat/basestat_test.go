package hstat

import (
	"testing"
)

func TestAccountTimeFieldClassification(t *testing.T) {
	s, root := newTestSubsystem(1)
	n := root.NewChild("n")
	s.MustBind(n)

	s.AccountTimeField(n, 0, FieldUser, 10)
	s.AccountTimeField(n, 0, FieldNice, 5)
	s.AccountTimeField(n, 0, FieldSystem, 7)
	s.AccountTimeField(n, 0, FieldIRQ, 3)
	s.AccountTimeField(n, 0, FieldSoftIRQ, 2)
	s.AccountExecTime(n, 0, 27)

	s.Flush(root)

	stat, ok := s.Stat(n)
	if !ok {
		t.Fatal("node not bound")
	}

	// nice counts as user as well, irq/softirq count as system
	if stat.UserTime != 15 {
		t.Errorf("UserTime = %d, want 15", stat.UserTime)
	}
	if stat.NiceTime != 5 {
		t.Errorf("NiceTime = %d, want 5", stat.NiceTime)
	}
	if stat.SystemTime != 12 {
		t.Errorf("SystemTime = %d, want 12", stat.SystemTime)
	}
	if stat.ExecRuntime != 27 {
		t.Errorf("ExecRuntime = %d, want 27", stat.ExecRuntime)
	}

	// the full record must have propagated to the root
	rootStat, _ := s.Stat(root)
	if rootStat != stat {
		t.Errorf("root stat %v, want %v", rootStat, stat)
	}
}

func TestCPUSubtreeStatPropagation(t *testing.T) {
	s, root := newTestSubsystem(2)
	a := root.NewChild("a")
	b := a.NewChild("b")
	s.MustBind(a)
	s.MustBind(b)

	s.AccountExecTime(b, 0, 11)
	s.AccountExecTime(b, 1, 22)
	s.AccountExecTime(a, 1, 5)

	s.Flush(root)

	// per-CPU subtree figures stay separated by shard
	for _, tc := range []struct {
		n    *Node
		cpu  int
		want uint64
	}{
		{b, 0, 11},
		{b, 1, 22},
		{a, 0, 11},
		{a, 1, 27},
		{root, 0, 11},
		{root, 1, 27},
	} {
		stat, ok := s.CPUSubtreeStat(tc.n, tc.cpu)
		if !ok {
			t.Fatalf("CPUSubtreeStat(%s) not bound", tc.n.Path())
		}
		if stat.ExecRuntime != tc.want {
			t.Errorf("CPUSubtreeStat(%s, cpu %d).ExecRuntime = %d, want %d",
				tc.n.Path(), tc.cpu, stat.ExecRuntime, tc.want)
		}
	}

	// while the node total merges all shards
	aStat, _ := s.Stat(a)
	if aStat.ExecRuntime != 38 {
		t.Errorf("Stat(a).ExecRuntime = %d, want 38", aStat.ExecRuntime)
	}
}

func TestFlushedStatRootSource(t *testing.T) {
	root := NewRoot("root")
	s := NewSubsystem(root, &Options{
		Name:   "rootsource-test",
		NumCPU: 4,
		RootSource: func(cpu int) BaseStat {
			// a fake system-wide per-CPU counter source
			return BaseStat{UserTime: uint64(cpu), SystemTime: 100}
		},
	})

	// the root's figures bypass delta tracking entirely
	stat := s.FlushedStat(root)
	if stat.UserTime != 0+1+2+3 {
		t.Errorf("UserTime = %d, want 6", stat.UserTime)
	}
	if stat.SystemTime != 400 {
		t.Errorf("SystemTime = %d, want 400", stat.SystemTime)
	}
}

func TestFlushedStatChild(t *testing.T) {
	s, root := newTestSubsystem(2)
	a := root.NewChild("a")
	s.MustBind(a)

	s.AccountExecTime(a, 0, 9)
	s.AccountExecTime(a, 1, 1)

	// FlushedStat must flush before reading, no explicit Flush needed
	stat := s.FlushedStat(a)
	if stat.ExecRuntime != 10 {
		t.Errorf("ExecRuntime = %d, want 10", stat.ExecRuntime)
	}
}

func TestAccountOnCustomSubsystemPanics(t *testing.T) {
	root := NewRoot("root")
	s := NewSubsystem(root, &Options{
		Name:   "custom-account-test",
		NumCPU: 1,
		Flush:  func(n *Node, cpu int) {},
	})

	defer func() {
		if recover() == nil {
			t.Errorf("Account* on a custom-flush subsystem must panic")
		}
	}()
	s.AccountExecTime(root, 0, 1)
}

func TestStatUnbound(t *testing.T) {
	s, root := newTestSubsystem(1)
	orphan := root.NewChild("orphan")

	if _, ok := s.Stat(orphan); ok {
		t.Errorf("Stat of an unbound node must report ok=false")
	}
	if _, ok := s.CPUSubtreeStat(orphan, 0); ok {
		t.Errorf("CPUSubtreeStat of an unbound node must report ok=false")
	}
}

func TestSubsystemInfo(t *testing.T) {
	s, root := newTestSubsystem(2)
	a := root.NewChild("a")
	b := a.NewChild("b")
	s.MustBind(a)
	s.MustBind(b)

	s.AccountExecTime(b, 1, 1)

	info := s.Info()
	if info.Bindings != 3 {
		t.Errorf("Bindings = %d, want 3", info.Bindings)
	}
	if info.DirtyPerCPU[0] != 0 {
		t.Errorf("DirtyPerCPU[0] = %d, want 0", info.DirtyPerCPU[0])
	}
	if info.DirtyPerCPU[1] != 3 {
		t.Errorf("DirtyPerCPU[1] = %d, want 3 (closure)", info.DirtyPerCPU[1])
	}

	s.Flush(root)

	info = s.Info()
	if info.DirtyPerCPU[1] != 0 {
		t.Errorf("DirtyPerCPU[1] = %d after flush, want 0", info.DirtyPerCPU[1])
	}
}
