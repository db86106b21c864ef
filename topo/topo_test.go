package topo

import (
	"reflect"
	"testing"
)

func TestBalancedTopology(t *testing.T) {
	tp, err := New(Uniform(3, 4, 2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tp.PPN() != 4 || tp.PPS() != 2 || tp.NodeCount() != 3 {
		t.Fatalf("ppn=%d pps=%d nodes=%d", tp.PPN(), tp.PPS(), tp.NodeCount())
	}

	node := tp.Subgroup(Node, 6)
	if node.State != Enable || node.MyRank != 2 || node.Leader != 4 || !reflect.DeepEqual(node.Ranks, []int{4, 5, 6, 7}) {
		t.Fatalf("unexpected node subgroup %+v", node)
	}

	leaders := tp.Subgroup(NodeLeader, 6)
	if leaders.State != Disable || leaders.MyRank != -1 || !reflect.DeepEqual(leaders.Ranks, []int{0, 4, 8}) {
		t.Fatalf("unexpected leader subgroup for non-leader %+v", leaders)
	}
	if sg := tp.Subgroup(NodeLeader, 8); sg.State != Enable || sg.MyRank != 2 {
		t.Fatalf("unexpected leader subgroup for leader %+v", sg)
	}

	col := tp.Subgroup(NodeColumn, 6)
	if col.State != Enable || col.MyRank != 1 || !reflect.DeepEqual(col.Ranks, []int{2, 6, 10}) {
		t.Fatalf("unexpected column %+v", col)
	}

	sock := tp.Subgroup(Socket, 7)
	if !reflect.DeepEqual(sock.Ranks, []int{6, 7}) || sock.MyRank != 1 {
		t.Fatalf("unexpected socket %+v", sock)
	}
	sl := tp.Subgroup(SocketLeader, 6)
	if !reflect.DeepEqual(sl.Ranks, []int{4, 6}) || sl.MyRank != 1 || sl.State != Enable {
		t.Fatalf("unexpected socket leaders %+v", sl)
	}
	sc := tp.Subgroup(SocketColumn, 7)
	if !reflect.DeepEqual(sc.Ranks, []int{5, 7}) || sc.MyRank != 1 {
		t.Fatalf("unexpected socket column %+v", sc)
	}
}

func TestUnbalancedTopology(t *testing.T) {
	tp, err := New([]Location{{0, 0}, {0, 0}, {1, 0}, {0, 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tp.PPN() != PPXUnbalanced {
		t.Fatalf("ppn=%d want unbalanced", tp.PPN())
	}
	if sg := tp.Subgroup(NodeColumn, 0); sg.State != Disable {
		t.Fatalf("column on unbalanced topology should be disabled: %+v", sg)
	}
	// node 1 hosts a single rank
	if sg := tp.Subgroup(Node, 2); sg.State != Disable || sg.MyRank != 0 {
		t.Fatalf("singleton node should be disabled: %+v", sg)
	}
	if got := tp.NodeRanks(3); !reflect.DeepEqual(got, []int{0, 1, 3}) {
		t.Fatalf("node ranks %v", got)
	}
}

func TestNilTopology(t *testing.T) {
	var tp *Topology
	if tp.PPN() != PPXUnknown || tp.PPS() != PPXUnknown {
		t.Fatal("nil topology must report unknown")
	}
	if sg := tp.Subgroup(Node, 0); sg.State != NotInit {
		t.Fatalf("nil topology subgroup state %v", sg.State)
	}
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for empty topology")
	}
}

func TestUniformSplitsSockets(t *testing.T) {
	locs := Uniform(2, 3, 2)
	want := []Location{{0, 0}, {0, 0}, {0, 1}, {1, 0}, {1, 0}, {1, 1}}
	if !reflect.DeepEqual(locs, want) {
		t.Fatalf("Uniform(2, 3, 2) = %v", locs)
	}
	if got := Uniform(1, 2, 0); !reflect.DeepEqual(got, []Location{{0, 0}, {0, 0}}) {
		t.Fatalf("Uniform without sockets = %v", got)
	}
}
