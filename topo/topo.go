// Package topo is the read-only topology descriptor of a group: where each rank
// lives and the node/socket subgroups derived from that placement.
package topo

import "fmt"

// Sentinels returned by PPN and PPS.
const (
	PPXUnknown    = -1
	PPXUnbalanced = -2
)

// Location places a rank on a node and a socket of that node.
type Location struct {
	NodeID   int `yaml:"node" json:"node"`
	SocketID int `yaml:"socket" json:"socket"`
}

// Kind selects a derived subgroup.
type Kind int

const (
	Node Kind = iota
	NodeLeader
	Socket
	SocketLeader
	NodeColumn
	SocketColumn
)

func (k Kind) String() string {
	switch k {
	case Node:
		return "node"
	case NodeLeader:
		return "node_leader"
	case Socket:
		return "socket"
	case SocketLeader:
		return "socket_leader"
	case NodeColumn:
		return "node_column"
	case SocketColumn:
		return "socket_column"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// State of a subgroup from the point of view of one rank.
type State int

const (
	NotInit State = iota
	Enable
	Disable
)

func (s State) String() string {
	switch s {
	case Enable:
		return "enable"
	case Disable:
		return "disable"
	}
	return "not_init"
}

// Subgroup is a subset of the group's ranks. Ranks maps subgroup rank to group
// rank; MyRank is -1 when the caller is not a member.
type Subgroup struct {
	Kind   Kind
	State  State
	Ranks  []int
	MyRank int
	Leader int
}

// Size is the number of members.
func (s Subgroup) Size() int { return len(s.Ranks) }

type node struct {
	ranks   []int
	sockets [][]int
}

// Topology is immutable after New and safe to share between ranks.
type Topology struct {
	size    int
	locs    []Location
	nodes   []node
	nodeOf  []int // rank -> index into nodes
	indexOf []int // rank -> position within its node
	sockOf  []int // rank -> socket index within its node
	sindex  []int // rank -> position within its socket
	ppn     int
	pps     int
}

// New builds a topology for len(locs) ranks. Nodes and sockets are ordered by
// their lowest rank; the lowest rank of each is its leader.
func New(locs []Location) (*Topology, error) {
	if len(locs) == 0 {
		return nil, fmt.Errorf("topo: empty location list")
	}
	t := &Topology{
		size:    len(locs),
		locs:    append([]Location(nil), locs...),
		nodeOf:  make([]int, len(locs)),
		indexOf: make([]int, len(locs)),
		sockOf:  make([]int, len(locs)),
		sindex:  make([]int, len(locs)),
	}
	nodeIdx := make(map[int]int)
	sockIdx := make([]map[int]int, 0)
	for rank, loc := range locs {
		ni, ok := nodeIdx[loc.NodeID]
		if !ok {
			ni = len(t.nodes)
			nodeIdx[loc.NodeID] = ni
			t.nodes = append(t.nodes, node{})
			sockIdx = append(sockIdx, make(map[int]int))
		}
		n := &t.nodes[ni]
		t.nodeOf[rank] = ni
		t.indexOf[rank] = len(n.ranks)
		n.ranks = append(n.ranks, rank)

		si, ok := sockIdx[ni][loc.SocketID]
		if !ok {
			si = len(n.sockets)
			sockIdx[ni][loc.SocketID] = si
			n.sockets = append(n.sockets, nil)
		}
		t.sockOf[rank] = si
		t.sindex[rank] = len(n.sockets[si])
		n.sockets[si] = append(n.sockets[si], rank)
	}
	t.ppn = balanced(t.nodes, func(n node) []int { return []int{len(n.ranks)} })
	t.pps = balanced(t.nodes, func(n node) []int {
		sizes := make([]int, len(n.sockets))
		for i, s := range n.sockets {
			sizes[i] = len(s)
		}
		return sizes
	})
	return t, nil
}

// Uniform places nodes*ppn ranks on nodes in blocks of ppn, each node split
// into sockets of equal size.
func Uniform(nodes, ppn, sockets int) []Location {
	if sockets < 1 {
		sockets = 1
	}
	per := (ppn + sockets - 1) / sockets
	locs := make([]Location, 0, nodes*ppn)
	for n := 0; n < nodes; n++ {
		for i := 0; i < ppn; i++ {
			locs = append(locs, Location{NodeID: n, SocketID: i / per})
		}
	}
	return locs
}

func balanced(nodes []node, sizes func(node) []int) int {
	want := -1
	for _, n := range nodes {
		for _, s := range sizes(n) {
			if want == -1 {
				want = s
			} else if s != want {
				return PPXUnbalanced
			}
		}
	}
	return want
}

// Size is the number of ranks described.
func (t *Topology) Size() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Location of rank.
func (t *Topology) Location(rank int) Location { return t.locs[rank] }

// PPN is processes per node, PPXUnknown for a nil topology or PPXUnbalanced.
func (t *Topology) PPN() int {
	if t == nil {
		return PPXUnknown
	}
	return t.ppn
}

// PPS is processes per socket with the same sentinels as PPN.
func (t *Topology) PPS() int {
	if t == nil {
		return PPXUnknown
	}
	return t.pps
}

// NodeCount is the number of distinct nodes.
func (t *Topology) NodeCount() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

// NodeRanks returns the ranks on the node that hosts rank, in rank order.
func (t *Topology) NodeRanks(rank int) []int {
	return t.nodes[t.nodeOf[rank]].ranks
}

// NodeIndex is the position of rank's node in node order.
func (t *Topology) NodeIndex(rank int) int { return t.nodeOf[rank] }

// LocalIndex is the position of rank within its node.
func (t *Topology) LocalIndex(rank int) int { return t.indexOf[rank] }

// NodeLeaderOf returns the leader of rank's node.
func (t *Topology) NodeLeaderOf(rank int) int {
	return t.nodes[t.nodeOf[rank]].ranks[0]
}

// Nodes returns the rank lists of all nodes in node order.
func (t *Topology) Nodes() [][]int {
	out := make([][]int, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.ranks
	}
	return out
}

// Subgroup derives the subgroup of kind as seen by rank.
func (t *Topology) Subgroup(kind Kind, rank int) Subgroup {
	sg := Subgroup{Kind: kind, MyRank: -1, Leader: -1}
	if t == nil || rank < 0 || rank >= t.size {
		return sg
	}
	n := t.nodes[t.nodeOf[rank]]
	switch kind {
	case Node:
		sg.Ranks = n.ranks
	case NodeLeader:
		sg.Ranks = make([]int, len(t.nodes))
		for i, nd := range t.nodes {
			sg.Ranks[i] = nd.ranks[0]
		}
	case Socket:
		sg.Ranks = n.sockets[t.sockOf[rank]]
	case SocketLeader:
		sg.Ranks = make([]int, len(n.sockets))
		for i, s := range n.sockets {
			sg.Ranks[i] = s[0]
		}
	case NodeColumn:
		if t.ppn <= 0 {
			sg.State = Disable
			return sg
		}
		idx := t.indexOf[rank]
		sg.Ranks = make([]int, len(t.nodes))
		for i, nd := range t.nodes {
			sg.Ranks[i] = nd.ranks[idx]
		}
	case SocketColumn:
		if t.pps <= 0 {
			sg.State = Disable
			return sg
		}
		idx := t.sindex[rank]
		sg.Ranks = make([]int, len(n.sockets))
		for i, s := range n.sockets {
			sg.Ranks[i] = s[idx]
		}
	default:
		return sg
	}
	sg.Leader = sg.Ranks[0]
	for i, r := range sg.Ranks {
		if r == rank {
			sg.MyRank = i
			break
		}
	}
	if sg.MyRank >= 0 && len(sg.Ranks) > 1 {
		sg.State = Enable
	} else {
		sg.State = Disable
	}
	return sg
}
