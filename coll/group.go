package coll

import (
	"github.com/rocketbitz/collective/p2p"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// GroupConfig describes the caller's membership in a group.
type GroupConfig struct {
	// ID is carried in every tag; it must be unique among live groups that
	// share an endpoint.
	ID       uint32
	Endpoint *p2p.Endpoint
	// Topology is optional; node and socket aware algorithms need it.
	Topology *topo.Topology
	// Ranks maps group rank to endpoint rank. Nil means the identity over
	// the whole endpoint.
	Ranks []int
	// Rank is the caller's group rank.
	Rank int
	// Polls bounds the transport polls of one progress call; defaults to 1.
	Polls int
}

// Group is one rank's handle on a set of ranks that run collectives together.
// A group is driven by a single goroutine.
type Group struct {
	id    uint32
	ep    *p2p.Endpoint
	topo  *topo.Topology
	ranks []int
	rank  int
	size  int
	polls int
	ids   *p2p.RequestIDs
}

// NewGroup validates cfg and returns the caller's group handle.
func NewGroup(cfg GroupConfig) (*Group, error) {
	if cfg.Endpoint == nil {
		return nil, status.Errorf(status.InvalidParam, "group %d: nil endpoint", cfg.ID)
	}
	if cfg.ID > p2p.MaxGroupID {
		return nil, status.Errorf(status.InvalidParam, "group id %d exceeds %d", cfg.ID, p2p.MaxGroupID)
	}
	size := cfg.Endpoint.Size()
	if cfg.Ranks != nil {
		size = len(cfg.Ranks)
		for _, r := range cfg.Ranks {
			if r < 0 || r >= cfg.Endpoint.Size() || r > p2p.MaxRank {
				return nil, status.Errorf(status.InvalidParam, "group %d: endpoint rank %d out of range", cfg.ID, r)
			}
		}
	}
	if size == 0 {
		return nil, status.Errorf(status.InvalidParam, "group %d is empty", cfg.ID)
	}
	if cfg.Rank < 0 || cfg.Rank >= size {
		return nil, status.Errorf(status.InvalidParam, "group %d: rank %d outside size %d", cfg.ID, cfg.Rank, size)
	}
	if cfg.Topology != nil && cfg.Topology.Size() != size {
		return nil, status.Errorf(status.InvalidParam, "group %d: topology of %d ranks for group of %d", cfg.ID, cfg.Topology.Size(), size)
	}
	polls := cfg.Polls
	if polls < 1 {
		polls = 1
	}
	return &Group{
		id:    cfg.ID,
		ep:    cfg.Endpoint,
		topo:  cfg.Topology,
		ranks: cfg.Ranks,
		rank:  cfg.Rank,
		size:  size,
		polls: polls,
		ids:   &p2p.RequestIDs{},
	}, nil
}

func (g *Group) ID() uint32               { return g.id }
func (g *Group) Size() int                { return g.size }
func (g *Group) Rank() int                { return g.rank }
func (g *Group) Topology() *topo.Topology { return g.topo }
func (g *Group) Endpoint() *p2p.Endpoint  { return g.ep }
func (g *Group) Polls() int               { return g.polls }

// NextRequestID draws the sequence number of the next leaf op. Subgroups
// draw from their parent's counter.
func (g *Group) NextRequestID() uint32 { return g.ids.Next() }

// ContextRank maps a group rank to its endpoint rank.
func (g *Group) ContextRank(rank int) int {
	if g.ranks == nil {
		return rank
	}
	return g.ranks[rank]
}

// Sub derives the subgroup of kind containing the caller. The returned group
// is nil unless the subgroup is enabled, that is the caller is a member and it
// has more than one rank. Group ranks of the subgroup descriptor are relative
// to g.
func (g *Group) Sub(kind topo.Kind) (*Group, topo.Subgroup) {
	sg := g.topo.Subgroup(kind, g.rank)
	if sg.State != topo.Enable {
		return nil, sg
	}
	ranks := make([]int, len(sg.Ranks))
	for i, r := range sg.Ranks {
		ranks[i] = g.ContextRank(r)
	}
	return &Group{
		id:    g.id,
		ep:    g.ep,
		ranks: ranks,
		rank:  sg.MyRank,
		size:  len(ranks),
		polls: g.polls,
		ids:   g.ids,
	}, sg
}
