package plan

import (
	"slices"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
)

// Registry maps (collective, algorithm id) to algorithms. It is filled once
// while an engine is built and read-only afterwards.
type Registry struct {
	algs map[coll.Type]map[int]coll.Algorithm
}

// NewRegistry returns a registry holding algs.
func NewRegistry(algs ...[]coll.Algorithm) (*Registry, error) {
	r := &Registry{algs: make(map[coll.Type]map[int]coll.Algorithm)}
	for _, set := range algs {
		if err := r.Register(set...); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds algs. Ids must be positive and unique per collective.
func (r *Registry) Register(algs ...coll.Algorithm) error {
	for _, a := range algs {
		if a.ID < 1 || a.Prepare == nil {
			return status.Errorf(status.InvalidParam, "plan registry: %s algorithm %q needs a positive id and a prepare function", a.Type, a.Name)
		}
		byID := r.algs[a.Type]
		if byID == nil {
			byID = make(map[int]coll.Algorithm)
			r.algs[a.Type] = byID
		}
		if prev, ok := byID[a.ID]; ok {
			return status.Errorf(status.InvalidParam, "plan registry: %s id %d registered twice (%s, %s)", a.Type, a.ID, prev.Name, a.Name)
		}
		byID[a.ID] = a
	}
	return nil
}

// Lookup returns the algorithm id of t.
func (r *Registry) Lookup(t coll.Type, id int) (coll.Algorithm, bool) {
	a, ok := r.algs[t][id]
	return a, ok
}

// Algorithms lists the algorithms of t by id.
func (r *Registry) Algorithms(t coll.Type) []coll.Algorithm {
	out := make([]coll.Algorithm, 0, len(r.algs[t]))
	for _, a := range r.algs[t] {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b coll.Algorithm) int { return a.ID - b.ID })
	return out
}
