package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/telemetry"
)

// Candidate is one algorithm the selector will try.
type Candidate struct {
	Algorithm coll.Algorithm
	Entry     Entry
	// Override is set for candidates coming from user policies.
	Override bool
}

// Plan is the chosen candidate and its prepared op.
type Plan struct {
	Candidate
	Op coll.Op
	// Skipped lists the candidates that reported themselves unsupported.
	Skipped []Candidate
}

// SelectorConfig controls NewSelector.
type SelectorConfig struct {
	Registry *Registry
	// Policies defaults to the built-in tables.
	Policies *Policies
	// Overrides are tried before the policy tables, whatever the topology.
	Overrides map[coll.Type][]Entry
	Hooks     telemetry.Hooks
}

// Selector turns a collective call into a plan.
type Selector struct {
	registry  *Registry
	policies  *Policies
	overrides map[coll.Type][]Entry
	hooks     telemetry.Hooks
}

// NewSelector validates cfg and builds a selector.
func NewSelector(cfg SelectorConfig) (*Selector, error) {
	if cfg.Registry == nil {
		return nil, status.Errorf(status.InvalidParam, "plan selector: nil registry")
	}
	policies := cfg.Policies
	if policies == nil {
		var err error
		if policies, err = Default(); err != nil {
			return nil, err
		}
	}
	overrides := make(map[coll.Type][]Entry, len(cfg.Overrides))
	for t, entries := range cfg.Overrides {
		for _, e := range entries {
			if err := validate.Struct(e); err != nil {
				return nil, status.Errorf(status.InvalidParam, "plan selector: %s override %s: %v", t, e, err)
			}
		}
		overrides[t] = slices.Clone(entries)
	}
	return &Selector{
		registry:  cfg.Registry,
		policies:  policies,
		overrides: overrides,
		hooks:     cfg.Hooks.Normalize(),
	}, nil
}

// Candidates lists, in trial order, the algorithms for a call of type t
// moving size bytes on g: matching overrides first, then the policy table of
// g's node layout, each ordered by score. An algorithm appears once.
func (s *Selector) Candidates(t coll.Type, g *coll.Group, size int) []Candidate {
	nodes, ppn := coll.Layout(g)
	var out []Candidate
	seen := make(map[int]bool)
	add := func(entries []Entry, override bool) {
		entries = slices.DeleteFunc(slices.Clone(entries), func(e Entry) bool { return !e.Contains(size) })
		slices.SortStableFunc(entries, func(a, b Entry) int { return int(a.Score) - int(b.Score) })
		for _, e := range entries {
			if seen[e.ID] {
				continue
			}
			alg, ok := s.registry.Lookup(t, e.ID)
			if !ok {
				s.hooks.Log("collective plan", "unknown algorithm", telemetry.KV("collective", t), telemetry.KV("id", e.ID))
				continue
			}
			seen[e.ID] = true
			out = append(out, Candidate{Algorithm: alg, Entry: e, Override: override})
		}
	}
	add(s.overrides[t], true)
	add(s.policies.Lookup(t, nodes, ppn), false)
	return out
}

// Table returns every override and policy entry of t that applies to a
// layout of nodes nodes with ppn ranks each, whatever the message size.
// Entries naming unregistered algorithms are dropped.
func (s *Selector) Table(t coll.Type, nodes, ppn int) []Candidate {
	var out []Candidate
	add := func(entries []Entry, override bool) {
		for _, e := range entries {
			if alg, ok := s.registry.Lookup(t, e.ID); ok {
				out = append(out, Candidate{Algorithm: alg, Entry: e, Override: override})
			}
		}
	}
	add(s.overrides[t], true)
	add(s.policies.Lookup(t, nodes, ppn), false)
	return out
}

// Prepare tries the candidates of args in order and returns the first that
// prepares. Unsupported candidates are skipped; any other error ends the
// search. When every candidate is unsupported the result is Unsupported.
func (s *Selector) Prepare(g *coll.Group, args coll.Args) (*Plan, error) {
	t := args.Type()
	cands := s.Candidates(t, g, args.MessageSize())
	var skipped []Candidate
	for _, c := range cands {
		op, err := c.Algorithm.Prepare(g, args)
		if err == nil {
			s.hooks.Log("collective plan", "selected",
				telemetry.KV("collective", t),
				telemetry.KV("algorithm", c.Algorithm.Name),
				telemetry.KV("id", c.Algorithm.ID),
				telemetry.KV("score", c.Entry.Score),
				telemetry.KV("skipped", len(skipped)))
			return &Plan{Candidate: c, Op: op, Skipped: skipped}, nil
		}
		if !errors.Is(err, status.Unsupported) {
			return nil, fmt.Errorf("%s %s: %w", t, c.Algorithm.Name, err)
		}
		skipped = append(skipped, c)
		s.hooks.Log("collective plan", "fallback",
			telemetry.KV("collective", t),
			telemetry.KV("algorithm", c.Algorithm.Name),
			telemetry.KV("reason", err))
		if s.hooks.Metrics != nil {
			s.hooks.Metrics.PlanFallback(map[string]string{
				telemetry.LabelCollective: t.String(),
				telemetry.LabelAlgorithm:  c.Algorithm.Name,
				telemetry.LabelReason:     status.Of(err).String(),
			})
		}
	}
	if len(cands) == 0 {
		return nil, status.Errorf(status.Unsupported, "%s: no plan for %d bytes", t, args.MessageSize())
	}
	names := make([]string, len(skipped))
	for i, c := range skipped {
		names[i] = c.Algorithm.Name
	}
	return nil, status.Errorf(status.Unsupported, "%s: every candidate is unsupported (%s)", t, strings.Join(names, ", "))
}
