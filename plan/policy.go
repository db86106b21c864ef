// Package plan ranks the algorithms of a collective for one call: score
// ordered policy tables keyed by node count and processes per node, a
// registry of prepared algorithms and a selector that falls through
// unsupported candidates.
package plan

import (
	_ "embed"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/status"
)

//go:embed policies.yaml
var defaultPolicies []byte

// Score ranks plans; lower scores are tried first.
type Score int

// Named scores used by the policy tables.
const (
	ScoreSpecial Score = 9
	Score0th     Score = 10
	Score1st     Score = 11
	Score2nd     Score = 12
	Score3rd     Score = 13
)

var scoreNames = map[string]Score{
	"sp":  ScoreSpecial,
	"0th": Score0th,
	"1st": Score1st,
	"2nd": Score2nd,
	"3rd": Score3rd,
}

func (s Score) String() string {
	for name, v := range scoreNames {
		if v == s {
			return name
		}
	}
	return strconv.Itoa(int(s))
}

func (s Score) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalYAML accepts a score name or an integer.
func (s *Score) UnmarshalYAML(n *yaml.Node) error {
	if v, ok := scoreNames[strings.ToLower(n.Value)]; ok {
		*s = v
		return nil
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: score %q is neither a name nor an integer", n.Line, n.Value)
	}
	*s = Score(v)
	return nil
}

// Unbounded is the upper Bound of a range open to the right.
const Unbounded Bound = math.MaxInt

// Bound is a message size in bytes.
type Bound int

func (b Bound) String() string {
	if b == Unbounded {
		return "max"
	}
	return humanize.IBytes(uint64(b))
}

// ParseBound reads "max", "inf", a byte count or a humanized size such as
// "64KiB".
func ParseBound(s string) (Bound, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "max", "inf":
		return Unbounded, nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", s, err)
	}
	if v >= uint64(Unbounded) {
		return Unbounded, nil
	}
	return Bound(v), nil
}

func (b Bound) MarshalYAML() (any, error) {
	if b == Unbounded {
		return "max", nil
	}
	return int(b), nil
}

func (b *Bound) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseBound(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*b = v
	return nil
}

// Entry offers algorithm ID for message sizes in [Min, Max).
type Entry struct {
	ID    int   `yaml:"id" validate:"min=1"`
	Min   Bound `yaml:"min" validate:"min=0"`
	Max   Bound `yaml:"max" validate:"gtfield=Min"`
	Score Score `yaml:"score"`
}

// Contains reports whether a message of size bytes falls in the entry.
func (e Entry) Contains(size int) bool {
	return size >= int(e.Min) && (size < int(e.Max) || e.Max == Unbounded)
}

func (e Entry) String() string {
	return fmt.Sprintf("{id %d [%s, %s) score %s}", e.ID, e.Min, e.Max, e.Score)
}

// Bucket holds the plans of one node count and ppn bucket. An empty level
// matches any value.
type Bucket struct {
	Nodes string  `yaml:"nodes" validate:"omitempty,oneof=4 8 16 lg"`
	PPN   string  `yaml:"ppn" validate:"omitempty,oneof=1 4 8 16 32 64 lg"`
	Plans []Entry `yaml:"plans" validate:"required,dive"`
}

func (b Bucket) matches(nodes, ppn string) bool {
	return (b.Nodes == "" || b.Nodes == nodes) && (b.PPN == "" || b.PPN == ppn)
}

// NodeLevel classifies a node count: up to 4, 5 to 8, 9 to 16 and more.
func NodeLevel(nodes int) string {
	switch {
	case nodes <= 4:
		return "4"
	case nodes > 16:
		return "lg"
	}
	return [...]string{"4", "8", "16"}[log2From(nodes-1, 4)]
}

// PPNLevel classifies processes per node. One process per node has a bucket
// of its own; 5 to 7 share the bucket of 2 to 4, then the buckets double up
// to 64.
func PPNLevel(ppn int) string {
	switch {
	case ppn <= 1:
		return "1"
	case ppn <= 4:
		return "4"
	case ppn > 64:
		return "lg"
	}
	return [...]string{"1", "4", "8", "16", "32", "64"}[log2From(ppn, 4)]
}

// log2From counts the halvings of n until it drops below begin.
func log2From(n, begin int) int {
	i := 0
	for n >= begin {
		n >>= 1
		i++
	}
	return i
}

// Policies is a set of policy tables, one per collective.
type Policies struct {
	tables map[coll.Type][]Bucket
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Parse reads policy tables keyed by collective name.
func Parse(data []byte) (*Policies, error) {
	var raw map[string][]Bucket
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, status.Errorf(status.InvalidParam, "plan policies: %v", err)
	}
	p := &Policies{tables: make(map[coll.Type][]Bucket, len(raw))}
	for name, buckets := range raw {
		t, err := coll.ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("plan policies: %w", err)
		}
		for i, b := range buckets {
			if err := validate.Struct(b); err != nil {
				return nil, status.Errorf(status.InvalidParam, "plan policies: %s bucket %d: %v", name, i, err)
			}
		}
		p.tables[t] = buckets
	}
	return p, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *Policies
	defaultErr  error
)

// Default returns the built-in policy tables, parsed once per process.
func Default() (*Policies, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Parse(defaultPolicies)
	})
	return defaultSet, defaultErr
}

// Lookup returns the plans of the first bucket of t matching a group of nodes
// nodes with ppn processes each, in table order.
func (p *Policies) Lookup(t coll.Type, nodes, ppn int) []Entry {
	if p == nil {
		return nil
	}
	nl, pl := NodeLevel(nodes), PPNLevel(ppn)
	for _, b := range p.tables[t] {
		if b.matches(nl, pl) {
			return slices.Clone(b.Plans)
		}
	}
	return nil
}

// Types lists the collectives with a table.
func (p *Policies) Types() []coll.Type {
	var out []coll.Type
	for _, t := range coll.Types() {
		if _, ok := p.tables[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
