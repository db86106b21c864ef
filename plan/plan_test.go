package plan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/internal/colltest"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/telemetry"
)

func TestLevels(t *testing.T) {
	nodes := map[int]string{1: "4", 4: "4", 5: "8", 8: "8", 9: "16", 16: "16", 17: "lg", 1000: "lg"}
	for n, want := range nodes {
		require.Equal(t, want, NodeLevel(n), "nodes=%d", n)
	}
	ppn := map[int]string{1: "1", 2: "4", 4: "4", 7: "4", 8: "8", 15: "8", 16: "16", 32: "32", 63: "32", 64: "64", 65: "lg"}
	for n, want := range ppn {
		require.Equal(t, want, PPNLevel(n), "ppn=%d", n)
	}
}

func TestDefaultPolicies(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)
	again, err := Default()
	require.NoError(t, err)
	require.Same(t, p, again)
	require.Equal(t, coll.Types(), p.Types())

	got := p.Lookup(coll.Bcast, 2, 1)
	require.Equal(t, Entry{ID: 10, Min: 0, Max: 8192, Score: Score1st}, got[0])
	require.Equal(t, Unbounded, got[len(got)-1].Max)

	// allgatherv has no table of its own for one process per node
	require.Equal(t, p.Lookup(coll.Allgatherv, 2, 4), p.Lookup(coll.Allgatherv, 2, 1))
	require.Equal(t, p.Lookup(coll.Allgatherv, 12, 8), p.Lookup(coll.Allgatherv, 40, 8))

	// the special score of allreduce ranks above the first choice
	special := p.Lookup(coll.Allreduce, 2, 100)
	require.Equal(t, ScoreSpecial, special[0].Score)

	for _, typ := range []coll.Type{coll.Scatterv, coll.Gatherv, coll.Reduce} {
		require.Len(t, p.Lookup(typ, 100, 100), 1)
	}
}

func TestParseSizesAndScores(t *testing.T) {
	p, err := Parse([]byte(`
bcast:
  - nodes: 8
    plans:
      - {id: 3, min: 1KiB, max: 1 MiB, score: 2nd}
      - {id: 4, min: 0, max: inf, score: 7}
  - plans:
      - {id: 1, min: 0, max: max, score: 3rd}
`))
	require.NoError(t, err)
	got := p.Lookup(coll.Bcast, 6, 3)
	require.Equal(t, []Entry{
		{ID: 3, Min: 1024, Max: 1 << 20, Score: Score2nd},
		{ID: 4, Min: 0, Max: Unbounded, Score: 7},
	}, got)
	require.Equal(t, 1, p.Lookup(coll.Bcast, 2, 3)[0].ID)
	require.Nil(t, p.Lookup(coll.Barrier, 2, 3))
	require.True(t, got[0].Contains(1024))
	require.False(t, got[0].Contains(1<<20))
	require.True(t, got[1].Contains(int(Unbounded)))
	require.Equal(t, "{id 3 [1.0 KiB, 1.0 MiB) score 2nd}", got[0].String())
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"collective": "alltoall:\n  - plans: [{id: 1, min: 0, max: max, score: 1st}]\n",
		"range":      "bcast:\n  - plans: [{id: 1, min: 64, max: 64, score: 1st}]\n",
		"id":         "bcast:\n  - plans: [{id: 0, min: 0, max: max, score: 1st}]\n",
		"bucket":     "bcast:\n  - nodes: 3\n    plans: [{id: 1, min: 0, max: max, score: 1st}]\n",
		"empty":      "bcast:\n  - ppn: 4\n",
		"score":      "bcast:\n  - plans: [{id: 1, min: 0, max: max, score: first}]\n",
		"size":       "bcast:\n  - plans: [{id: 1, min: lots, max: max, score: 1st}]\n",
	} {
		_, err := Parse([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]coll.Algorithm{fake(coll.Bcast, 2, nil), fake(coll.Bcast, 1, nil)})
	require.NoError(t, err)
	algs := r.Algorithms(coll.Bcast)
	require.Len(t, algs, 2)
	require.Equal(t, 1, algs[0].ID)
	require.ErrorIs(t, r.Register(fake(coll.Bcast, 1, nil)), status.InvalidParam)
	require.ErrorIs(t, r.Register(coll.Algorithm{Type: coll.Bcast, ID: 3}), status.InvalidParam)
	_, ok := r.Lookup(coll.Barrier, 1)
	require.False(t, ok)
}

// fake returns an algorithm whose prepare fails with err, or succeeds with an
// empty op when err is nil.
func fake(typ coll.Type, id int, err error) coll.Algorithm {
	return coll.Algorithm{
		Type: typ,
		ID:   id,
		Name: "fake" + string(rune('0'+id)),
		Prepare: func(g *coll.Group, _ coll.Args) (coll.Op, error) {
			if err != nil {
				return nil, err
			}
			return coll.Empty(g), nil
		},
	}
}

func TestSelectorFallsThrough(t *testing.T) {
	policies, err := Parse([]byte(`
barrier:
  - plans:
      - {id: 3, min: 0, max: max, score: 2nd}
      - {id: 1, min: 0, max: max, score: 1st}
      - {id: 2, min: 0, max: max, score: 3rd}
      - {id: 9, min: 0, max: max, score: 3rd}
      - {id: 1, min: 0, max: max, score: 3rd}
`))
	require.NoError(t, err)
	reg, err := NewRegistry([]coll.Algorithm{
		fake(coll.Barrier, 1, status.Errorf(status.Unsupported, "needs a topology")),
		fake(coll.Barrier, 2, nil),
		fake(coll.Barrier, 3, status.Unsupported),
	})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	metrics := &fallbacks{}
	sel, err := NewSelector(SelectorConfig{
		Registry: reg,
		Policies: policies,
		Hooks:    telemetry.Hooks{StructuredLogger: zap.New(core).Sugar(), Metrics: metrics},
	})
	require.NoError(t, err)

	w, err := colltest.New(1)
	require.NoError(t, err)
	g := w.Groups[0]

	cands := sel.Candidates(coll.Barrier, g, 0)
	ids := make([]int, len(cands))
	for i, c := range cands {
		ids[i] = c.Algorithm.ID
	}
	require.Equal(t, []int{1, 3, 2}, ids)

	plan, err := sel.Prepare(g, &coll.BarrierArgs{})
	require.NoError(t, err)
	require.Equal(t, 2, plan.Algorithm.ID)
	require.Len(t, plan.Skipped, 2)
	require.NoError(t, coll.Drive(t.Context(), plan.Op))

	require.Equal(t, []string{"fake1", "fake3"}, metrics.algorithms())
	require.Equal(t, 2, logs.FilterField(zap.String("event", "fallback")).Len())
	// once for Candidates and once for Prepare
	require.Equal(t, 2, logs.FilterField(zap.String("event", "unknown algorithm")).Len())
}

func TestSelectorOverridesFirst(t *testing.T) {
	reg, err := NewRegistry([]coll.Algorithm{fake(coll.Barrier, 1, nil), fake(coll.Barrier, 6, nil)})
	require.NoError(t, err)
	sel, err := NewSelector(SelectorConfig{
		Registry:  reg,
		Overrides: map[coll.Type][]Entry{coll.Barrier: {{ID: 6, Min: 0, Max: Unbounded, Score: Score3rd}}},
	})
	require.NoError(t, err)
	w, err := colltest.New(2)
	require.NoError(t, err)
	plan, err := sel.Prepare(w.Groups[0], &coll.BarrierArgs{})
	require.NoError(t, err)
	require.Equal(t, 6, plan.Algorithm.ID)
	require.True(t, plan.Override)

	cands := sel.Candidates(coll.Barrier, w.Groups[0], 0)
	require.Len(t, cands, 2)
	require.False(t, cands[1].Override)

	table := sel.Table(coll.Barrier, 2, 1)
	require.Len(t, table, 2)
	require.True(t, table[0].Override)
	require.Equal(t, 1, table[1].Algorithm.ID)

	_, err = NewSelector(SelectorConfig{
		Registry:  reg,
		Overrides: map[coll.Type][]Entry{coll.Barrier: {{ID: 6, Min: 10, Max: 5}}},
	})
	require.ErrorIs(t, err, status.InvalidParam)
	_, err = NewSelector(SelectorConfig{})
	require.ErrorIs(t, err, status.InvalidParam)
}

func TestSelectorStopsOnOtherErrors(t *testing.T) {
	reg, err := NewRegistry([]coll.Algorithm{
		fake(coll.Barrier, 1, status.Errorf(status.InvalidParam, "bad buffer")),
		fake(coll.Barrier, 6, nil),
	})
	require.NoError(t, err)
	sel, err := NewSelector(SelectorConfig{
		Registry:  reg,
		Overrides: map[coll.Type][]Entry{coll.Barrier: {{ID: 1, Max: Unbounded, Score: Score1st}, {ID: 6, Max: Unbounded, Score: Score2nd}}},
	})
	require.NoError(t, err)
	w, err := colltest.New(1)
	require.NoError(t, err)
	_, err = sel.Prepare(w.Groups[0], &coll.BarrierArgs{})
	require.ErrorIs(t, err, status.InvalidParam)
}

func TestSelectorExhausted(t *testing.T) {
	reg, err := NewRegistry([]coll.Algorithm{fake(coll.Gatherv, 1, status.Unsupported)})
	require.NoError(t, err)
	sel, err := NewSelector(SelectorConfig{Registry: reg})
	require.NoError(t, err)
	w, err := colltest.New(1)
	require.NoError(t, err)
	_, err = sel.Prepare(w.Groups[0], &coll.GathervArgs{})
	require.ErrorIs(t, err, status.Unsupported)
	require.ErrorContains(t, err, "fake1")

	_, err = sel.Prepare(w.Groups[0], &coll.BcastArgs{})
	require.ErrorIs(t, err, status.Unsupported)
}

type fallbacks struct {
	mu    sync.Mutex
	names []string
}

func (f *fallbacks) algorithms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

func (f *fallbacks) PlanFallback(attrs map[string]string) {
	f.mu.Lock()
	f.names = append(f.names, attrs[telemetry.LabelAlgorithm])
	f.mu.Unlock()
}

func (f *fallbacks) SendCompleted(map[string]string)        {}
func (f *fallbacks) SendFailed(error, map[string]string)    {}
func (f *fallbacks) ReceiveCompleted(map[string]string)     {}
func (f *fallbacks) ReceiveFailed(error, map[string]string) {}
func (f *fallbacks) OpStarted(map[string]string)            {}
func (f *fallbacks) OpCompleted(map[string]string)          {}
func (f *fallbacks) OpFailed(error, map[string]string)      {}
