package coll_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/internal/colltest"
	"github.com/rocketbitz/collective/p2p"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

// shift sends the caller's buffer to the next rank and receives from the
// previous one.
type shift struct {
	coll.Base
	send, recv []byte
	posted     bool
}

func newShift(g *coll.Group, send, recv []byte) *shift {
	return &shift{Base: coll.NewBase("shift", g), send: send, recv: recv}
}

func (s *shift) Trigger() error {
	if err := s.Reset(); err != nil {
		return err
	}
	s.posted = false
	return s.Progress()
}

func (s *shift) Progress() error {
	return s.Advance(func() error {
		if !s.posted {
			n := s.G.Size()
			if err := s.Irecv(s.recv, (s.G.Rank()-1+n)%n); err != nil {
				return err
			}
			if err := s.Isend(s.send, (s.G.Rank()+1)%n); err != nil {
				return err
			}
			s.posted = true
		}
		return s.Wait()
	})
}

func TestParseType(t *testing.T) {
	for _, typ := range coll.Types() {
		got, err := coll.ParseType(typ.String())
		require.NoError(t, err)
		require.Equal(t, typ, got)
	}
	_, err := coll.ParseType("alltoall")
	require.ErrorIs(t, err, status.InvalidParam)
}

func TestBaseLifecycle(t *testing.T) {
	w, err := colltest.New(4)
	require.NoError(t, err)

	err = w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
		recv := make([]byte, 3)
		op := newShift(g, colltest.Pattern(g.Rank(), 3), recv)
		if err := op.Progress(); !errors.Is(err, status.InvalidParam) {
			return errors.New("progress before trigger accepted")
		}
		for run := 0; run < 3; run++ {
			if err := coll.Drive(ctx, op); err != nil {
				return err
			}
			prev := (g.Rank() + g.Size() - 1) % g.Size()
			if string(recv) != string(colltest.Pattern(prev, 3)) {
				return errors.New("payload mismatch")
			}
			if err := op.Progress(); err != nil {
				return err
			}
		}
		return op.Discard()
	})
	require.NoError(t, err)
}

func TestFinishedOpsStayQuiet(t *testing.T) {
	w, err := colltest.New(4)
	require.NoError(t, err)

	ring := func(g *coll.Group, send, recv []byte) *coll.RoundsOp {
		n := g.Size()
		return coll.NewRounds(g, "ring", coll.Rounds(coll.Round{
			Sends: []coll.Transfer{{Peer: (g.Rank() + 1) % n, Buf: send}},
			Recvs: []coll.Transfer{{Peer: (g.Rank() - 1 + n) % n, Buf: recv}},
		}))
	}

	err = w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
		port := w.Fabric.Port(g.Rank())
		rounds := ring(g, colltest.Pattern(g.Rank(), 4), make([]byte, 4))
		meta := coll.NewMeta("twice", g).
			Add(ring(g, colltest.Pattern(g.Rank(), 2), make([]byte, 2))).
			Add(newShift(g, colltest.Pattern(g.Rank(), 5), make([]byte, 5)))

		for _, op := range []coll.Op{rounds, meta} {
			if err := coll.Drive(ctx, op); err != nil {
				return err
			}
			sends, recvs := port.Posted()
			stats := g.Endpoint().Stats()
			for i := 0; i < 10; i++ {
				if err := op.Progress(); err != nil {
					return fmt.Errorf("%s: progress after completion: %w", op.Name(), err)
				}
			}
			if s, r := port.Posted(); s != sends || r != recvs {
				return fmt.Errorf("%s: posted %d/%d after completion, had %d/%d", op.Name(), s, r, sends, recvs)
			}
			if got := g.Endpoint().Stats(); got != stats {
				return fmt.Errorf("%s: endpoint stats moved from %+v to %+v", op.Name(), stats, got)
			}
			if err := op.Discard(); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMetaOpRunsStagesInOrder(t *testing.T) {
	w, err := colltest.New(1)
	require.NoError(t, err)
	g := w.Groups[0]

	var order []string
	builds := 0
	meta := coll.NewMeta("ordered", g).
		Add(coll.Func(g, "first", func() error { order = append(order, "first"); return nil })).
		AddEmpty().
		AddStage(func() (coll.Op, error) {
			builds++
			return coll.Func(g, "lazy", func() error { order = append(order, "lazy"); return nil }), nil
		})
	require.Equal(t, 3, meta.Len())

	before := g.NextRequestID()
	require.NoError(t, coll.Drive(context.Background(), meta))
	after := g.NextRequestID()
	assert.Equal(t, before+4, after, "each stage draws one sequence number")
	require.NoError(t, coll.Drive(context.Background(), meta))
	assert.Equal(t, []string{"first", "lazy", "first", "lazy"}, order)
	assert.Equal(t, 2, builds)
	require.NoError(t, meta.Discard())
}

func TestMetaOpStopsOnFailure(t *testing.T) {
	w, err := colltest.New(1)
	require.NoError(t, err)
	g := w.Groups[0]
	boom := status.Errorf(status.NoMemory, "scratch")
	ran := false
	meta := coll.NewMeta("failing", g).
		Add(coll.Func(g, "fails", func() error { return boom })).
		Add(coll.Func(g, "never", func() error { ran = true; return nil }))
	err = coll.Drive(context.Background(), meta)
	require.ErrorIs(t, err, status.NoMemory)
	require.False(t, ran)
	require.ErrorIs(t, meta.Status(), status.NoMemory)
}

func TestDriveHonoursContext(t *testing.T) {
	w, err := colltest.New(2)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// only rank 0 runs, so its receive can never match
	op := newShift(w.Groups[0], []byte{1}, make([]byte, 1))
	err = coll.Drive(ctx, op)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, op.Discard(), status.InvalidParam)
}

func TestGroupSub(t *testing.T) {
	locs := colltest.Uniform(2, 3, 1)
	w, err := colltest.New(6, colltest.WithLocations(locs))
	require.NoError(t, err)

	g := w.Groups[4]
	node, sg := g.Sub(topo.Node)
	require.NotNil(t, node)
	assert.Equal(t, []int{3, 4, 5}, sg.Ranks)
	assert.Equal(t, 1, node.Rank())
	assert.Equal(t, 3, node.Size())
	assert.Equal(t, 5, node.ContextRank(2))

	leaders, sg := g.Sub(topo.NodeLeader)
	assert.Nil(t, leaders)
	assert.Equal(t, -1, sg.MyRank)

	// subgroups draw from the parent's sequence
	first := g.NextRequestID()
	assert.Equal(t, first+1, node.NextRequestID())

	_, err = coll.NewGroup(coll.GroupConfig{ID: p2p.MaxGroupID + 1, Endpoint: w.Endpoints[0]})
	require.ErrorIs(t, err, status.InvalidParam)
	_, err = coll.NewGroup(coll.GroupConfig{Endpoint: w.Endpoints[0], Rank: 6})
	require.ErrorIs(t, err, status.InvalidParam)
}

func TestBatchThresholds(t *testing.T) {
	single, err := colltest.New(4, colltest.WithLocations(colltest.Uniform(1, 4, 1)))
	require.NoError(t, err)
	cfg := coll.DefaultBatch().Resolve(single.Groups[0])
	assert.Equal(t, coll.BatchConfig{Min: 8256, Max: coll.Unlimited}, cfg)
	assert.False(t, coll.DefaultBatch().UseBatch(single.Groups[0], 4*1024))
	assert.True(t, coll.DefaultBatch().UseBatch(single.Groups[0], 4*9000))

	flat, err := colltest.New(3)
	require.NoError(t, err)
	cfg = coll.DefaultBatch().Resolve(flat.Groups[0])
	assert.Equal(t, coll.BatchConfig{Min: 4096, Max: 65536}, cfg)

	multi, err := colltest.New(48, colltest.WithLocations(colltest.Uniform(6, 8, 2)))
	require.NoError(t, err)
	cfg = coll.BatchConfig{Min: 0, Max: coll.Auto}.Resolve(multi.Groups[0])
	assert.Equal(t, coll.BatchConfig{Min: 0, Max: 65536}, cfg)
}

func TestArgsValidation(t *testing.T) {
	w, err := colltest.New(2)
	require.NoError(t, err)
	require.ErrorIs(t, coll.CheckRoot(w.Groups[0], 2), status.InvalidParam)
	require.ErrorIs(t, coll.CheckBuffer("buf", make([]byte, 4), 2, dt.Int32), status.InvalidParam)
	require.NoError(t, coll.CheckVector("recv", make([]byte, 12), []int{1, 2}, []int{0, 1}, 2, dt.Int32))
	require.ErrorIs(t, coll.CheckVector("recv", make([]byte, 8), []int{1, 2}, []int{0, 1}, 2, dt.Int32), status.InvalidParam)

	_, err = coll.Expect[*coll.BcastArgs](&coll.BarrierArgs{})
	require.ErrorIs(t, err, status.InvalidParam)
	args := &coll.AllgathervArgs{RecvCounts: []int{1, 2, 3}, Dtype: dt.Float64}
	assert.Equal(t, 48, args.MessageSize())
}
