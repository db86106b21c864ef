package scatterv

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/internal/colltest"
	"github.com/rocketbitz/collective/status"
	"github.com/rocketbitz/collective/topo"
)

func counts(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i*2 + 3) % 5 // some ranks get nothing
	}
	return out
}

func runScatterv(t *testing.T, w *colltest.World, alg coll.Algorithm, root int, inPlace bool) {
	t.Helper()
	n := w.Size()
	cnt := counts(n)
	// reversed displacements so that send order differs from rank order
	displs := make([]int, n)
	off := 0
	for r := n - 1; r >= 0; r-- {
		displs[r] = off
		off += cnt[r]
	}
	send := make([]byte, dt.Int32.Bytes(off))
	for r := 0; r < n; r++ {
		copy(dt.Int32.Slice(send, displs[r], cnt[r]), colltest.Ramp(r, cnt[r]))
	}

	err := w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
		me := g.Rank()
		args := &coll.ScattervArgs{RecvCount: cnt[me], Dtype: dt.Int32, Root: root}
		if me == root {
			args.SendBuf = append([]byte(nil), send...)
			args.SendCounts = cnt
			args.Displs = displs
		}
		if me != root || !inPlace {
			args.RecvBuf = make([]byte, dt.Int32.Bytes(cnt[me]))
		}
		op, err := alg.Prepare(g, args)
		if err != nil {
			return err
		}
		for run := 0; run < 2; run++ {
			if err := coll.Drive(ctx, op); err != nil {
				return err
			}
			if args.RecvBuf != nil && !bytes.Equal(args.RecvBuf, colltest.Ramp(me, cnt[me])) {
				return fmt.Errorf("run %d: got %v", run, colltest.DecodeInt32s(args.RecvBuf))
			}
		}
		return op.Discard()
	})
	require.NoError(t, err)
}

func TestFlatAlgorithms(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), {KntreeDegree: 3, Batch: coll.BatchConfig{Min: 0, Max: 0}}} {
		for _, alg := range Algorithms(cfg)[:2] {
			for n := 1; n <= 9; n++ {
				w, err := colltest.New(n)
				require.NoError(t, err)
				for _, root := range []int{0, n - 1, n / 3} {
					for _, inPlace := range []bool{false, true} {
						name := fmt.Sprintf("%s/degree=%d/n=%d/root=%d/inplace=%v", alg.Name, cfg.KntreeDegree, n, root, inPlace)
						t.Run(name, func(t *testing.T) { runScatterv(t, w, alg, root, inPlace) })
					}
				}
			}
		}
	}
}

func TestNodeAware(t *testing.T) {
	alg := Algorithms(DefaultConfig())[IDNAKnomial-1]
	layouts := [][3]int{{1, 3, 1}, {3, 1, 1}, {2, 3, 1}, {4, 2, 1}, {3, 5, 1}}
	for _, l := range layouts {
		n := l[0] * l[1]
		w, err := colltest.New(n, colltest.WithLocations(colltest.Uniform(l[0], l[1], l[2])))
		require.NoError(t, err)
		for _, root := range []int{0, n - 1, n / 2} {
			for _, inPlace := range []bool{false, true} {
				t.Run(fmt.Sprintf("%dx%d/root=%d/inplace=%v", l[0], l[1], root, inPlace), func(t *testing.T) {
					runScatterv(t, w, alg, root, inPlace)
				})
			}
		}
	}

	// nodes of 3, 2 and 2 ranks
	uneven := []topo.Location{{NodeID: 0}, {NodeID: 0}, {NodeID: 0}, {NodeID: 1}, {NodeID: 1}, {NodeID: 2}, {NodeID: 2}}
	w, err := colltest.New(len(uneven), colltest.WithLocations(uneven))
	require.NoError(t, err)
	for _, root := range []int{0, 2, 4, 6} {
		t.Run(fmt.Sprintf("uneven/root=%d", root), func(t *testing.T) {
			runScatterv(t, w, alg, root, false)
		})
	}

	flat, err := colltest.New(2)
	require.NoError(t, err)
	_, err = alg.Prepare(flat.Groups[1], &coll.ScattervArgs{RecvBuf: make([]byte, 4), RecvCount: 1, Dtype: dt.Int32})
	require.ErrorIs(t, err, status.Unsupported)
}

func TestCountsRoundTrip(t *testing.T) {
	in := []int{0, 7, 1 << 20, 3}
	require.Equal(t, in, decodeCounts(encodeCounts(in)))
	require.Len(t, encodeCounts(in), 16)
}

func TestInvalidArgs(t *testing.T) {
	w, err := colltest.New(2)
	require.NoError(t, err)
	alg := Algorithms(DefaultConfig())[0]
	_, err = alg.Prepare(w.Groups[0], &coll.ScattervArgs{
		SendBuf:    make([]byte, 8),
		SendCounts: []int{1, 1},
		Displs:     []int{0, 1},
		RecvBuf:    make([]byte, 8),
		RecvCount:  2,
		Dtype:      dt.Int32,
	})
	require.ErrorIs(t, err, status.InvalidParam)
	_, err = alg.Prepare(w.Groups[0], &coll.ScattervArgs{SendCounts: []int{1}, Displs: []int{0}, Dtype: dt.Int32})
	require.ErrorIs(t, err, status.InvalidParam)
}
