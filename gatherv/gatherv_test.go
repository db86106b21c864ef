package gatherv

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
)

func runGatherv(t *testing.T, w *colltest.World, alg coll.Algorithm, root int, inPlace bool) {
	t.Helper()
	n := w.Size()
	cnt := make([]int, n)
	for i := range cnt {
		cnt[i] = (i + 2) % 3
	}
	displs := make([]int, n)
	total := 0
	for r := n - 1; r >= 0; r-- {
		displs[r] = total
		total += cnt[r] + 1
	}
	want := make([]byte, dt.Int32.Bytes(total))
	for r := 0; r < n; r++ {
		copy(dt.Int32.Slice(want, displs[r], cnt[r]), colltest.Ramp(r, cnt[r]))
	}

	err := w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
		me := g.Rank()
		args := &coll.GathervArgs{SendCount: cnt[me], Dtype: dt.Int32, Root: root}
		if me == root {
			args.RecvBuf = make([]byte, len(want))
			args.RecvCounts = cnt
			args.Displs = displs
		}
		if me == root && inPlace {
			copy(dt.Int32.Slice(args.RecvBuf, displs[me], cnt[me]), colltest.Ramp(me, cnt[me]))
		} else {
			args.SendBuf = colltest.Ramp(me, cnt[me])
		}
		op, err := alg.Prepare(g, args)
		if err != nil {
			return err
		}
		for run := 0; run < 2; run++ {
			if err := coll.Drive(ctx, op); err != nil {
				return err
			}
			if me == root && !bytes.Equal(args.RecvBuf, want) {
				return fmt.Errorf("run %d: got %v want %v", run, colltest.DecodeInt32s(args.RecvBuf), colltest.DecodeInt32s(want))
			}
		}
		return op.Discard()
	})
	require.NoError(t, err)
}

func TestAlgorithms(t *testing.T) {
	for _, degree := range []int{2, 3} {
		for _, alg := range Algorithms(Config{KntreeDegree: degree}) {
			for n := 1; n <= 9; n++ {
				w, err := colltest.New(n)
				require.NoError(t, err)
				for _, root := range []int{0, n - 1, n / 2} {
					for _, inPlace := range []bool{false, true} {
						name := fmt.Sprintf("%s/degree=%d/n=%d/root=%d/inplace=%v", alg.Name, degree, n, root, inPlace)
						t.Run(name, func(t *testing.T) { runGatherv(t, w, alg, root, inPlace) })
					}
				}
			}
		}
	}
}

func TestRootDetectsCountMismatch(t *testing.T) {
	w, err := colltest.New(3)
	require.NoError(t, err)
	alg := Algorithms(DefaultConfig())[IDKnomial-1]
	err = w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
		args := &coll.GathervArgs{SendBuf: colltest.Ramp(g.Rank(), 2), SendCount: 2, Dtype: dt.Int32}
		if g.Rank() == 0 {
			args.RecvBuf = make([]byte, dt.Int32.Bytes(6))
			args.RecvCounts = []int{2, 1, 3}
			args.Displs = []int{0, 2, 3}
		}
		op, err := alg.Prepare(g, args)
		if err != nil {
			return err
		}
		return coll.Drive(ctx, op)
	})
	require.ErrorIs(t, err, status.InvalidParam)
}
