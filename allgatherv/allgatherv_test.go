package allgatherv

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

func countsFor(n int) []int {
	counts := make([]int, n)
	for i := range counts {
		counts[i] = (i*3 + 1) % 5 // includes empty blocks
	}
	return counts
}

func runAllgatherv(t *testing.T, alg coll.Algorithm, n int, inPlace bool, opts ...colltest.Option) {
	t.Helper()
	w, err := colltest.New(n, opts...)
	require.NoError(t, err)
	counts := countsFor(n)
	// leave a gap between blocks to catch stray writes
	displs := make([]int, n)
	total := 0
	for i, c := range counts {
		displs[i] = total
		total += c + 1
	}
	want := make([]byte, dt.Int32.Bytes(total))
	for r := 0; r < n; r++ {
		copy(dt.Int32.Slice(want, displs[r], counts[r]), colltest.Ramp(r, counts[r]))
	}

	err = w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
		me := g.Rank()
		recv := make([]byte, len(want))
		args := &coll.AllgathervArgs{RecvBuf: recv, RecvCounts: counts, Displs: displs, Dtype: dt.Int32}
		if inPlace {
			copy(dt.Int32.Slice(recv, displs[me], counts[me]), colltest.Ramp(me, counts[me]))
		} else {
			args.SendBuf = colltest.Ramp(me, counts[me])
			args.SendCount = counts[me]
		}
		op, err := alg.Prepare(g, args)
		if err != nil {
			return err
		}
		for run := 0; run < 2; run++ {
			if err := coll.Drive(ctx, op); err != nil {
				return err
			}
			if !bytes.Equal(recv, want) {
				return fmt.Errorf("run %d: got %v want %v", run, colltest.DecodeInt32s(recv), colltest.DecodeInt32s(want))
			}
		}
		return op.Discard()
	})
	require.NoError(t, err)
}

func TestFlatAlgorithms(t *testing.T) {
	for _, alg := range Algorithms() {
		if alg.ID == IDNARolling {
			continue
		}
		for n := 1; n <= 7; n++ {
			if alg.ID == IDNeighbor && n%2 != 0 {
				continue
			}
			for _, inPlace := range []bool{false, true} {
				t.Run(fmt.Sprintf("%s/n=%d/inplace=%v", alg.Name, n, inPlace), func(t *testing.T) {
					runAllgatherv(t, alg, n, inPlace)
				})
			}
		}
	}
}

func TestNARolling(t *testing.T) {
	alg := Algorithms()[IDNARolling-1]
	for _, layout := range [][3]int{{2, 2, 1}, {3, 2, 1}, {2, 4, 2}, {4, 3, 1}} {
		nodes, ppn, sockets := layout[0], layout[1], layout[2]
		t.Run(fmt.Sprintf("%dx%d", nodes, ppn), func(t *testing.T) {
			runAllgatherv(t, alg, nodes*ppn, false, colltest.WithLocations(colltest.Uniform(nodes, ppn, sockets)))
		})
	}
}

func TestUnsupported(t *testing.T) {
	odd, err := colltest.New(3)
	require.NoError(t, err)
	args := &coll.AllgathervArgs{RecvBuf: make([]byte, 12), RecvCounts: []int{1, 1, 1}, Displs: []int{0, 1, 2}, Dtype: dt.Int32}
	_, err = Algorithms()[IDNeighbor-1].Prepare(odd.Groups[0], args)
	require.ErrorIs(t, err, status.Unsupported)
	_, err = Algorithms()[IDNARolling-1].Prepare(odd.Groups[0], args)
	require.ErrorIs(t, err, status.Unsupported)

	cases := map[string][]topo.Location{
		"single node":  colltest.Uniform(1, 3, 1),
		"one per node": colltest.Uniform(3, 1, 1),
		"unbalanced":   {{NodeID: 0}, {NodeID: 0}, {NodeID: 1}},
	}
	for name, locs := range cases {
		w, err := colltest.New(3, colltest.WithLocations(locs))
		require.NoError(t, err, name)
		_, err = Algorithms()[IDNARolling-1].Prepare(w.Groups[0], args)
		require.ErrorIs(t, err, status.Unsupported, name)
	}
}

func TestInvalidArgs(t *testing.T) {
	w, err := colltest.New(2)
	require.NoError(t, err)
	args := &coll.AllgathervArgs{
		SendBuf:    make([]byte, 8),
		SendCount:  2,
		RecvBuf:    make([]byte, 8),
		RecvCounts: []int{1, 1},
		Displs:     []int{0, 1},
		Dtype:      dt.Int32,
	}
	_, err = Algorithms()[IDRing-1].Prepare(w.Groups[0], args)
	require.ErrorIs(t, err, status.InvalidParam)
	_, err = Algorithms()[IDRing-1].Prepare(w.Groups[0], &coll.BcastArgs{})
	require.ErrorIs(t, err, status.InvalidParam)
}
