package reduce

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/internal/colltest"
	"github.com/rocketbitz/collective/status"
)

func TestKnomialSum(t *testing.T) {
	for _, degree := range []int{2, 3, 4} {
		alg := Algorithms(Config{KntreeDegree: degree})[0]
		for n := 1; n <= 9; n++ {
			w, err := colltest.New(n)
			require.NoError(t, err)
			for _, root := range []int{0, n - 1} {
				for _, inPlace := range []bool{false, true} {
					name := fmt.Sprintf("degree=%d/n=%d/root=%d/inplace=%v", degree, n, root, inPlace)
					t.Run(name, func(t *testing.T) {
						const count = 5
						want := make([]int32, count)
						for r := 0; r < n; r++ {
							for i := range want {
								want[i] += int32(r*1000 + i)
							}
						}
						err := w.Run(context.Background(), func(ctx context.Context, g *coll.Group) error {
							args := &coll.ReduceArgs{Count: count, Dtype: dt.Int32, Op: dt.Sum, Root: root}
							send := colltest.Ramp(g.Rank(), count)
							if inPlace {
								args.RecvBuf = send
							} else {
								args.SendBuf = send
								if g.Rank() == root {
									args.RecvBuf = make([]byte, len(send))
								}
							}
							op, err := alg.Prepare(g, args)
							if err != nil {
								return err
							}
							if err := coll.Drive(ctx, op); err != nil {
								return err
							}
							if g.Rank() == root {
								if got := colltest.DecodeInt32s(args.RecvBuf); fmt.Sprint(got) != fmt.Sprint(want) {
									return fmt.Errorf("got %v want %v", got, want)
								}
							}
							if !inPlace && fmt.Sprint(colltest.DecodeInt32s(send)) != fmt.Sprint(colltest.DecodeInt32s(colltest.Ramp(g.Rank(), count))) {
								return fmt.Errorf("send buffer modified")
							}
							return op.Discard()
						})
						require.NoError(t, err)
					})
				}
			}
		}
	}
}

func TestKnomialRejectsNonCommutative(t *testing.T) {
	w, err := colltest.New(2)
	require.NoError(t, err)
	first := dt.NewOp("first", false, func(inout, in []byte, count int, d dt.Datatype) error {
		copy(inout, in[:d.Bytes(count)])
		return nil
	})
	alg := Algorithms(DefaultConfig())[0]
	_, err = alg.Prepare(w.Groups[0], &coll.ReduceArgs{RecvBuf: make([]byte, 4), Count: 1, Dtype: dt.Int32, Op: first})
	require.ErrorIs(t, err, status.Unsupported)
	_, err = alg.Prepare(w.Groups[0], &coll.ReduceArgs{RecvBuf: make([]byte, 4), Count: 1, Dtype: dt.Int32})
	require.ErrorIs(t, err, status.InvalidParam)
}
