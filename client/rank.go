package client

import (
	"context"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/dt"
	"github.com/rocketbitz/collective/engine"
	"github.com/rocketbitz/collective/p2p"
)

// Client is one rank's handle on a Job. Calls on a Client must be issued in
// the same order on every rank of the job.
type Client struct {
	job   *Job
	rank  int
	ep    *p2p.Endpoint
	group *coll.Group
}

func (c *Client) Rank() int { return c.rank }
func (c *Client) Size() int { return c.group.Size() }

// Group is the rank's group handle, for driving ops directly.
func (c *Client) Group() *coll.Group { return c.group }

// Endpoint is the rank's point-to-point endpoint.
func (c *Client) Endpoint() *p2p.Endpoint { return c.ep }

// Stats returns the rank's transfer counters.
func (c *Client) Stats() p2p.Stats { return c.ep.Stats() }

// Do runs the collective described by args.
func (c *Client) Do(ctx context.Context, args coll.Args) error {
	if err := c.job.ensureOpen(); err != nil {
		return err
	}
	ctx, cancel := c.job.operationContext(ctx)
	defer cancel()
	return c.job.engine.Run(ctx, c.group, args)
}

// Start runs args in the background. The job timeout does not apply; bound
// the call with ctx.
func (c *Client) Start(ctx context.Context, args coll.Args) (*engine.Request, error) {
	if err := c.job.ensureOpen(); err != nil {
		return nil, err
	}
	return c.job.engine.Start(ctx, c.group, args)
}

// Bcast copies count elements of buf on root into buf on every rank.
func (c *Client) Bcast(ctx context.Context, buf []byte, count int, dtype dt.Datatype, root int) error {
	return c.Do(ctx, &coll.BcastArgs{Buf: buf, Count: count, Dtype: dtype, Root: root})
}

// Allreduce combines send from every rank with op into recv on every rank.
// A nil send reduces recv in place.
func (c *Client) Allreduce(ctx context.Context, send, recv []byte, count int, dtype dt.Datatype, op dt.Op) error {
	return c.Do(ctx, &coll.AllreduceArgs{SendBuf: send, RecvBuf: recv, Count: count, Dtype: dtype, Op: op})
}

// Allgatherv collects counts[r] elements from every rank r into recv at
// displs[r]. The local block is taken from send, or from recv when send is nil.
func (c *Client) Allgatherv(ctx context.Context, send, recv []byte, counts, displs []int, dtype dt.Datatype) error {
	return c.Do(ctx, &coll.AllgathervArgs{
		SendBuf:    send,
		SendCount:  counts[c.rank],
		RecvBuf:    recv,
		RecvCounts: counts,
		Displs:     displs,
		Dtype:      dtype,
	})
}

// Scatterv hands block r of the root's send buffer to rank r. counts and
// displs are only read on the root.
func (c *Client) Scatterv(ctx context.Context, send []byte, counts, displs []int, recv []byte, recvCount int, dtype dt.Datatype, root int) error {
	return c.Do(ctx, &coll.ScattervArgs{
		SendBuf:    send,
		SendCounts: counts,
		Displs:     displs,
		RecvBuf:    recv,
		RecvCount:  recvCount,
		Dtype:      dtype,
		Root:       root,
	})
}

// Gatherv collects sendCount elements from every rank into the root's recv
// at displs[r]. counts and displs are only read on the root.
func (c *Client) Gatherv(ctx context.Context, send []byte, sendCount int, recv []byte, counts, displs []int, dtype dt.Datatype, root int) error {
	return c.Do(ctx, &coll.GathervArgs{
		SendBuf:    send,
		SendCount:  sendCount,
		RecvBuf:    recv,
		RecvCounts: counts,
		Displs:     displs,
		Dtype:      dtype,
		Root:       root,
	})
}

// Reduce combines send from every rank with op into recv on root.
func (c *Client) Reduce(ctx context.Context, send, recv []byte, count int, dtype dt.Datatype, op dt.Op, root int) error {
	return c.Do(ctx, &coll.ReduceArgs{SendBuf: send, RecvBuf: recv, Count: count, Dtype: dtype, Op: op, Root: root})
}

// Barrier returns once every rank has entered it.
func (c *Client) Barrier(ctx context.Context) error {
	return c.Do(ctx, &coll.BarrierArgs{})
}
