// Package colltest runs collectives over an in-process fabric with one
// goroutine per rank.
package colltest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/collective/coll"
	"github.com/rocketbitz/collective/p2p"
	"github.com/rocketbitz/collective/topo"
)

// DefaultTimeout bounds World.Run when the caller's context has no deadline.
const DefaultTimeout = 20 * time.Second

// World is a fabric plus one endpoint and one group handle per rank.
type World struct {
	Fabric    *p2p.Fabric
	Endpoints []*p2p.Endpoint
	Groups    []*coll.Group
	Topology  *topo.Topology
}

type options struct {
	locs     []topo.Location
	endpoint func(rank int) p2p.Config
	groupID  uint32
}

// Option customises New.
type Option func(*options)

// WithLocations attaches a topology built from locs.
func WithLocations(locs []topo.Location) Option {
	return func(o *options) { o.locs = locs }
}

// WithEndpointConfig supplies the endpoint config of each rank.
func WithEndpointConfig(fn func(rank int) p2p.Config) Option {
	return func(o *options) { o.endpoint = fn }
}

// WithGroupID sets the group id carried in tags.
func WithGroupID(id uint32) Option {
	return func(o *options) { o.groupID = id }
}

// New builds a world of size ranks.
func New(size int, opts ...Option) (*World, error) {
	o := options{groupID: 1}
	for _, opt := range opts {
		opt(&o)
	}
	w := &World{Fabric: p2p.NewFabric(size)}
	if o.locs != nil {
		t, err := topo.New(o.locs)
		if err != nil {
			return nil, err
		}
		w.Topology = t
	}
	for r := 0; r < size; r++ {
		var cfg p2p.Config
		if o.endpoint != nil {
			cfg = o.endpoint(r)
		}
		ep := p2p.NewEndpoint(w.Fabric.Port(r), cfg)
		g, err := coll.NewGroup(coll.GroupConfig{ID: o.groupID, Endpoint: ep, Topology: w.Topology, Rank: r})
		if err != nil {
			return nil, err
		}
		w.Endpoints = append(w.Endpoints, ep)
		w.Groups = append(w.Groups, g)
	}
	return w, nil
}

// Size is the number of ranks.
func (w *World) Size() int { return len(w.Groups) }

// Run calls fn for every rank concurrently and returns the first error.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, g *coll.Group) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, g := range w.Groups {
		eg.Go(func() error {
			if err := fn(ctx, g); err != nil {
				return fmt.Errorf("rank %d: %w", g.Rank(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// RunOps prepares an op on every rank with build and drives it to completion.
func (w *World) RunOps(ctx context.Context, build func(g *coll.Group) (coll.Op, error)) error {
	return w.Run(ctx, func(ctx context.Context, g *coll.Group) error {
		op, err := build(g)
		if err != nil {
			return err
		}
		if err := coll.Drive(ctx, op); err != nil {
			return err
		}
		return op.Discard()
	})
}

// Uniform places nodes*ppn ranks on nodes in blocks.
func Uniform(nodes, ppn, sockets int) []topo.Location {
	return topo.Uniform(nodes, ppn, sockets)
}

// Int32s encodes values as native int32 elements.
func Int32s(values ...int32) []byte {
	b := make([]byte, 4*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

// DecodeInt32s is the inverse of Int32s.
func DecodeInt32s(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(binary.NativeEndian.Uint32(b[4*i:]))
	}
	return out
}

// Float64s encodes values as native float64 elements.
func Float64s(values ...float64) []byte {
	b := make([]byte, 8*len(values))
	for i, v := range values {
		binary.NativeEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

// DecodeFloat64s is the inverse of Float64s.
func DecodeFloat64s(b []byte) []float64 {
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.NativeEndian.Uint64(b[8*i:]))
	}
	return out
}

// Pattern fills n bytes deterministically from seed.
func Pattern(seed, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(seed*31 + i*7 + 1)
	}
	return b
}

// Ramp returns count int32 elements seed*1000 + i.
func Ramp(seed, count int) []byte {
	vals := make([]int32, count)
	for i := range vals {
		vals[i] = int32(seed*1000 + i)
	}
	return Int32s(vals...)
}

// Displs returns packed displacements for counts.
func Displs(counts []int) []int {
	out := make([]int, len(counts))
	off := 0
	for i, c := range counts {
		out[i] = off
		off += c
	}
	return out
}

// Sum adds counts.
func Sum(counts []int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}
