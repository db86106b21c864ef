package coll

import (
	"fmt"

	"github.com/rocketbitz/collective/status"
)

type stage struct {
	op    Op
	build func() (Op, error)
}

// MetaOp runs stages strictly one after another; a stage starts only once the
// previous one succeeded. Lazy stages are built when reached, so they can
// depend on the results of earlier stages, and are rebuilt on every trigger.
type MetaOp struct {
	name   string
	g      *Group
	stages []stage
	cur    int
	op     Op

	result    error
	triggered bool
}

// NewMeta returns an empty meta-op on g.
func NewMeta(name string, g *Group) *MetaOp {
	return &MetaOp{name: name, g: g}
}

// Add appends a prepared op.
func (m *MetaOp) Add(op Op) *MetaOp {
	m.stages = append(m.stages, stage{op: op})
	return m
}

// AddStage appends a stage built when it is reached.
func (m *MetaOp) AddStage(build func() (Op, error)) *MetaOp {
	m.stages = append(m.stages, stage{build: build})
	return m
}

// AddEmpty appends a stage that does nothing but keeps sequence numbers
// aligned with ranks that do work in it.
func (m *MetaOp) AddEmpty() *MetaOp {
	return m.Add(Empty(m.g))
}

// AddOn appends op when sub is non-nil and an empty stage otherwise. It is the
// usual way to add work on a subgroup the caller may not belong to.
func (m *MetaOp) AddOn(sub *Group, build func(*Group) (Op, error)) *MetaOp {
	if sub == nil {
		return m.AddEmpty()
	}
	return m.AddStage(func() (Op, error) { return build(sub) })
}

// Len is the number of stages.
func (m *MetaOp) Len() int { return len(m.stages) }

func (m *MetaOp) Name() string { return m.name }

func (m *MetaOp) Trigger() error {
	if m.triggered && status.IsInProgress(m.result) {
		return status.Errorf(status.InvalidParam, "%s: trigger while in progress", m.name)
	}
	m.triggered = true
	m.result = status.InProgress
	m.cur = 0
	m.op = nil
	return m.run(false)
}

func (m *MetaOp) Progress() error {
	if !m.triggered {
		return errNotTriggered
	}
	if !status.IsInProgress(m.result) {
		return m.result
	}
	return m.run(true)
}

// run progresses the current stage when resume is set and starts the
// following ones until a stage is left in flight.
func (m *MetaOp) run(resume bool) error {
	for m.cur < len(m.stages) {
		var err error
		if resume {
			err = m.op.Progress()
		} else {
			m.op, err = m.start(m.cur)
		}
		if status.IsInProgress(err) {
			return err
		}
		if err != nil {
			m.result = fmt.Errorf("%s stage %d: %w", m.name, m.cur, err)
			return m.result
		}
		m.cur++
		resume = false
	}
	m.result = nil
	return nil
}

func (m *MetaOp) start(i int) (Op, error) {
	st := &m.stages[i]
	if st.build != nil {
		op, err := st.build()
		if err != nil {
			return nil, err
		}
		st.op = op
	}
	return st.op, st.op.Trigger()
}

func (m *MetaOp) Status() error {
	if !m.triggered {
		return errNotTriggered
	}
	return m.result
}

// Discard discards every stage built so far.
func (m *MetaOp) Discard() error {
	if m.triggered && status.IsInProgress(m.result) {
		return status.Errorf(status.InvalidParam, "%s: discard while in progress", m.name)
	}
	var first error
	for _, st := range m.stages {
		if st.op == nil {
			continue
		}
		if err := st.op.Discard(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
