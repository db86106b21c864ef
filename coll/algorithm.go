package coll

import "fmt"

// PrepareFunc builds an op for args on g. It returns an error wrapping
// status.Unsupported when the algorithm cannot serve the call, so that a
// selector can try the next candidate.
type PrepareFunc func(g *Group, args Args) (Op, error)

// Algorithm is one registered implementation of a collective.
type Algorithm struct {
	Type    Type
	ID      int
	Name    string
	Prepare PrepareFunc
}

func (a Algorithm) String() string {
	return fmt.Sprintf("%s/%d:%s", a.Type, a.ID, a.Name)
}
