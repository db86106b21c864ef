package dt

import (
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/rocketbitz/collective/status"
)

// Op is an associative reduction operator. Reduce computes
// inout[i] = in[i] (+) inout[i] for count elements, in is the left operand.
type Op interface {
	Name() string
	Commutative() bool
	Reduce(inout, in []byte, count int, dtype Datatype) error
}

// ReduceFunc is the kernel of a user operator.
type ReduceFunc func(inout, in []byte, count int, dtype Datatype) error

type userOp struct {
	name        string
	commutative bool
	fn          ReduceFunc
}

// NewOp wraps fn as an operator.
func NewOp(name string, commutative bool, fn ReduceFunc) Op {
	return &userOp{name: name, commutative: commutative, fn: fn}
}

func (o *userOp) Name() string      { return o.name }
func (o *userOp) Commutative() bool { return o.commutative }

func (o *userOp) Reduce(inout, in []byte, count int, dtype Datatype) error {
	return o.fn(inout, in, count, dtype)
}

type number interface {
	constraints.Integer | constraints.Float
}

type builtinOp int

const (
	opSum builtinOp = iota
	opProd
	opMax
	opMin
	opBAnd
	opBOr
	opBXor
)

// Builtin commutative operators.
var (
	Sum  Op = opSum
	Prod Op = opProd
	Max  Op = opMax
	Min  Op = opMin
	BAnd Op = opBAnd
	BOr  Op = opBOr
	BXor Op = opBXor
)

func (o builtinOp) Name() string {
	switch o {
	case opSum:
		return "sum"
	case opProd:
		return "prod"
	case opMax:
		return "max"
	case opMin:
		return "min"
	case opBAnd:
		return "band"
	case opBOr:
		return "bor"
	case opBXor:
		return "bxor"
	}
	return "unknown"
}

func (o builtinOp) Commutative() bool { return true }

func (o builtinOp) Reduce(inout, in []byte, count int, dtype Datatype) error {
	if count == 0 {
		return nil
	}
	if len(inout) < dtype.Bytes(count) || len(in) < dtype.Bytes(count) {
		return status.Errorf(status.InvalidParam, "%s over %d x %s: short buffer", o.Name(), count, dtype)
	}
	switch dtype.kind {
	case kindInt8:
		return reduceInt[int8](o, inout, in, count)
	case kindUint8:
		return reduceInt[uint8](o, inout, in, count)
	case kindInt16:
		return reduceInt[int16](o, inout, in, count)
	case kindUint16:
		return reduceInt[uint16](o, inout, in, count)
	case kindInt32:
		return reduceInt[int32](o, inout, in, count)
	case kindUint32:
		return reduceInt[uint32](o, inout, in, count)
	case kindInt64:
		return reduceInt[int64](o, inout, in, count)
	case kindUint64:
		return reduceInt[uint64](o, inout, in, count)
	case kindFloat32:
		return reduceFloat[float32](o, inout, in, count)
	case kindFloat64:
		return reduceFloat[float64](o, inout, in, count)
	}
	return status.Errorf(status.Unsupported, "%s has no kernel for datatype %s", o.Name(), dtype)
}

func view[T any](b []byte, count int) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), count)
}

func reduceInt[T constraints.Integer](o builtinOp, inout, in []byte, count int) error {
	dst, src := view[T](inout, count), view[T](in, count)
	switch o {
	case opBAnd:
		for i := range dst {
			dst[i] &= src[i]
		}
	case opBOr:
		for i := range dst {
			dst[i] |= src[i]
		}
	case opBXor:
		for i := range dst {
			dst[i] ^= src[i]
		}
	default:
		return arith(o, dst, src)
	}
	return nil
}

func reduceFloat[T constraints.Float](o builtinOp, inout, in []byte, count int) error {
	switch o {
	case opBAnd, opBOr, opBXor:
		return status.Errorf(status.Unsupported, "%s is not defined on floating point", o.Name())
	}
	return arith(o, view[T](inout, count), view[T](in, count))
}

func arith[T number](o builtinOp, dst, src []T) error {
	switch o {
	case opSum:
		for i := range dst {
			dst[i] = src[i] + dst[i]
		}
	case opProd:
		for i := range dst {
			dst[i] = src[i] * dst[i]
		}
	case opMax:
		for i := range dst {
			if src[i] > dst[i] {
				dst[i] = src[i]
			}
		}
	case opMin:
		for i := range dst {
			if src[i] < dst[i] {
				dst[i] = src[i]
			}
		}
	}
	return nil
}

// Int32s views b as int32 elements. It is a convenience for callers and tests
// that build buffers of builtin types.
func Int32s(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return view[int32](b, len(b)/4)
}

// Float64s views b as float64 elements.
func Float64s(b []byte) []float64 {
	if len(b) == 0 {
		return nil
	}
	return view[float64](b, len(b)/8)
}

// Int64s views b as int64 elements.
func Int64s(b []byte) []int64 {
	if len(b) == 0 {
		return nil
	}
	return view[int64](b, len(b)/8)
}
