// Package dt describes element layouts and reduction operators. The engine
// moves opaque bytes; dt only supplies sizes and the reduction kernels.
package dt

import (
	"fmt"

	"github.com/rocketbitz/collective/status"
)

type kind int

const (
	kindOpaque kind = iota
	kindInt8
	kindUint8
	kindInt16
	kindUint16
	kindInt32
	kindUint32
	kindInt64
	kindUint64
	kindFloat32
	kindFloat64
)

// Datatype is a contiguous element type. Extent equals Size.
type Datatype struct {
	Name string
	Size int
	kind kind
}

var (
	Int8    = Datatype{Name: "int8", Size: 1, kind: kindInt8}
	Uint8   = Datatype{Name: "uint8", Size: 1, kind: kindUint8}
	Int16   = Datatype{Name: "int16", Size: 2, kind: kindInt16}
	Uint16  = Datatype{Name: "uint16", Size: 2, kind: kindUint16}
	Int32   = Datatype{Name: "int32", Size: 4, kind: kindInt32}
	Uint32  = Datatype{Name: "uint32", Size: 4, kind: kindUint32}
	Int64   = Datatype{Name: "int64", Size: 8, kind: kindInt64}
	Uint64  = Datatype{Name: "uint64", Size: 8, kind: kindUint64}
	Float32 = Datatype{Name: "float32", Size: 4, kind: kindFloat32}
	Float64 = Datatype{Name: "float64", Size: 8, kind: kindFloat64}
)

// Opaque returns a datatype of size bytes that only user operators can reduce.
func Opaque(name string, size int) Datatype {
	return Datatype{Name: name, Size: size}
}

func (d Datatype) String() string {
	return d.Name
}

// Bytes is the length in bytes of count elements.
func (d Datatype) Bytes(count int) int {
	return count * d.Size
}

// Slice returns count elements of buf starting at element offset.
func (d Datatype) Slice(buf []byte, offset, count int) []byte {
	start := offset * d.Size
	return buf[start : start+count*d.Size]
}

// Copy copies countSrc elements of src into dst. Both sides must describe the
// same number of bytes.
func Copy(dst []byte, dtDst Datatype, countDst int, src []byte, dtSrc Datatype, countSrc int) error {
	want := dtSrc.Bytes(countSrc)
	if dtDst.Bytes(countDst) != want {
		return status.Errorf(status.InvalidParam, "copy %d x %s into %d x %s", countSrc, dtSrc, countDst, dtDst)
	}
	if len(src) < want || len(dst) < want {
		return status.Errorf(status.InvalidParam, "copy of %d bytes overruns buffer", want)
	}
	copy(dst[:want], src[:want])
	return nil
}

// Validate checks that buf holds count elements of d.
func (d Datatype) Validate(buf []byte, count int) error {
	if d.Size <= 0 {
		return status.Errorf(status.InvalidParam, "datatype %q has size %d", d.Name, d.Size)
	}
	if count < 0 {
		return status.Errorf(status.InvalidParam, "negative count %d", count)
	}
	if len(buf) < d.Bytes(count) {
		return fmt.Errorf("%w: buffer of %d bytes holds fewer than %d x %s", status.InvalidParam, len(buf), count, d.Name)
	}
	return nil
}
