package volume

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Datatype is the NIfTI-1 DT_* code stored in the header.
type Datatype int16

const (
	DTUint8   Datatype = 2
	DTInt16   Datatype = 4
	DTInt32   Datatype = 8
	DTFloat32 Datatype = 16
	DTFloat64 Datatype = 64
	DTInt8    Datatype = 256
	DTUint16  Datatype = 512
	DTUint32  Datatype = 768
	DTInt64   Datatype = 1024
	DTUint64  Datatype = 1280
)

var datatypeNames = map[Datatype]string{
	DTUint8:   "uint8",
	DTInt16:   "int16",
	DTInt32:   "int32",
	DTFloat32: "float32",
	DTFloat64: "float64",
	DTInt8:    "int8",
	DTUint16:  "uint16",
	DTUint32:  "uint32",
	DTInt64:   "int64",
	DTUint64:  "uint64",
}

func (dt Datatype) String() string {
	if name, ok := datatypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", int16(dt))
}

// Size is the number of bytes per voxel, or 0 for unsupported types.
func (dt Datatype) Size() int {
	switch dt {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTInt64, DTUint64, DTFloat64:
		return 8
	}
	return 0
}

func (dt Datatype) check() error {
	if dt.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedDatatype, dt)
	}
	return nil
}

// decode reads one stored (unscaled) value from b.
func (dt Datatype) decode(order binary.ByteOrder, b []byte) float64 {
	switch dt {
	case DTUint8:
		return float64(b[0])
	case DTInt8:
		return float64(int8(b[0]))
	case DTInt16:
		return float64(int16(order.Uint16(b)))
	case DTUint16:
		return float64(order.Uint16(b))
	case DTInt32:
		return float64(int32(order.Uint32(b)))
	case DTUint32:
		return float64(order.Uint32(b))
	case DTFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case DTInt64:
		return float64(int64(order.Uint64(b)))
	case DTUint64:
		return float64(order.Uint64(b))
	case DTFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

// encode stores v into b. Integer types round to nearest and saturate.
func (dt Datatype) encode(order binary.ByteOrder, b []byte, v float64) {
	switch dt {
	case DTUint8:
		b[0] = uint8(saturate(v, 0, math.MaxUint8))
	case DTInt8:
		b[0] = byte(int8(saturate(v, math.MinInt8, math.MaxInt8)))
	case DTInt16:
		order.PutUint16(b, uint16(int16(saturate(v, math.MinInt16, math.MaxInt16))))
	case DTUint16:
		order.PutUint16(b, uint16(saturate(v, 0, math.MaxUint16)))
	case DTInt32:
		order.PutUint32(b, uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
	case DTUint32:
		order.PutUint32(b, uint32(saturate(v, 0, math.MaxUint32)))
	case DTFloat32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case DTInt64:
		order.PutUint64(b, uint64(int64(saturate(v, math.MinInt64, maxInt64Float))))
	case DTUint64:
		order.PutUint64(b, uint64(saturate(v, 0, maxUint64Float)))
	case DTFloat64:
		order.PutUint64(b, math.Float64bits(v))
	}
}

// Largest float64 values that still convert to int64/uint64 without overflow.
var (
	maxInt64Float  = math.Nextafter(math.MaxInt64, 0)
	maxUint64Float = math.Nextafter(math.MaxUint64, 0)
)

func saturate(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
