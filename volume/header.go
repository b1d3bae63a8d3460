// Package volume reads and writes single-file NIfTI-1 volumes while keeping the
// header and extension bytes exactly as they were found on disk. Only the voxel
// payload is ever rewritten.
package volume

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	headerSize    = 348
	minVoxOffset  = 352
	sizeofHdrNII1 = int32(headerSize)
)

// Header is the on-disk NIfTI-1 header. Field order and widths follow
// nifti1.h so that binary.Read fills it directly.
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	Datatype   Datatype
	BitPix     int16
	SliceStart int16
	PixDim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XYZTUnits  byte
	CalMax     float32
	CalMin     float32
	SliceDur   float32
	TOffset    float32
	GLMax      int32
	GLMin      int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// decodeHeader parses the first 348 bytes of a NIfTI-1 stream, picking the byte
// order by which interpretation of sizeof_hdr yields 348.
func decodeHeader(b []byte) (Header, binary.ByteOrder, error) {
	var h Header
	if len(b) < headerSize {
		return h, nil, fmt.Errorf("%w: %d header bytes, need %d", ErrNotNIfTI1, len(b), headerSize)
	}

	var order binary.ByteOrder
	switch {
	case int32(binary.LittleEndian.Uint32(b[:4])) == sizeofHdrNII1:
		order = binary.LittleEndian
	case int32(binary.BigEndian.Uint32(b[:4])) == sizeofHdrNII1:
		order = binary.BigEndian
	default:
		return h, nil, fmt.Errorf("%w: sizeof_hdr is not 348", ErrNotNIfTI1)
	}

	if err := binary.Read(bytes.NewReader(b[:headerSize]), order, &h); err != nil {
		return h, nil, err
	}

	if h.Magic != [4]byte{'n', '+', '1', 0} {
		return h, nil, fmt.Errorf("%w: magic %q (only single-file n+1 volumes are supported)", ErrNotNIfTI1, h.Magic[:3])
	}

	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return h, nil, fmt.Errorf("%w: dim[0]=%d", ErrNotNIfTI1, h.Dim[0])
	}

	return h, order, nil
}

func (h Header) encode(order binary.ByteOrder) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, order, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dims returns dim[1..dim[0]].
func (h Header) Dims() []int {
	n := int(h.Dim[0])
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(h.Dim[i+1])
	}
	return out
}

// SpatialDims returns the first three dimensions, padding with 1 for volumes
// with fewer than three.
func (h Header) SpatialDims() [3]int {
	out := [3]int{1, 1, 1}
	for i, d := range h.Dims() {
		if i > 2 {
			break
		}
		out[i] = d
	}
	return out
}

// NumVoxels is the product of all dimensions.
func (h Header) NumVoxels() int {
	n := 1
	for _, d := range h.Dims() {
		if d > 0 {
			n *= d
		}
	}
	return n
}

func (h Header) voxOffset() int {
	off := int(h.VoxOffset)
	if off < minVoxOffset {
		off = minVoxOffset
	}
	return off
}

// scaling returns the slope and intercept used to map stored values to real
// values. A zero slope means no scaling.
func (h Header) scaling() (slope, inter float64) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter
}

// Affine returns the voxel to world transform: the sform when set, then the
// qform, and otherwise a diagonal matrix of the voxel sizes.
func (h Header) Affine() *mat.Dense {
	switch {
	case h.SFormCode > 0:
		data := make([]float64, 0, 16)
		for _, row := range [3][4]float32{h.SRowX, h.SRowY, h.SRowZ} {
			for _, v := range row {
				data = append(data, float64(v))
			}
		}
		data = append(data, 0, 0, 0, 1)
		return mat.NewDense(4, 4, data)
	case h.QFormCode > 0:
		return h.qformAffine()
	}

	a := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		d := float64(h.PixDim[i+1])
		if d == 0 {
			d = 1
		}
		a.Set(i, i, d)
	}
	a.Set(3, 3, 1)
	return a
}

func (h Header) qformAffine() *mat.Dense {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// Rotation by 180 degrees; renormalise b, c, d.
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*n, c*n, d*n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	dx, dy, dz := float64(h.PixDim[1]), float64(h.PixDim[2]), float64(h.PixDim[3])
	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}
	if dz <= 0 {
		dz = 1
	}
	qfac := float64(h.PixDim[0])
	if qfac >= 0 {
		qfac = 1
	} else {
		qfac = -1
	}
	dz *= qfac

	return mat.NewDense(4, 4, []float64{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QOffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QOffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QOffsetZ),
		0, 0, 0, 1,
	})
}
