package volume

import (
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/carbocation/pfx"
)

var (
	ErrNotNIfTI1           = errors.New("not a single-file NIfTI-1 volume")
	ErrUnsupportedDatatype = errors.New("unsupported NIfTI datatype")
	ErrTruncated           = errors.New("voxel data is shorter than the header declares")
	ErrShapeMismatch       = errors.New("mask and subject grids differ")
)

// Volume is a decoded NIfTI-1 file. The bytes preceding the voxel payload
// (header, extender and extensions) are retained untouched so that a volume
// written back out carries exactly the metadata it was read with.
type Volume struct {
	Order binary.ByteOrder

	hdr    Header
	prefix []byte
	data   []byte
}

// Read loads a .nii or compressed .nii volume from path.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	rc, err := MaybeDecompress(f)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	defer rc.Close()

	v, err := Decode(rc)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return v, nil
}

// Decode parses an uncompressed NIfTI-1 stream.
func Decode(r io.Reader) (*Volume, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	h, order, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if err := h.Datatype.check(); err != nil {
		return nil, err
	}

	off := h.voxOffset()
	want := h.NumVoxels() * h.Datatype.Size()
	if len(raw) < off+want {
		return nil, fmt.Errorf("%w: have %d bytes after offset %d, want %d", ErrTruncated, len(raw)-off, off, want)
	}

	return &Volume{
		Order:  order,
		hdr:    h,
		prefix: raw[:off],
		data:   raw[off : off+want],
	}, nil
}

// New builds an empty little-endian volume with the given grid, datatype and
// voxel sizes. The sform is set to the diagonal of pixdim.
func New(dims []int, dt Datatype, pixdim []float64) (*Volume, error) {
	if len(dims) < 1 || len(dims) > 7 {
		return nil, fmt.Errorf("volume must have 1 to 7 dimensions, got %d", len(dims))
	}
	if err := dt.check(); err != nil {
		return nil, err
	}

	var h Header
	h.SizeOfHdr = sizeofHdrNII1
	h.Dim[0] = int16(len(dims))
	for i := range h.Dim[1:] {
		h.Dim[i+1] = 1
	}
	for i, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("dimension %d is %d", i, d)
		}
		h.Dim[i+1] = int16(d)
	}
	h.Datatype = dt
	h.BitPix = int16(dt.Size() * 8)
	h.PixDim[0] = 1
	for i := range h.PixDim[1:] {
		h.PixDim[i+1] = 1
	}
	for i, p := range pixdim {
		if i >= 7 {
			break
		}
		h.PixDim[i+1] = float32(p)
	}
	h.VoxOffset = minVoxOffset
	h.SclSlope = 1
	h.XYZTUnits = 2 | 8 // mm, sec
	h.SFormCode = 1
	h.SRowX = [4]float32{h.PixDim[1], 0, 0, 0}
	h.SRowY = [4]float32{0, h.PixDim[2], 0, 0}
	h.SRowZ = [4]float32{0, 0, h.PixDim[3], 0}
	h.Magic = [4]byte{'n', '+', '1', 0}

	order := binary.LittleEndian
	hb, err := h.encode(order)
	if err != nil {
		return nil, err
	}
	// Four zero bytes of extender: no extensions follow.
	prefix := append(hb, 0, 0, 0, 0)

	return &Volume{
		Order:  order,
		hdr:    h,
		prefix: prefix,
		data:   make([]byte, h.NumVoxels()*dt.Size()),
	}, nil
}

// Header returns a copy of the decoded header. Changing it has no effect on
// the volume; use SetScaling to change what is written.
func (v *Volume) Header() Header {
	return v.hdr
}

// SetScaling replaces scl_slope and scl_inter in both the decoded header and
// the stored header bytes. Stored voxel values are left as they are, so their
// real values change.
func (v *Volume) SetScaling(slope, inter float32) error {
	h := v.hdr
	h.SclSlope, h.SclInter = slope, inter
	hb, err := h.encode(v.Order)
	if err != nil {
		return err
	}
	copy(v.prefix[:headerSize], hb)
	v.hdr = h
	return nil
}

// Len is the number of voxels.
func (v *Volume) Len() int {
	return len(v.data) / v.hdr.Datatype.Size()
}

// At returns the scaled value of the i-th voxel in file order.
func (v *Volume) At(i int) float64 {
	slope, inter := v.hdr.scaling()
	return v.Raw(i)*slope + inter
}

// Raw returns the stored, unscaled value of the i-th voxel.
func (v *Volume) Raw(i int) float64 {
	sz := v.hdr.Datatype.Size()
	return v.hdr.Datatype.decode(v.Order, v.data[i*sz:(i+1)*sz])
}

// Set stores the scaled value x at voxel i, inverting scl_slope/scl_inter.
func (v *Volume) Set(i int, x float64) {
	slope, inter := v.hdr.scaling()
	sz := v.hdr.Datatype.Size()
	v.hdr.Datatype.encode(v.Order, v.data[i*sz:(i+1)*sz], (x-inter)/slope)
}

// HeaderBytes returns a copy of everything that precedes the voxel payload.
func (v *Volume) HeaderBytes() []byte {
	return append([]byte(nil), v.prefix...)
}

// Clone returns a deep copy sharing no buffers with v.
func (v *Volume) Clone() *Volume {
	return &Volume{
		Order:  v.Order,
		hdr:    v.hdr,
		prefix: append([]byte(nil), v.prefix...),
		data:   append([]byte(nil), v.data...),
	}
}

// Write stores v at path, gzip-compressed when path ends in .gz. Existing
// files are never overwritten.
func Write(path string, v *Volume) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return pfx.Err(err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = pfx.Err(cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	if err := v.Encode(w); err != nil {
		return pfx.Err(err)
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return pfx.Err(err)
		}
	}

	return nil
}

// Encode writes the uncompressed NIfTI-1 representation of v to w.
func (v *Volume) Encode(w io.Writer) error {
	if _, err := w.Write(v.prefix); err != nil {
		return err
	}
	_, err := w.Write(v.data)
	return err
}
