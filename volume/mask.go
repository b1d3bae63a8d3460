package volume

import (
	"fmt"
	"math"
)

// ApplyMask multiplies every voxel of subject by the co-located voxel of mask
// and returns the product as a new volume carrying subject's header bytes.
//
// The mask must share the subject's first three dimensions. Subjects with more
// dimensions (e.g. a 4D time series) have the same 3D mask applied to every
// volume. Products are stored in the subject's datatype and scaling, so a
// fully masked voxel holds the subject's ZeroValue.
func ApplyMask(subject, mask *Volume) (*Volume, error) {
	sdims, mdims := subject.hdr.SpatialDims(), mask.hdr.SpatialDims()
	if sdims != mdims {
		return nil, fmt.Errorf("%w: subject %v, mask %v", ErrShapeMismatch, sdims, mdims)
	}

	n3 := sdims[0] * sdims[1] * sdims[2]
	if mask.Len() < n3 {
		return nil, fmt.Errorf("%w: mask holds %d voxels, need %d", ErrShapeMismatch, mask.Len(), n3)
	}

	weights := make([]float64, n3)
	for i := range weights {
		weights[i] = mask.At(i)
	}

	out := subject.Clone()
	sz := out.hdr.Datatype.Size()
	slope, inter := out.hdr.scaling()

	for i, n := 0, out.Len(); i < n; i++ {
		w := weights[i%n3]
		switch {
		case w == 1:
			// Unchanged; keep the stored bytes exactly.
		case w == 0 && inter == 0:
			b := out.data[i*sz : (i+1)*sz]
			for j := range b {
				b[j] = 0
			}
		default:
			out.Set(i, (subject.Raw(i)*slope+inter)*w)
		}
	}

	return out, nil
}

// ZeroValue returns the real value v holds when 0 is stored into it, and
// whether that is 0. Integer datatypes whose scl_inter puts 0 out of range
// (e.g. uint8 with a positive intercept) saturate to the nearest storable
// value instead.
func (v *Volume) ZeroValue() (float64, bool) {
	slope, inter := v.hdr.scaling()
	b := make([]byte, v.hdr.Datatype.Size())
	v.hdr.Datatype.encode(v.Order, b, -inter/slope)
	z := v.hdr.Datatype.decode(v.Order, b)*slope + inter

	// Float datatypes round -inter/slope; allow for that.
	return z, math.Abs(z) <= 1e-6*math.Max(1, math.Abs(inter))
}

// CountRemoved returns how many voxels of masked hold subject's ZeroValue
// where subject did not.
func CountRemoved(subject, masked *Volume) int {
	z, _ := subject.ZeroValue()
	var n int
	for i, l := 0, subject.Len(); i < l && i < masked.Len(); i++ {
		if subject.At(i) != z && masked.At(i) == z {
			n++
		}
	}
	return n
}
