package main

import (
	"fmt"

	"github.com/henghuang/nifti"
	"github.com/montanaflynn/stats"
)

// Verification is an independent readback of a defaced volume against its
// input, performed with a different NIfTI reader than the one that wrote it.
type Verification struct {
	Dims [4]int

	// SliceRemoved holds, for each z slice, the fraction of the input's
	// non-zero voxels that are zero in the output.
	SliceRemoved []float64

	MeanRemoved float64
	MaxRemoved  float64
	MaxSlice    int
}

// loadNifti reads both the image and header of filename. The nifti library
// panics on malformed input, so panics are turned into errors here.
func loadNifti(filename string) (img nifti.Nifti1Image, hdr nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%s: %v", filename, panicErr)
		}
	}()

	img.LoadImage(filename, true)
	hdr.LoadHeader(filename)

	return
}

func verifyOutput(input, output string) (*Verification, error) {
	in, inHdr, err := loadNifti(input)
	if err != nil {
		return nil, err
	}
	out, outHdr, err := loadNifti(output)
	if err != nil {
		return nil, err
	}

	v := &Verification{}
	inDims, outDims := in.GetDims(), out.GetDims()
	for i := 0; i < 4; i++ {
		if inDims[i] != outDims[i] {
			return nil, fmt.Errorf("dimension %d differs: input %d, output %d", i, inDims[i], outDims[i])
		}
		v.Dims[i] = int(inDims[i])
	}
	for i := 1; i <= 3; i++ {
		if inHdr.Pixdim[i] != outHdr.Pixdim[i] {
			return nil, fmt.Errorf("pixdim[%d] differs: input %g, output %g", i, inHdr.Pixdim[i], outHdr.Pixdim[i])
		}
	}

	xm, ym, zm, tm := v.Dims[0], v.Dims[1], v.Dims[2], v.Dims[3]
	if tm < 1 {
		tm = 1
	}

	v.SliceRemoved = make([]float64, zm)
	for z := 0; z < zm; z++ {
		var nonzero, removed int
		for t := 0; t < tm; t++ {
			for x := 0; x < xm; x++ {
				for y := 0; y < ym; y++ {
					if in.GetAt(x, y, z, t) == 0 {
						continue
					}
					nonzero++
					if out.GetAt(x, y, z, t) == 0 {
						removed++
					}
				}
			}
		}
		if nonzero > 0 {
			v.SliceRemoved[z] = float64(removed) / float64(nonzero)
		}
	}

	if err := v.summarize(); err != nil {
		return nil, err
	}

	return v, nil
}

func (v *Verification) summarize() error {
	if len(v.SliceRemoved) == 0 {
		return nil
	}

	var err error
	if v.MeanRemoved, err = stats.Mean(v.SliceRemoved); err != nil {
		return err
	}
	if v.MaxRemoved, err = stats.Max(v.SliceRemoved); err != nil {
		return err
	}
	for z, f := range v.SliceRemoved {
		if f == v.MaxRemoved {
			v.MaxSlice = z
			break
		}
	}

	return nil
}
