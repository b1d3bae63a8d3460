package main

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/henghuang/nifti"
)

// writePreview renders the mid-sagittal slice of the volume at filename as a
// PNG, superior side up, stretched so that pixels are square in millimetres.
// It is the quickest way to eyeball whether the face was removed.
func writePreview(filename, output string) error {
	img, hdr, err := loadNifti(filename)
	if err != nil {
		return err
	}

	preview := sagittalSlice(img)

	dy, dz := float64(hdr.Pixdim[2]), float64(hdr.Pixdim[3])
	if dy > 0 && dz > 0 && dy != dz {
		bounds := preview.Bounds()
		height := int(math.Round(float64(bounds.Dy()) * dz / dy))
		preview = imaging.Resize(preview, bounds.Dx(), height, imaging.Lanczos)
	}

	return imaging.Save(preview, output)
}

func sagittalSlice(input nifti.Nifti1Image) *image.NRGBA {
	dims := input.GetDims()
	xm, ym, zm := int(dims[0]), int(dims[1]), int(dims[2])
	x := xm / 2

	maxIntensity := 0.0
	for y := 0; y < ym; y++ {
		for z := 0; z < zm; z++ {
			if intensity := float64(input.GetAt(x, y, z, 0)); intensity > maxIntensity {
				maxIntensity = intensity
			}
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, ym, zm))
	for y := 0; y < ym; y++ {
		for z := 0; z < zm; z++ {
			intensity := float64(input.GetAt(x, y, z, 0))
			// Image rows run top-down; z runs inferior to superior.
			out.Set(y, zm-1-z, color.Gray16{Y: applyPythonicWindowScaling(intensity, maxIntensity)})
		}
	}

	return out
}

func applyPythonicWindowScaling(intensity, maxIntensity float64) uint16 {
	if intensity < 0 || maxIntensity <= 0 {
		return 0
	}

	return uint16(float64(math.MaxUint16) * intensity / maxIntensity)
}
