// Package deface removes facial anatomy from structural brain volumes. A mean
// brain template is registered onto the subject with FSL FLIRT, a face mask
// drawn in template space is resampled through the resulting affine, and the
// subject voxels are multiplied by it. The subject header is written back
// unchanged.
package deface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/carbocation/deface/flirt"
	"github.com/carbocation/deface/volume"
	"github.com/carbocation/pfx"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var ErrOutputExists = errors.New("output already exists, remove it first")

// Registrar is the registration toolkit. *flirt.Runner satisfies it.
type Registrar interface {
	// Ready fails when the toolkit is not installed or configured.
	Ready() error

	// Register estimates the affine taking in onto ref and saves it to omat.
	Register(ctx context.Context, in, ref, omat string) error

	// ApplyXFM resamples in onto ref's grid through the affine in init.
	ApplyXFM(ctx context.Context, in, ref, init, out string) error
}

// Defacer holds everything needed to deface any number of volumes.
type Defacer struct {
	Assets    Assets
	Registrar Registrar

	// Storage is used for gs:// inputs and outputs. It may be nil when only
	// local paths are involved.
	Storage *storage.Client

	// TempDir is the parent of each run's workspace. Empty means os.TempDir.
	TempDir string

	// KeepTemps leaves the workspace in place for inspection.
	KeepTemps bool

	Log logrus.FieldLogger
}

// Result describes a finished run.
type Result struct {
	Input  string
	Output string

	// Transform maps template space onto the subject.
	Transform *mat.Dense

	// Workspace is the temporary directory used by the run. Unless KeepTemps
	// was set it no longer exists.
	Workspace string

	// Voxels is the number of subject voxels; Removed is how many of those
	// were non-zero before masking and zero after. For subjects whose
	// scaling cannot represent 0, "zero" is the subject's ZeroValue.
	Voxels  int
	Removed int
}

func (d *Defacer) log() logrus.FieldLogger {
	if d.Log != nil {
		return d.Log
	}
	return logrus.StandardLogger()
}

// Deface writes a defaced copy of input to output. An empty output selects
// DefaultOutputPath(input). Preconditions are checked in a fixed order, and
// all before the subject is touched: bundled assets, then that output does not
// exist, then that the registration toolkit is configured.
func (d *Defacer) Deface(ctx context.Context, input, output string) (res *Result, err error) {
	log := d.log()

	if err := d.Assets.Check(); err != nil {
		return nil, err
	}

	if output == "" {
		output = DefaultOutputPath(input)
	}

	exists, err := Exists(ctx, output, d.Storage)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", output, ErrOutputExists)
	}

	if d.Registrar == nil {
		return nil, pfx.Err(errors.New("no registration toolkit configured"))
	}
	if err := d.Registrar.Ready(); err != nil {
		return nil, err
	}

	ws, err := NewWorkspace(d.TempDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if d.KeepTemps {
			log.WithField("workspace", ws.Dir).Info("Keeping temporary files")
			return
		}
		if cerr := ws.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res = &Result{Input: input, Output: output, Workspace: ws.Dir}

	transformPath := ws.Path("template_to_subject.mat")
	warpedMaskPath := ws.Path("facemask_warped.nii.gz")
	log.WithFields(logrus.Fields{
		"transform":   transformPath,
		"warped_mask": warpedMaskPath,
	}).Debug("Temporary files")

	log.Infof("Defacing...\n%s", input)

	subjectPath, err := d.stage(ctx, ws, input)
	if err != nil {
		return nil, err
	}

	// Register template to the subject
	if err := d.Registrar.Register(ctx, d.Assets.Template, subjectPath, transformPath); err != nil {
		return nil, fmt.Errorf("registering template: %w", err)
	}

	res.Transform, err = flirt.ReadMatrix(transformPath)
	if err != nil {
		return nil, err
	}
	if flirt.Degenerate(res.Transform) {
		log.Warnf("Template registration produced a singular transform:\n%s", flirt.FormatMatrix(res.Transform))
	} else {
		log.Debugf("Template to subject transform:\n%s", flirt.FormatMatrix(res.Transform))
	}

	// Warp the face mask onto the subject
	if err := d.Registrar.ApplyXFM(ctx, d.Assets.Facemask, subjectPath, transformPath, warpedMaskPath); err != nil {
		return nil, fmt.Errorf("warping face mask: %w", err)
	}

	// Multiply the mask into the subject and save
	subject, err := volume.Read(subjectPath)
	if err != nil {
		return nil, err
	}
	log.Debugf("Subject voxel to world affine:\n%s", flirt.FormatMatrix(subject.Header().Affine()))
	mask, err := volume.Read(warpedMaskPath)
	if err != nil {
		return nil, err
	}

	defaced, err := volume.ApplyMask(subject, mask)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", warpedMaskPath, err)
	}
	if z, ok := subject.ZeroValue(); !ok {
		log.Warnf("%s cannot store 0 as %s with scl_inter %g; masked voxels are set to %g instead",
			input, subject.Header().Datatype, subject.Header().SclInter, z)
	}
	res.Voxels = subject.Len()
	res.Removed = volume.CountRemoved(subject, defaced)

	if err := d.save(ctx, ws, output, defaced); err != nil {
		return nil, err
	}

	log.Infof("Output saved as:\n%s", output)

	return res, nil
}

// stage returns a local, FLIRT-readable path for input. Google Storage
// objects are downloaded and compression FSL cannot read is undone; plain and
// gzipped local files are used where they are.
func (d *Defacer) stage(ctx context.Context, ws *Workspace, input string) (string, error) {
	local := input
	if IsGoogleStorage(input) {
		local = ws.Path("subject_download" + niftiExt(input))
		d.log().WithField("path", local).Debug("Fetching subject from Google Storage")
		if err := FetchFromGoogleStorage(ctx, input, local, d.Storage); err != nil {
			return "", err
		}
	}

	compression, err := volume.DetectFileCompression(local)
	if err != nil {
		return "", pfx.Err(fmt.Errorf("%s: %w", input, err))
	}
	switch compression {
	case volume.CompressionNone, volume.CompressionGzip:
		return local, nil
	}

	staged := ws.Path("subject.nii")
	d.log().WithField("compression", compression).Debug("Decompressing subject for flirt")
	if err := decompressTo(local, staged); err != nil {
		return "", err
	}

	return staged, nil
}

func decompressTo(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return pfx.Err(err)
	}
	defer in.Close()

	rc, err := volume.MaybeDecompress(in)
	if err != nil {
		return pfx.Err(err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return pfx.Err(err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return pfx.Err(err)
	}

	return pfx.Err(out.Close())
}

func (d *Defacer) save(ctx context.Context, ws *Workspace, output string, v *volume.Volume) error {
	if !IsGoogleStorage(output) {
		return volume.Write(output, v)
	}

	local := ws.Path("defaced" + niftiExt(output))
	if err := volume.Write(local, v); err != nil {
		return err
	}

	return UploadToGoogleStorage(ctx, local, output, d.Storage)
}
