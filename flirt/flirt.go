// Package flirt runs FSL's FLIRT affine registration tool as a subprocess.
package flirt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/carbocation/pfx"
	"github.com/sirupsen/logrus"
)

var ErrNoFSLDIR = errors.New("FSL must be installed and FSLDIR environment variable must be defined")

const (
	DefaultCost       = "mutualinfo"
	DefaultOutputType = "NIFTI_GZ"
)

// Error is returned when flirt exits unsuccessfully.
type Error struct {
	Args   []string
	Output []byte
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v\n%s", strings.Join(e.Args, " "), e.Err, bytes.TrimSpace(e.Output))
}

func (e *Error) Unwrap() error { return e.Err }

// Runner invokes $FSLDIR/bin/flirt.
type Runner struct {
	FSLDir string

	// Binary overrides $FSLDIR/bin/flirt when set.
	Binary string

	// Cost is the cost function used when estimating a transform.
	Cost string

	// Interp is the interpolation used when applying a transform. Empty
	// leaves flirt's default (trilinear).
	Interp string

	// OutputType is exported to flirt as FSLOUTPUTTYPE.
	OutputType string

	// Timeout bounds each invocation. Zero means no limit.
	Timeout time.Duration

	Log logrus.FieldLogger
}

// New returns a Runner for the FSL installation at fslDir.
func New(fslDir string) *Runner {
	return &Runner{
		FSLDir:     fslDir,
		Cost:       DefaultCost,
		OutputType: DefaultOutputType,
	}
}

// FromEnv returns a Runner for the installation named by $FSLDIR.
func FromEnv() *Runner {
	return New(os.Getenv("FSLDIR"))
}

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return filepath.Join(r.FSLDir, "bin", "flirt")
}

func (r *Runner) log() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return logrus.StandardLogger()
}

// Ready reports whether FSL is configured. It touches nothing but the
// environment and the flirt binary.
func (r *Runner) Ready() error {
	if r.FSLDir == "" {
		return ErrNoFSLDIR
	}
	if _, err := os.Stat(r.binary()); err != nil {
		return pfx.Err(fmt.Errorf("flirt not found under FSLDIR=%s: %w", r.FSLDir, err))
	}
	return nil
}

// Register estimates the affine transform taking in onto ref and writes it to
// omat.
func (r *Runner) Register(ctx context.Context, in, ref, omat string) error {
	cost := r.Cost
	if cost == "" {
		cost = DefaultCost
	}

	return r.run(ctx, "-in", in, "-ref", ref, "-omat", omat, "-cost", cost)
}

// ApplyXFM resamples in onto the grid of ref through the transform stored in
// init, without re-estimating it.
func (r *Runner) ApplyXFM(ctx context.Context, in, ref, init, out string) error {
	args := []string{"-in", in, "-ref", ref, "-applyxfm", "-init", init, "-out", out}
	if r.Interp != "" {
		args = append(args, "-interp", r.Interp)
	}

	return r.run(ctx, args...)
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	if err := r.Ready(); err != nil {
		return err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	outputType := r.OutputType
	if outputType == "" {
		outputType = DefaultOutputType
	}

	cmd := exec.CommandContext(ctx, r.binary(), args...)
	cmd.Env = append(os.Environ(), "FSLDIR="+r.FSLDir, "FSLOUTPUTTYPE="+outputType)

	r.log().WithField("args", strings.Join(cmd.Args, " ")).Debug("Running flirt")

	started := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{Args: cmd.Args, Output: out, Err: err}
	}

	r.log().WithField("elapsed", time.Since(started).Round(time.Millisecond)).Debug("flirt finished")

	return nil
}
