package deface

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbocation/deface/flirt"
	"github.com/carbocation/deface/volume"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// identityRegistrar stands in for FLIRT when subject and template share a
// grid: registration yields the identity and resampling is a copy.
type identityRegistrar struct {
	calls    []string
	applyErr error
}

func (r *identityRegistrar) Ready() error { return nil }

func (r *identityRegistrar) Register(ctx context.Context, in, ref, omat string) error {
	r.calls = append(r.calls, "register "+filepath.Base(in)+" "+filepath.Base(ref))
	return flirt.WriteMatrix(omat, mat.NewDiagDense(4, []float64{1, 1, 1, 1}))
}

func (r *identityRegistrar) ApplyXFM(ctx context.Context, in, ref, init, out string) error {
	r.calls = append(r.calls, "applyxfm "+filepath.Base(in)+" "+filepath.Base(ref))
	if r.applyErr != nil {
		return r.applyErr
	}
	if _, err := os.Stat(init); err != nil {
		return err
	}

	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

type fixture struct {
	dir     string
	assets  Assets
	subject string
}

// newFixture writes a subject identical to the template, and a face mask
// that zeroes the lowest slab along the second axis.
func newFixture(t *testing.T, subjectName string) fixture {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.Mkdir(dataDir, 0755); err != nil {
		t.Fatal(err)
	}

	dims := []int{6, 5, 4}
	brain, err := volume.New(dims, volume.DTInt16, []float64{2, 2, 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < brain.Len(); i++ {
		brain.Set(i, float64(100+i))
	}
	mask, err := volume.New(dims, volume.DTUint8, []float64{2, 2, 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < mask.Len(); i++ {
		if y := (i / dims[0]) % dims[1]; y > 1 {
			mask.Set(i, 1)
		}
	}

	assets := AssetsIn(dataDir)
	subject := filepath.Join(dir, subjectName)
	for path, v := range map[string]*volume.Volume{
		assets.Template: brain,
		assets.Facemask: mask,
		subject:         brain,
	} {
		if err := volume.Write(path, v); err != nil {
			t.Fatal(err)
		}
	}

	return fixture{dir: dir, assets: assets, subject: subject}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDefaceIdentityRoundTrip(t *testing.T) {
	for _, name := range []string{"sub-01_T1w.nii", "sub-01_T1w.nii.gz"} {
		fx := newFixture(t, name)
		reg := &identityRegistrar{}
		d := &Defacer{Assets: fx.assets, Registrar: reg, TempDir: fx.dir, Log: quietLogger()}

		res, err := d.Deface(context.Background(), fx.subject, "")
		if err != nil {
			t.Fatal(err)
		}

		if want := DefaultOutputPath(fx.subject); res.Output != want {
			t.Errorf("output = %s, want %s", res.Output, want)
		}

		subject, err := volume.Read(fx.subject)
		if err != nil {
			t.Fatal(err)
		}
		mask, err := volume.Read(fx.assets.Facemask)
		if err != nil {
			t.Fatal(err)
		}
		out, err := volume.Read(res.Output)
		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(out.HeaderBytes(), subject.HeaderBytes()) {
			t.Errorf("%s: output header differs from subject header", name)
		}
		if !mat.Equal(out.Header().Affine(), subject.Header().Affine()) {
			t.Errorf("%s: output affine differs from subject affine", name)
		}

		removed := 0
		for i := 0; i < subject.Len(); i++ {
			want := subject.At(i) * mask.At(i)
			if out.At(i) != want {
				t.Fatalf("%s: voxel %d = %g, want %g", name, i, out.At(i), want)
			}
			if want == 0 {
				removed++
			}
		}
		if res.Removed != removed || res.Voxels != subject.Len() {
			t.Errorf("%s: removed %d of %d, want %d of %d", name, res.Removed, res.Voxels, removed, subject.Len())
		}

		if !mat.Equal(res.Transform, mat.NewDiagDense(4, []float64{1, 1, 1, 1})) {
			t.Errorf("%s: transform is not the identity", name)
		}

		wantCalls := []string{
			"register " + TemplateFilename + " " + name,
			"applyxfm " + FacemaskFilename + " " + name,
		}
		if len(reg.calls) != 2 || reg.calls[0] != wantCalls[0] || reg.calls[1] != wantCalls[1] {
			t.Errorf("%s: registrar calls = %q, want %q", name, reg.calls, wantCalls)
		}

		if _, err := os.Stat(res.Workspace); !os.IsNotExist(err) {
			t.Errorf("%s: workspace %s still exists after success", name, res.Workspace)
		}
	}
}

func TestDefaceSubjectWithoutStorableZero(t *testing.T) {
	fx := newFixture(t, "offset.nii")
	if err := os.Remove(fx.subject); err != nil {
		t.Fatal(err)
	}
	subject, err := volume.New([]int{6, 5, 4}, volume.DTUint8, []float64{2, 2, 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := subject.SetScaling(1, 10); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < subject.Len(); i++ {
		subject.Set(i, 50)
	}
	if err := volume.Write(fx.subject, subject); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	l := logrus.New()
	l.SetOutput(&logs)
	l.SetLevel(logrus.DebugLevel)
	d := &Defacer{Assets: fx.assets, Registrar: &identityRegistrar{}, TempDir: fx.dir, Log: l}

	res, err := d.Deface(context.Background(), fx.subject, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(logs.String(), "cannot store 0") {
		t.Errorf("no warning about the intercept in log output:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "Subject voxel to world affine") {
		t.Errorf("subject affine not logged at debug level:\n%s", logs.String())
	}

	// The mask zeroes the first two rows of every slice.
	if want := 6 * 2 * 4; res.Removed != want {
		t.Errorf("removed %d voxels, want %d", res.Removed, want)
	}

	out, err := volume.Read(res.Output)
	if err != nil {
		t.Fatal(err)
	}
	if out.At(0) != 10 || out.At(out.Len()-1) != 50 {
		t.Errorf("masked voxel = %g, kept voxel = %g, want 10 and 50", out.At(0), out.At(out.Len()-1))
	}
}

func TestDefaceExplicitOutput(t *testing.T) {
	fx := newFixture(t, "subject.nii.gz")
	out := filepath.Join(fx.dir, "anon.nii")
	d := &Defacer{Assets: fx.assets, Registrar: &identityRegistrar{}, TempDir: fx.dir, Log: quietLogger()}

	res, err := d.Deface(context.Background(), fx.subject, out)
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != out {
		t.Fatalf("output = %s, want %s", res.Output, out)
	}
	if _, err := volume.Read(out); err != nil {
		t.Fatal(err)
	}
}

func TestDefaceRefusesExistingOutput(t *testing.T) {
	fx := newFixture(t, "subject.nii")
	out := DefaultOutputPath(fx.subject)
	if err := os.WriteFile(out, []byte("precious"), 0644); err != nil {
		t.Fatal(err)
	}

	reg := &identityRegistrar{}
	d := &Defacer{Assets: fx.assets, Registrar: reg, TempDir: fx.dir, Log: quietLogger()}

	if _, err := d.Deface(context.Background(), fx.subject, ""); !errors.Is(err, ErrOutputExists) {
		t.Fatalf("got %v, want ErrOutputExists", err)
	}
	if len(reg.calls) != 0 {
		t.Fatalf("registration ran despite existing output: %q", reg.calls)
	}

	// An input without .nii maps onto itself and is refused the same way.
	img := filepath.Join(fx.dir, "scan.img")
	if err := os.WriteFile(img, []byte("analyze"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Deface(context.Background(), img, ""); !errors.Is(err, ErrOutputExists) {
		t.Fatalf("got %v, want ErrOutputExists", err)
	}
	if len(reg.calls) != 0 {
		t.Fatalf("registration ran despite existing output: %q", reg.calls)
	}
}

func TestDefaceWithoutFSLDIR(t *testing.T) {
	fx := newFixture(t, "subject.nii")
	missing := filepath.Join(fx.dir, "does-not-exist.nii")

	d := &Defacer{Assets: fx.assets, Registrar: flirt.New(""), TempDir: fx.dir, Log: quietLogger()}

	if _, err := d.Deface(context.Background(), missing, ""); !errors.Is(err, flirt.ErrNoFSLDIR) {
		t.Fatalf("got %v, want ErrNoFSLDIR", err)
	}

	entries, err := os.ReadDir(fx.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != "data" {
			t.Errorf("unexpected workspace %s left behind", e.Name())
		}
	}
}

func TestDefaceMissingAssets(t *testing.T) {
	fx := newFixture(t, "subject.nii")
	reg := &identityRegistrar{}

	for _, tc := range []struct {
		assets Assets
		want   error
	}{
		{Assets{Template: filepath.Join(fx.dir, "nope.nii.gz"), Facemask: fx.assets.Facemask}, ErrMissingTemplate},
		{Assets{Template: fx.assets.Template, Facemask: filepath.Join(fx.dir, "nope.nii.gz")}, ErrMissingFacemask},
	} {
		d := &Defacer{Assets: tc.assets, Registrar: reg, TempDir: fx.dir, Log: quietLogger()}
		if _, err := d.Deface(context.Background(), fx.subject, ""); !errors.Is(err, tc.want) {
			t.Errorf("got %v, want %v", err, tc.want)
		}
	}
	if len(reg.calls) != 0 {
		t.Fatalf("registration ran without assets: %q", reg.calls)
	}
}

func TestDefaceCleansUpOnFailure(t *testing.T) {
	fx := newFixture(t, "subject.nii")
	boom := errors.New("flirt exploded")
	d := &Defacer{Assets: fx.assets, Registrar: &identityRegistrar{applyErr: boom}, TempDir: fx.dir, Log: quietLogger()}

	if _, err := d.Deface(context.Background(), fx.subject, ""); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}

	entries, err := os.ReadDir(fx.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() != "data" {
			t.Errorf("workspace %s left behind after failure", e.Name())
		}
	}
	if _, err := os.Stat(DefaultOutputPath(fx.subject)); !os.IsNotExist(err) {
		t.Error("output written despite failure")
	}
}

func TestDefaceKeepTemps(t *testing.T) {
	fx := newFixture(t, "subject.nii")
	d := &Defacer{Assets: fx.assets, Registrar: &identityRegistrar{}, TempDir: fx.dir, KeepTemps: true, Log: quietLogger()}

	res, err := d.Deface(context.Background(), fx.subject, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"template_to_subject.mat", "facemask_warped.nii.gz"} {
		if _, err := os.Stat(filepath.Join(res.Workspace, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}
