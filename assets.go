package deface

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/osext"
)

const (
	TemplateFilename = "mean_reg2mean.nii.gz"
	FacemaskFilename = "facemask.nii.gz"

	// DataEnv names a directory holding the bundled volumes.
	DataEnv = "DEFACE_DATA"
)

var (
	ErrMissingTemplate = errors.New("missing template")
	ErrMissingFacemask = errors.New("missing face mask")
)

// Assets are the reference volumes shipped with the tool: a mean brain
// template and a face mask drawn in the template's space.
type Assets struct {
	Template string
	Facemask string
}

// AssetsIn returns the bundled file names inside dir.
func AssetsIn(dir string) Assets {
	return Assets{
		Template: filepath.Join(dir, TemplateFilename),
		Facemask: filepath.Join(dir, FacemaskFilename),
	}
}

// FindAssets picks the first directory containing the template, searching,
// in order: dir (if non-empty), $DEFACE_DATA, then data/ and
// ../share/deface/ beside the executable. When nothing matches, the first
// candidate is returned so that Check names a concrete path.
func FindAssets(dir string) Assets {
	var candidates []string
	if dir != "" {
		candidates = append(candidates, dir)
	}
	if env := os.Getenv(DataEnv); env != "" {
		candidates = append(candidates, env)
	}
	if folder, err := osext.ExecutableFolder(); err == nil {
		candidates = append(candidates,
			filepath.Join(folder, "data"),
			filepath.Join(folder, "..", "share", "deface"),
		)
	}
	if len(candidates) == 0 {
		candidates = append(candidates, "data")
	}

	for _, c := range candidates {
		if _, err := os.Stat(filepath.Join(c, TemplateFilename)); err == nil {
			return AssetsIn(c)
		}
	}

	return AssetsIn(candidates[0])
}

// Check fails if either reference volume is absent.
func (a Assets) Check() error {
	if _, err := os.Stat(a.Template); err != nil {
		return fmt.Errorf("%w: %s", ErrMissingTemplate, a.Template)
	}
	if _, err := os.Stat(a.Facemask); err != nil {
		return fmt.Errorf("%w: %s", ErrMissingFacemask, a.Facemask)
	}
	return nil
}
