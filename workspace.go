package deface

import (
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
)

// Workspace is a private temporary directory holding one run's intermediate
// files. Close removes it and everything inside.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a fresh directory under parent, or under the system
// temp directory if parent is empty.
func NewWorkspace(parent string) (*Workspace, error) {
	dir, err := os.MkdirTemp(parent, "deface-")
	if err != nil {
		return nil, pfx.Err(err)
	}
	return &Workspace{Dir: dir}, nil
}

// Path returns the location of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

func (w *Workspace) Close() error {
	return pfx.Err(os.RemoveAll(w.Dir))
}
