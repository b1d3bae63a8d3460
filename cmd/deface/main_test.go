package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbocation/deface"
)

// testSetup writes placeholder assets and a config that logs to a file in a
// fresh directory.
func testSetup(t *testing.T) (options, string) {
	t.Helper()
	dir := t.TempDir()

	assets := deface.AssetsIn(dir)
	for _, path := range []string{assets.Template, assets.Facemask} {
		if err := os.WriteFile(path, []byte("placeholder"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	logPath := filepath.Join(dir, "deface.log")
	configPath := filepath.Join(dir, "deface.yaml")
	cfg := "logging:\n  level: info\n  file: " + logPath + "\n"
	if err := os.WriteFile(configPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	return options{configPath: configPath, dataDir: dir}, logPath
}

func TestExecuteWithoutInput(t *testing.T) {
	opts, _ := testSetup(t)

	if code := execute(opts, nil); code != 2 {
		t.Fatalf("exit status = %d, want 2", code)
	}
}

func TestExecuteFailureIsLogged(t *testing.T) {
	opts, logPath := testSetup(t)
	t.Setenv("FSLDIR", "")

	input := filepath.Join(t.TempDir(), "sub-01_T1w.nii.gz")
	if code := execute(opts, []string{input}); code != 1 {
		t.Fatalf("exit status = %d, want 1", code)
	}

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "FSLDIR") {
		t.Fatalf("log file does not record the failure: %q", b)
	}

	// The log file was released, so it can be removed and recreated.
	if err := os.Remove(logPath); err != nil {
		t.Fatal(err)
	}
}
