package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	for level, want := range map[string]logrus.Level{
		"debug":  logrus.DebugLevel,
		"warn":   logrus.WarnLevel,
		"error":  logrus.ErrorLevel,
		"":       logrus.InfoLevel,
		"chatty": logrus.InfoLevel,
	} {
		l, closer, err := New(level, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := closer.Close(); err != nil {
			t.Fatal(err)
		}
		if l.GetLevel() != want {
			t.Errorf("New(%q) level = %v, want %v", level, l.GetLevel(), want)
		}
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deface.log")

	l, closer, err := New("info", path)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("Output saved")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "Output saved") {
		t.Fatalf("log file does not contain the message: %q", b)
	}
}
