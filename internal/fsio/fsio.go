package fsio

import (
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=../../agent/planner/fsiomocks_test.go -package=planner_test github.com/kardolus/shellpilot/internal/fsio Reader,Writer
type Reader interface {
	ReadFile(name string) ([]byte, error)
}

type Writer interface {
	MkdirAll(path string) error
	WriteFile(name string, data []byte) error
}

type RealReader struct{}

func NewRealReader() *RealReader { return &RealReader{} }

func (r *RealReader) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

type RealWriter struct{}

func NewRealWriter() *RealWriter { return &RealWriter{} }

func (w *RealWriter) MkdirAll(path string) error { return os.MkdirAll(path, 0o755) }

// WriteFile replaces name atomically: the data goes to a temp file in the
// same directory which is then renamed over the destination.
func (w *RealWriter) WriteFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, name)
}
