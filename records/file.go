package records

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/kardolus/shellpilot/internal/fsio"
)

// Ensure FileStore implements the Store interface
var _ Store = &FileStore{}

// FileStore keeps one JSON document per run in baseDir.
type FileStore struct {
	baseDir string
	reader  fsio.Reader
	writer  fsio.Writer
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{
		baseDir: baseDir,
		reader:  fsio.NewRealReader(),
		writer:  fsio.NewRealWriter(),
	}
}

func (f *FileStore) Append(_ context.Context, r Record) error {
	if r.RunID == "" {
		return errors.New("record is missing a run id")
	}
	if err := f.writer.MkdirAll(f.baseDir); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return f.writer.WriteFile(f.pathFor(r.RunID), data)
}

// List returns every stored record, oldest first. Unreadable files are skipped.
func (f *FileStore) List(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []Record
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := f.reader.ReadFile(filepath.Join(f.baseDir, name))
		if err != nil {
			continue
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		out = append(out, r)
	}

	sortByStart(out)
	return out, nil
}

func (f *FileStore) pathFor(runID string) string {
	// run ids are generated slugs, safe as file names
	return filepath.Join(f.baseDir, runID+".json")
}
