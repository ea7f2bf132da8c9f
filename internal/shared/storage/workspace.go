package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Workspace is a private directory holding one composition's staged inputs,
// intermediates and output. It is removed on Close.
type Workspace struct {
	ID  string
	dir string

	mu     sync.Mutex
	files  map[string][]string
	closed bool
}

// NewWorkspace creates root/<uuid>.
func NewWorkspace(root string) (*Workspace, error) {
	id := uuid.New().String()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{ID: id, dir: dir, files: make(map[string][]string)}, nil
}

// Dir is the workspace root.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins name onto the workspace root.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Stage copies r into the workspace under field and returns the staged path
// and byte count. Files keep their upload order per field; the original
// name only contributes its extension.
func (w *Workspace) Stage(field, name string, r io.Reader) (string, int64, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return "", 0, fmt.Errorf("workspace %s is closed", w.ID)
	}
	index := len(w.files[field])
	w.files[field] = append(w.files[field], "")
	w.mu.Unlock()

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%03d%s", safeField(field), index, strings.ToLower(filepath.Ext(name))))
	f, err := os.Create(path)
	if err != nil {
		w.drop(field, index)
		return "", 0, fmt.Errorf("failed to stage %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		w.drop(field, index)
		return "", 0, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	w.mu.Lock()
	w.files[field][index] = path
	w.mu.Unlock()
	return path, n, nil
}

func (w *Workspace) drop(field string, index int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[field][index] = ""
}

// Files returns the staged paths grouped by field, in staging order.
func (w *Workspace) Files() map[string][]string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string][]string, len(w.files))
	for field, paths := range w.files {
		for _, p := range paths {
			if p != "" {
				out[field] = append(out[field], p)
			}
		}
	}
	return out
}

// Close removes the workspace. It is safe to call more than once.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	return os.RemoveAll(w.dir)
}

func safeField(field string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, field)
}
