package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalBackend stores objects as files below a base directory, one
// subdirectory per zone.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates the zone directories under root.
func NewLocalBackend(root string) (*LocalBackend, error) {
	for _, zone := range Zones {
		dir := filepath.Join(root, string(zone))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &LocalBackend{root: root}, nil
}

// file maps a key to its path, refusing keys that escape the root.
func (b *LocalBackend) file(key string) (string, error) {
	clean := path.Clean(key)
	if clean != key || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// Put writes to a temporary file and renames it into place, so readers never
// see a partial object.
func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	dst, err := b.file(key)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dst)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}

func (b *LocalBackend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := b.file(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (b *LocalBackend) Remove(ctx context.Context, key string) error {
	name, err := b.file(key)
	if err != nil {
		return err
	}
	err = os.Remove(name)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (b *LocalBackend) Stat(ctx context.Context, key string) (int64, error) {
	name, err := b.file(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(name)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Sweep removes top-level entries of a zone older than before. Workspaces are
// directories and go as a whole.
func (b *LocalBackend) Sweep(ctx context.Context, zone Zone, before time.Time) (int, error) {
	dir := filepath.Join(b.root, string(zone))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
