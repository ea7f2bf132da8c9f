package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/shorts/internal/shared/config"
)

// Zone groups stored objects by lifecycle. Each zone has its own retention.
type Zone string

const (
	ZoneUpload  Zone = "upload"
	ZoneWorking Zone = "working"
	ZoneOutput  Zone = "output"
)

// Zones lists every zone in lifecycle order.
var Zones = []Zone{ZoneUpload, ZoneWorking, ZoneOutput}

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Object describes a stored upload or render output. Key is slash separated
// and relative to the backend root, so it survives a change of base path or
// a move between backends.
type Object struct {
	ID        string
	Name      string
	Key       string
	Zone      Zone
	Size      int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Backend is a flat key/value blob store.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (int64, error)
}

// Sweeper is implemented by backends that can expire old objects in a zone.
type Sweeper interface {
	Sweep(ctx context.Context, zone Zone, before time.Time) (int, error)
}

// Presigner is implemented by backends that can hand out direct download links.
type Presigner interface {
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Service stores job inputs and outputs. Rendering always happens in a local
// Workspace; the backend only holds what must outlive a request.
type Service struct {
	backend  Backend
	basePath string
}

// NewService builds the backend named by cfg.Backend ("local" or "s3").
func NewService(cfg config.StorageConfig) (*Service, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "s3":
		backend, err = NewS3Backend(cfg)
	case "", "local":
		backend, err = NewLocalBackend(cfg.BasePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewServiceWithBackend(backend, cfg.BasePath), nil
}

// NewServiceWithBackend wraps an existing backend. basePath is where local
// workspaces are created.
func NewServiceWithBackend(backend Backend, basePath string) *Service {
	return &Service{backend: backend, basePath: basePath}
}

// Retention is how long objects in a zone are kept.
func Retention(zone Zone) time.Duration {
	switch zone {
	case ZoneUpload:
		return 24 * time.Hour
	case ZoneWorking:
		return 4 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Store writes r under a fresh key in zone. The key keeps the extension of
// originalName so renders can still tell images from videos.
func (s *Service) Store(ctx context.Context, zone Zone, originalName string, r io.Reader) (*Object, error) {
	id := uuid.New().String()
	key := path.Join(string(zone), id+filepath.Ext(originalName))

	size, err := s.backend.Put(ctx, key, r)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", originalName, err)
	}

	now := time.Now()
	return &Object{
		ID:        id,
		Name:      originalName,
		Key:       key,
		Zone:      zone,
		Size:      size,
		CreatedAt: now,
		ExpiresAt: now.Add(Retention(zone)),
	}, nil
}

func (s *Service) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Open(ctx, key)
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	err := s.backend.Remove(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.Stat(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// DownloadURL returns a presigned link when the backend supports one, or ""
// when the caller should stream the object itself.
func (s *Service) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	p, ok := s.backend.(Presigner)
	if !ok {
		return "", nil
	}
	return p.PresignDownload(ctx, key, expiry)
}

// Sweep deletes everything in zone last modified before the cutoff.
func (s *Service) Sweep(ctx context.Context, zone Zone, before time.Time) (int, error) {
	sw, ok := s.backend.(Sweeper)
	if !ok {
		return 0, fmt.Errorf("storage backend %T cannot sweep", s.backend)
	}
	return sw.Sweep(ctx, zone, before)
}

// NewWorkspace creates a private working directory for one composition.
func (s *Service) NewWorkspace() (*Workspace, error) {
	return NewWorkspace(filepath.Join(s.basePath, string(ZoneWorking)))
}

// Fetch copies a stored object into the workspace under field.
func (s *Service) Fetch(ctx context.Context, ws *Workspace, field, key string) (string, error) {
	rc, err := s.backend.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	defer rc.Close()

	staged, _, err := ws.Stage(field, path.Base(key), rc)
	return staged, err
}
