package containers

import (
	"fmt"
	"os"
	"strings"

	"github.com/vesselrun/vessel/lib/paths"
)

// Store enumerates and removes containers by operating directly on the
// on-disk layout. It shares no in-memory state with the builder.
type Store struct {
	paths *paths.Paths
}

func NewStore(p *paths.Paths) *Store {
	return &Store{paths: p}
}

// RootFS returns the root filesystem path for a container id.
func (s *Store) RootFS(id string) string {
	return s.paths.RootFS(id)
}

// Workspace returns the workspace path for a container id.
func (s *Store) Workspace(id string) string {
	return s.paths.Workspace(id)
}

// Exists reports whether a container directory is present.
func (s *Store) Exists(id string) bool {
	_, err := os.Stat(s.paths.ContainerDir(id))
	return err == nil
}

// List enumerates all containers. Containers with unreadable metadata are
// still listed with whatever the directory itself can provide.
func (s *Store) List() ([]Container, error) {
	entries, err := os.ReadDir(s.paths.Containers())
	if err != nil {
		if os.IsNotExist(err) {
			return []Container{}, nil
		}
		return nil, fmt.Errorf("read containers directory: %w", err)
	}

	var containers []Container
	for _, entry := range entries {
		// Staging directories from an in-flight or crashed build
		// are hidden and never surface as containers.
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		id := entry.Name()
		c := Container{
			ID:        id,
			RootFS:    s.paths.RootFS(id),
			Workspace: s.paths.Workspace(id),
		}

		if meta, err := readMetadata(s.paths.MetadataPath(id)); err == nil {
			c.Image = meta.Image
			c.CreatedAt = meta.CreatedAt
		} else if info, err := entry.Info(); err == nil {
			c.CreatedAt = info.ModTime()
		}

		containers = append(containers, c)
	}

	return containers, nil
}

// Remove deletes a container's directory tree entirely.
func (s *Store) Remove(id string) error {
	dir := s.paths.ContainerDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("stat container directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove container directory: %w", err)
	}

	return nil
}
