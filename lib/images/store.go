package images

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/samber/lo"

	"github.com/vesselrun/vessel/lib/paths"
)

// Image describes one stored image as read back from disk.
type Image struct {
	Ref       Reference
	Layers    int
	SizeBytes int64
	CreatedAt time.Time
}

// Store persists pulled images under the store root. Layers for a
// reference live in one tag directory next to the manifest that orders
// them; a visible tag directory always corresponds to a completed pull
// because the pull path commits by rename.
type Store struct {
	paths *paths.Paths
}

func NewStore(p *paths.Paths) *Store {
	return &Store{paths: p}
}

// LayerPath returns the archive path for one layer of a reference.
func (s *Store) LayerPath(ref Reference, dgst digest.Digest) string {
	return s.paths.LayerPath(ref.Name, ref.Tag, dgst.Encoded())
}

// Exists reports whether the tag directory for a reference is present.
func (s *Store) Exists(ref Reference) bool {
	_, err := os.Stat(s.paths.TagDir(ref.Name, ref.Tag))
	return err == nil
}

// Manifest reads the persisted manifest for a reference. The manifest is
// the sole source of layer ordering; directory enumeration cannot
// reproduce it.
func (s *Store) Manifest(ref Reference) (*ocispec.Manifest, error) {
	data, err := os.ReadFile(s.paths.ManifestPath(ref.Name, ref.Tag))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest for %s: %w", ref, err)
	}

	return &manifest, nil
}

// Complete reports whether every layer the manifest declares is present.
// Consumers that extract layers gate on this, not on Exists.
func (s *Store) Complete(ref Reference) bool {
	manifest, err := s.Manifest(ref)
	if err != nil {
		return false
	}

	return lo.EveryBy(manifest.Layers, func(desc ocispec.Descriptor) bool {
		_, err := os.Stat(s.LayerPath(ref, desc.Digest))
		return err == nil
	})
}

// List enumerates all stored images. Image names may contain slashes
// ("myorg/app", "quay.io/org/app") and nest on disk accordingly, so the
// walk identifies tag directories by their committed manifest rather
// than by depth. Creation time comes from directory metadata.
func (s *Store) List() ([]Image, error) {
	root := s.paths.Images()

	var images []Image
	err := filepath.WalkDir(root, func(dir string, entry os.DirEntry, err error) error {
		if err != nil {
			if dir == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		// Staging directories from an in-flight or crashed pull are
		// hidden and never surface as images.
		if strings.HasPrefix(entry.Name(), ".") && dir != root {
			return filepath.SkipDir
		}
		if _, err := os.Stat(filepath.Join(dir, "manifest.json")); err != nil {
			return nil
		}

		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		ref := Reference{
			Name: filepath.ToSlash(filepath.Dir(rel)),
			Tag:  filepath.Base(rel),
		}
		img := Image{Ref: ref}

		if manifest, err := s.Manifest(ref); err == nil {
			img.Layers = len(manifest.Layers)
		}
		if info, err := entry.Info(); err == nil {
			img.CreatedAt = info.ModTime()
		}
		if size, err := dirSize(dir); err == nil {
			img.SizeBytes = size
		}

		images = append(images, img)
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("walk images directory: %w", err)
	}

	return images, nil
}

// Remove deletes the tag directory for a reference, and any name
// directories left empty above it.
func (s *Store) Remove(ref Reference) error {
	tagDir := s.paths.TagDir(ref.Name, ref.Tag)
	if _, err := os.Stat(tagDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("stat tag directory: %w", err)
	}

	if err := os.RemoveAll(tagDir); err != nil {
		return fmt.Errorf("remove tag directory: %w", err)
	}

	if err := pruneEmptyDirs(s.paths.ImageDir(ref.Name), s.paths.Images()); err != nil {
		return fmt.Errorf("remove image directory: %w", err)
	}

	return nil
}

// pruneEmptyDirs removes dir and its ancestors while they are empty,
// stopping at root. Slash-containing image names nest on disk, so a
// removal can leave several empty levels behind.
func pruneEmptyDirs(dir, root string) error {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return err
		}
	}
	return nil
}

// dirSize calculates the total size of a directory
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
