package containers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vesselrun/vessel/lib/images"
	"github.com/vesselrun/vessel/lib/paths"
)

// Builder constructs container filesystems from stored images.
type Builder struct {
	images *images.Store
	paths  *paths.Paths
	log    *slog.Logger
}

func NewBuilder(imageStore *images.Store, p *paths.Paths, log *slog.Logger) *Builder {
	return &Builder{
		images: imageStore,
		paths:  p,
		log:    log,
	}
}

// Build allocates a fresh container identity and constructs its root
// filesystem by extracting each stored layer in manifest order, later
// layers overwriting earlier ones. The container is assembled in a staging
// directory and renamed into place only on full success, so a failed build
// leaves no container directory behind.
//
// The source image must be complete in the store: every layer the
// manifest declares must be present. A tag directory left half-written by
// an interrupted pull does not qualify.
func (b *Builder) Build(ctx context.Context, ref images.Reference) (*Container, error) {
	if !b.images.Complete(ref) {
		return nil, fmt.Errorf("%w: %s", images.ErrNotFound, ref)
	}

	manifest, err := b.images.Manifest(ref)
	if err != nil {
		return nil, err
	}

	id := NewID(ref)
	createdAt := time.Now()

	staging := filepath.Join(b.paths.Containers(), ".staging-"+id)
	rootfs := filepath.Join(staging, "rootfs")
	workspace := filepath.Join(staging, "workspace")

	for _, dir := range []string{rootfs, workspace} {
		if err := os.MkdirAll(dir, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("create container directories: %w", err)
		}
	}
	// No-op once the staging directory has been renamed into place.
	defer os.RemoveAll(staging)

	// Ordering is significant: out-of-order extraction produces an
	// incorrect filesystem.
	for _, layer := range manifest.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := b.extract(ref, layer.Digest.Encoded(), rootfs); err != nil {
			return nil, err
		}
		b.log.Debug("layer extracted", "container", id, "digest", layer.Digest.String())
	}

	meta := &containerMetadata{
		ID:        id,
		Image:     ref.String(),
		CreatedAt: createdAt,
	}
	if err := writeMetadata(filepath.Join(staging, "metadata.json"), meta); err != nil {
		return nil, err
	}

	if err := os.Rename(staging, b.paths.ContainerDir(id)); err != nil {
		return nil, fmt.Errorf("commit container: %w", err)
	}

	b.log.Info("container built", "container", id, "image", ref.String(), "layers", len(manifest.Layers))

	return &Container{
		ID:        id,
		Image:     ref.String(),
		RootFS:    b.paths.RootFS(id),
		Workspace: b.paths.Workspace(id),
		CreatedAt: createdAt,
	}, nil
}

func (b *Builder) extract(ref images.Reference, digestHex, rootfs string) error {
	f, err := os.Open(b.paths.LayerPath(ref.Name, ref.Tag, digestHex))
	if err != nil {
		return fmt.Errorf("%w: open layer %s: %v", ErrExtraction, digestHex, err)
	}
	defer f.Close()

	if err := extractLayer(f, rootfs); err != nil {
		return fmt.Errorf("%w: layer %s: %v", ErrExtraction, digestHex, err)
	}

	return nil
}
