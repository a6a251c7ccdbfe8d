package images

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/vesselrun/vessel/lib/paths"
	"github.com/vesselrun/vessel/lib/registry"
)

// Manager handles image pulls
type Manager interface {
	Pull(ctx context.Context, ref Reference) error
}

type manager struct {
	client *registry.Client
	store  *Store
	paths  *paths.Paths
	log    *slog.Logger
}

// NewManager creates a new image manager backed by a registry client
func NewManager(client *registry.Client, store *Store, p *paths.Paths, log *slog.Logger) Manager {
	return &manager{
		client: client,
		store:  store,
		paths:  p,
		log:    log,
	}
}

// Pull authenticates, resolves the manifest for the reference and downloads
// every layer into a staging directory, then renames the staging directory
// into place. A failure at any point removes the staging directory, so a
// partially downloaded image is never visible to the store. Re-pulling an
// existing tag replaces it.
func (m *manager) Pull(ctx context.Context, ref Reference) error {
	token, err := m.client.Authenticate(ctx, ref.Repository)
	if err != nil {
		return fmt.Errorf("authenticate %s: %w", ref.Repository, err)
	}

	manifest, err := m.client.ResolveManifest(ctx, ref.Repository, ref.Tag, token)
	if err != nil {
		return fmt.Errorf("resolve manifest %s: %w", ref, err)
	}

	staging := filepath.Join(m.paths.ImageDir(ref.Name), fmt.Sprintf(".staging-%s-%d", ref.Tag, time.Now().UnixNano()))
	if err := os.MkdirAll(staging, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	// No-op once the staging directory has been renamed into place. A
	// failed first pull also prunes the name directories created for it,
	// so nothing of the attempt survives.
	defer func() {
		os.RemoveAll(staging)
		_ = pruneEmptyDirs(m.paths.ImageDir(ref.Name), m.paths.Images())
	}()

	for _, layer := range manifest.Layers {
		if err := m.downloadLayer(ctx, ref.Repository, layer, token, staging); err != nil {
			return err
		}
		m.log.Info("layer downloaded", "image", ref.String(), "digest", layer.Digest.String(), "size", layer.Size)
	}

	if err := writeManifest(staging, manifest); err != nil {
		return err
	}

	tagDir := m.paths.TagDir(ref.Name, ref.Tag)
	if err := os.RemoveAll(tagDir); err != nil {
		return fmt.Errorf("remove previous tag directory: %w", err)
	}
	if err := os.Rename(staging, tagDir); err != nil {
		return fmt.Errorf("commit image: %w", err)
	}

	m.log.Info("image pulled", "image", ref.String(), "layers", len(manifest.Layers))
	return nil
}

func (m *manager) downloadLayer(ctx context.Context, repo string, layer ocispec.Descriptor, token, staging string) error {
	rc, err := m.client.FetchLayer(ctx, repo, layer.Digest, token)
	if err != nil {
		return fmt.Errorf("fetch layer: %w", err)
	}

	target := filepath.Join(staging, layer.Digest.Encoded()+".tar")
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		rc.Close()
		return fmt.Errorf("create layer file: %w", err)
	}

	_, copyErr := io.Copy(f, rc)
	verifyErr := rc.Close()
	closeErr := f.Close()

	if copyErr != nil {
		return fmt.Errorf("write layer %s: %w", layer.Digest, copyErr)
	}
	if verifyErr != nil {
		return fmt.Errorf("verify layer: %w", verifyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close layer file: %w", closeErr)
	}

	return nil
}

// writeManifest persists the resolved manifest next to the layers it
// orders, using a temp file + rename.
func writeManifest(dir string, manifest *ocispec.Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tempPath := filepath.Join(dir, "manifest.json.tmp")
	if err := os.WriteFile(tempPath, data, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("write temp manifest: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(dir, "manifest.json")); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename manifest: %w", err)
	}

	return nil
}
