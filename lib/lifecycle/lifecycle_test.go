package lifecycle

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesselrun/vessel/lib/containers"
	"github.com/vesselrun/vessel/lib/images"
	"github.com/vesselrun/vessel/lib/paths"
)

func newTestManager(t *testing.T) (*Manager, *paths.Paths) {
	t.Helper()
	p := paths.New(t.TempDir())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(images.NewStore(p), containers.NewStore(p), log), p
}

// seedTagDir lays down a committed tag directory; every committed pull
// carries a manifest, and listing keys on it.
func seedTagDir(t *testing.T, p *paths.Paths, name, tag string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(p.TagDir(name, tag), 0755))
	require.NoError(t, os.WriteFile(p.ManifestPath(name, tag), []byte(`{"layers":[]}`), 0644))
}

func seedContainerDir(t *testing.T, p *paths.Paths, id string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(p.RootFS(id), 0755))
	require.NoError(t, os.MkdirAll(p.Workspace(id), 0755))
}

func TestListEmpty(t *testing.T) {
	m, _ := newTestManager(t)

	imgs, err := m.ListImages()
	require.NoError(t, err)
	require.Empty(t, imgs)

	ctrs, err := m.ListContainers()
	require.NoError(t, err)
	require.Empty(t, ctrs)
}

func TestDeleteNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.DeleteImage(images.Reference{Name: "ghost", Tag: "latest"})
	require.ErrorIs(t, err, images.ErrNotFound)

	err = m.DeleteContainer("ghost-latest_1")
	require.ErrorIs(t, err, containers.ErrNotFound)
}

func TestPruneConfirmed(t *testing.T) {
	m, p := newTestManager(t)

	seedTagDir(t, p, "alpine", "latest")
	seedTagDir(t, p, "alpine", "3.18")
	seedTagDir(t, p, "ubuntu", "22.04")
	seedContainerDir(t, p, "alpine-latest_1")
	seedContainerDir(t, p, "ubuntu-22.04_2")

	// Counts match the pre-prune totals.
	result, err := m.PruneConfirmed()
	require.NoError(t, err)
	require.Equal(t, 2, result.ContainersDeleted)
	require.Equal(t, 3, result.ImagesDeleted)

	imgs, err := m.ListImages()
	require.NoError(t, err)
	require.Empty(t, imgs)

	ctrs, err := m.ListContainers()
	require.NoError(t, err)
	require.Empty(t, ctrs)
}

func TestPruneEmptyStore(t *testing.T) {
	m, _ := newTestManager(t)

	result, err := m.PruneConfirmed()
	require.NoError(t, err)
	require.Zero(t, result.ContainersDeleted)
	require.Zero(t, result.ImagesDeleted)
}
