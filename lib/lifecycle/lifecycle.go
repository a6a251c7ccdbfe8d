// Package lifecycle enumerates and deletes stored containers and images.
// It operates on the on-disk layout through the stores only; there is no
// shared in-memory state with pull or build.
package lifecycle

import (
	"log/slog"

	"github.com/vesselrun/vessel/lib/containers"
	"github.com/vesselrun/vessel/lib/images"
)

type Manager struct {
	images     *images.Store
	containers *containers.Store
	log        *slog.Logger
}

func New(imageStore *images.Store, containerStore *containers.Store, log *slog.Logger) *Manager {
	return &Manager{
		images:     imageStore,
		containers: containerStore,
		log:        log,
	}
}

func (m *Manager) ListImages() ([]images.Image, error) {
	return m.images.List()
}

func (m *Manager) ListContainers() ([]containers.Container, error) {
	return m.containers.List()
}

// DeleteImage removes a stored image. A missing reference reports
// images.ErrNotFound; already-built containers are unaffected.
func (m *Manager) DeleteImage(ref images.Reference) error {
	return m.images.Remove(ref)
}

// DeleteContainer removes a container's directory tree. A missing id
// reports containers.ErrNotFound.
func (m *Manager) DeleteContainer(id string) error {
	return m.containers.Remove(id)
}

// PruneResult reports how many targets a prune actually deleted.
type PruneResult struct {
	ContainersDeleted int
	ImagesDeleted     int
}

// PruneConfirmed deletes all containers, then all images. The caller owns
// the confirmation; this entry point must stay unreachable without it.
// Deletion is best-effort across independent targets: one failure is
// logged and the rest proceed.
func (m *Manager) PruneConfirmed() (PruneResult, error) {
	var result PruneResult

	ctrs, err := m.containers.List()
	if err != nil {
		return result, err
	}
	for _, c := range ctrs {
		if err := m.containers.Remove(c.ID); err != nil {
			m.log.Warn("prune: container not deleted", "container", c.ID, "error", err)
			continue
		}
		result.ContainersDeleted++
	}

	imgs, err := m.images.List()
	if err != nil {
		return result, err
	}
	for _, img := range imgs {
		if err := m.images.Remove(img.Ref); err != nil {
			m.log.Warn("prune: image not deleted", "image", img.Ref.String(), "error", err)
			continue
		}
		result.ImagesDeleted++
	}

	m.log.Info("prune complete", "containers", result.ContainersDeleted, "images", result.ImagesDeleted)
	return result, nil
}
