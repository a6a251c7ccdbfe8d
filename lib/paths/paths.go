// Package paths defines the on-disk layout of the vessel store root.
//
// Everything the runtime persists lives under a single data directory:
//
//	<root>/images/<name>/<tag>/<digest-hex>.tar
//	<root>/images/<name>/<tag>/manifest.json
//	<root>/containers/<id>/rootfs/...
//	<root>/containers/<id>/workspace/...
//	<root>/containers/<id>/metadata.json
package paths

import (
	"os"
	"path/filepath"
)

const (
	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Paths resolves locations inside a store root. The root is injected so
// tests can point each store at a private temporary directory.
type Paths struct {
	dataDir string
}

func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the store root.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// Images returns the directory holding all stored images.
func (p *Paths) Images() string {
	return filepath.Join(p.dataDir, "images")
}

// ImageDir returns the directory for all tags of one image name. A name
// with slashes ("myorg/app") nests accordingly.
func (p *Paths) ImageDir(name string) string {
	return filepath.Join(p.Images(), name)
}

// TagDir returns the directory for one image reference.
func (p *Paths) TagDir(name, tag string) string {
	return filepath.Join(p.ImageDir(name), tag)
}

// LayerPath returns the archive path for one layer, keyed by the hex
// portion of its digest.
func (p *Paths) LayerPath(name, tag, digestHex string) string {
	return filepath.Join(p.TagDir(name, tag), digestHex+".tar")
}

// ManifestPath returns the path of the persisted manifest for a reference.
func (p *Paths) ManifestPath(name, tag string) string {
	return filepath.Join(p.TagDir(name, tag), "manifest.json")
}

// Containers returns the directory holding all containers.
func (p *Paths) Containers() string {
	return filepath.Join(p.dataDir, "containers")
}

// ContainerDir returns the directory for one container.
func (p *Paths) ContainerDir(id string) string {
	return filepath.Join(p.Containers(), id)
}

// RootFS returns a container's root filesystem directory.
func (p *Paths) RootFS(id string) string {
	return filepath.Join(p.ContainerDir(id), "rootfs")
}

// Workspace returns a container's mutable workspace directory.
func (p *Paths) Workspace(id string) string {
	return filepath.Join(p.ContainerDir(id), "workspace")
}

// MetadataPath returns the path of a container's metadata file.
func (p *Paths) MetadataPath(id string) string {
	return filepath.Join(p.ContainerDir(id), "metadata.json")
}
