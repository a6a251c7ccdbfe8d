package images

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"github.com/vesselrun/vessel/lib/paths"
)

// seedImage writes a complete stored image: one file per layer plus the
// manifest that orders them.
func seedImage(t *testing.T, p *paths.Paths, ref Reference, layers [][]byte) *ocispec.Manifest {
	t.Helper()

	require.NoError(t, os.MkdirAll(p.TagDir(ref.Name, ref.Tag), 0755))

	manifest := &ocispec.Manifest{}
	for _, content := range layers {
		dgst := digest.FromBytes(content)
		require.NoError(t, os.WriteFile(p.LayerPath(ref.Name, ref.Tag, dgst.Encoded()), content, 0644))
		manifest.Layers = append(manifest.Layers, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    dgst,
			Size:      int64(len(content)),
		})
	}

	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p.ManifestPath(ref.Name, ref.Tag), data, 0644))

	return manifest
}

func TestStoreLayerPath(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)

	ref := Reference{Name: "alpine", Tag: "3.18"}
	dgst := digest.FromString("layer")

	want := filepath.Join(p.DataDir(), "images", "alpine", "3.18", dgst.Encoded()+".tar")
	require.Equal(t, want, store.LayerPath(ref, dgst))
}

func TestStoreExistsAndComplete(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)
	ref := Reference{Name: "alpine", Tag: "latest"}

	require.False(t, store.Exists(ref))
	require.False(t, store.Complete(ref))

	manifest := seedImage(t, p, ref, [][]byte{[]byte("layer-one"), []byte("layer-two")})
	require.True(t, store.Exists(ref))
	require.True(t, store.Complete(ref))

	// A missing layer makes the image incomplete even though the
	// directory still exists.
	require.NoError(t, os.Remove(store.LayerPath(ref, manifest.Layers[0].Digest)))
	require.True(t, store.Exists(ref))
	require.False(t, store.Complete(ref))
}

func TestStoreManifestPreservesLayerOrder(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)
	ref := Reference{Name: "app", Tag: "v1"}

	seeded := seedImage(t, p, ref, [][]byte{[]byte("first"), []byte("second"), []byte("third")})

	manifest, err := store.Manifest(ref)
	require.NoError(t, err)
	require.Len(t, manifest.Layers, 3)
	for i := range seeded.Layers {
		require.Equal(t, seeded.Layers[i].Digest, manifest.Layers[i].Digest)
	}
}

func TestStoreManifestNotFound(t *testing.T) {
	store := NewStore(paths.New(t.TempDir()))

	_, err := store.Manifest(Reference{Name: "ghost", Tag: "latest"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreList(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)

	imgs, err := store.List()
	require.NoError(t, err)
	require.Len(t, imgs, 0)

	seedImage(t, p, Reference{Name: "alpine", Tag: "latest"}, [][]byte{[]byte("a")})
	seedImage(t, p, Reference{Name: "alpine", Tag: "3.18"}, [][]byte{[]byte("b")})
	seedImage(t, p, Reference{Name: "ubuntu", Tag: "22.04"}, [][]byte{[]byte("c"), []byte("d")})
	seedImage(t, p, Reference{Name: "myorg/app", Tag: "v1"}, [][]byte{[]byte("e")})

	// A leftover staging directory must never surface as an image.
	require.NoError(t, os.MkdirAll(filepath.Join(p.ImageDir("alpine"), ".staging-latest-42"), 0755))

	imgs, err = store.List()
	require.NoError(t, err)
	require.Len(t, imgs, 4)

	byRef := map[string]Image{}
	for _, img := range imgs {
		byRef[img.Ref.String()] = img
	}
	require.Contains(t, byRef, "alpine:latest")
	require.Contains(t, byRef, "alpine:3.18")
	require.Contains(t, byRef, "ubuntu:22.04")
	require.Contains(t, byRef, "myorg/app:v1")
	require.Equal(t, 2, byRef["ubuntu:22.04"].Layers)
	require.Greater(t, byRef["ubuntu:22.04"].SizeBytes, int64(0))
}

func TestStoreKeepsRepositoriesDistinct(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)

	one, err := ParseReference("myorg/app:v1")
	require.NoError(t, err)
	other, err := ParseReference("otherorg/app:v1")
	require.NoError(t, err)

	content := []byte("layer")
	require.NotEqual(t,
		store.LayerPath(one, digest.FromBytes(content)),
		store.LayerPath(other, digest.FromBytes(content)))

	seedImage(t, p, one, [][]byte{content})
	seedImage(t, p, other, [][]byte{content})

	// Removing one repository's image leaves the other untouched.
	require.NoError(t, store.Remove(other))
	require.True(t, store.Complete(one))
	require.False(t, store.Exists(other))
}

func TestStoreRemoveNestedNamePrunesEmptyDirs(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)
	ref := Reference{Name: "myorg/app", Tag: "v1"}

	seedImage(t, p, ref, [][]byte{[]byte("a")})

	require.NoError(t, store.Remove(ref))

	require.NoDirExists(t, p.ImageDir("myorg/app"))
	require.NoDirExists(t, p.ImageDir("myorg"))
}

func TestStoreRemoveLastTagPrunesNameDir(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)
	ref := Reference{Name: "alpine", Tag: "latest"}

	seedImage(t, p, ref, [][]byte{[]byte("a")})

	require.NoError(t, store.Remove(ref))

	_, err := os.Stat(p.ImageDir("alpine"))
	require.True(t, os.IsNotExist(err))
}

func TestStoreRemoveKeepsSiblingTags(t *testing.T) {
	p := paths.New(t.TempDir())
	store := NewStore(p)

	seedImage(t, p, Reference{Name: "alpine", Tag: "latest"}, [][]byte{[]byte("a")})
	seedImage(t, p, Reference{Name: "alpine", Tag: "3.18"}, [][]byte{[]byte("b")})

	require.NoError(t, store.Remove(Reference{Name: "alpine", Tag: "latest"}))

	_, err := os.Stat(p.TagDir("alpine", "3.18"))
	require.NoError(t, err)
	_, err = os.Stat(p.TagDir("alpine", "latest"))
	require.True(t, os.IsNotExist(err))
}

func TestStoreRemoveNotFound(t *testing.T) {
	store := NewStore(paths.New(t.TempDir()))

	err := store.Remove(Reference{Name: "ghost", Tag: "latest"})
	require.ErrorIs(t, err, ErrNotFound)
}
