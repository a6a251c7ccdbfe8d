package containers

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vesselrun/vessel/lib/images"
	"github.com/vesselrun/vessel/lib/paths"
)

// Container is a built, runnable filesystem tree plus its mutable
// workspace. It references its source image by value only; deleting the
// image does not affect the container.
type Container struct {
	ID        string
	Image     string
	RootFS    string
	Workspace string
	CreatedAt time.Time
}

// lastIDStamp tracks the most recent identity timestamp handed out, so
// two creations inside the same nanosecond still get distinct ids.
var lastIDStamp atomic.Int64

// idSeparators flattens the path characters an image name may carry so an
// identity stays a single directory name under the containers root.
var idSeparators = strings.NewReplacer("/", "-", ":", "-")

// NewID derives a container identity from the source reference and a
// nanosecond timestamp.
func NewID(ref images.Reference) string {
	stamp := time.Now().UnixNano()
	for {
		prev := lastIDStamp.Load()
		if stamp <= prev {
			stamp = prev + 1
		}
		if lastIDStamp.CompareAndSwap(prev, stamp) {
			break
		}
	}
	return fmt.Sprintf("%s-%s_%d", idSeparators.Replace(ref.Name), ref.Tag, stamp)
}

// containerMetadata represents the metadata stored on disk
type containerMetadata struct {
	ID        string    `json:"id"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}

// writeMetadata writes metadata atomically using temp file + rename
func writeMetadata(path string, meta *containerMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, paths.DefaultFileMode); err != nil {
		return fmt.Errorf("write temp metadata: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename metadata: %w", err)
	}

	return nil
}

// readMetadata reads metadata from disk
func readMetadata(path string) (*containerMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var meta containerMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &meta, nil
}
