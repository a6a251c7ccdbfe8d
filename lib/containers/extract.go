package containers

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Whiteout markers per the OCI layer spec. A whiteout file in an upper
// layer deletes the shadowed path from lower layers.
const (
	whiteoutPrefix = ".wh."
	opaqueWhiteout = ".wh..wh..opq"
)

// extractLayer extracts one layer archive into destDir with overlay
// semantics: entries overwrite whatever earlier layers left at the same
// path, and whiteout markers delete instead of create. The archive may be
// gzip-compressed or plain tar.
//
// Entry paths are validated so no entry can escape destDir. Symlink
// targets are written verbatim, absolute ones included; they resolve
// against the container root at execution time, not against the host.
func extractLayer(r io.Reader, destDir string) error {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		src = gzr
	}

	tr := tar.NewReader(src)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		targetPath, err := sanitizePath(destDir, header.Name)
		if err != nil {
			return err
		}

		base := filepath.Base(header.Name)
		if base == opaqueWhiteout {
			if err := clearDir(filepath.Dir(targetPath)); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(base, whiteoutPrefix) {
			shadowed := filepath.Join(filepath.Dir(targetPath), strings.TrimPrefix(base, whiteoutPrefix))
			if err := os.RemoveAll(shadowed); err != nil {
				return fmt.Errorf("apply whiteout %s: %w", header.Name, err)
			}
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			// A lower layer may have left a file where this layer
			// wants a directory.
			if info, err := os.Lstat(targetPath); err == nil && !info.IsDir() {
				if err := os.Remove(targetPath); err != nil {
					return fmt.Errorf("replace with dir %s: %w", header.Name, err)
				}
			}
			if err := os.MkdirAll(targetPath, os.FileMode(header.Mode)); err != nil {
				return fmt.Errorf("create dir %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return fmt.Errorf("create parent dir: %w", err)
			}
			// Remove whatever a lower layer left here, a symlink
			// especially: opening through one would write to its
			// target instead of replacing the entry.
			if _, err := os.Lstat(targetPath); err == nil {
				if err := os.RemoveAll(targetPath); err != nil {
					return fmt.Errorf("replace with file %s: %w", header.Name, err)
				}
			}

			f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("create file %s: %w", header.Name, err)
			}

			_, err = io.Copy(f, tr)
			f.Close()
			if err != nil {
				return fmt.Errorf("write file %s: %w", header.Name, err)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return fmt.Errorf("create parent dir for symlink: %w", err)
			}
			if err := os.RemoveAll(targetPath); err != nil {
				return fmt.Errorf("replace symlink %s: %w", header.Name, err)
			}
			if err := os.Symlink(header.Linkname, targetPath); err != nil {
				return fmt.Errorf("create symlink %s: %w", header.Name, err)
			}

		case tar.TypeLink:
			linkTarget, err := sanitizePath(destDir, header.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return fmt.Errorf("create parent dir for hardlink: %w", err)
			}
			if err := os.RemoveAll(targetPath); err != nil {
				return fmt.Errorf("replace hardlink %s: %w", header.Name, err)
			}
			if err := os.Link(linkTarget, targetPath); err != nil {
				return fmt.Errorf("create hardlink %s: %w", header.Name, err)
			}

		default:
			// Skip other types (devices, fifos, etc.)
			continue
		}
	}

	return nil
}

// sanitizePath validates and returns a safe path within destDir
func sanitizePath(destDir, name string) (string, error) {
	name = filepath.Clean(name)

	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %s", ErrExtraction, name)
	}

	for _, part := range strings.Split(name, string(os.PathSeparator)) {
		if part == ".." {
			return "", fmt.Errorf("%w: path traversal in %s", ErrExtraction, name)
		}
	}

	targetPath := filepath.Join(destDir, name)

	if !strings.HasPrefix(filepath.Clean(targetPath), filepath.Clean(destDir)+string(os.PathSeparator)) &&
		filepath.Clean(targetPath) != filepath.Clean(destDir) {
		return "", fmt.Errorf("%w: path escapes destination: %s", ErrExtraction, name)
	}

	return targetPath, nil
}

// clearDir removes a directory's children but keeps the directory itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir for opaque whiteout: %w", err)
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("apply opaque whiteout: %w", err)
		}
	}

	return nil
}
