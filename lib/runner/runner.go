// Package runner executes commands inside a container's root filesystem.
//
// A run is one scoped critical section: bind-mount the workspace into the
// rootfs, execute the command under a changed root, release the mount. The
// release happens on every control-flow exit; a mount left behind would
// corrupt the next run or delete on the same container.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vesselrun/vessel/lib/containers"
	"github.com/vesselrun/vessel/lib/paths"
)

type Runner struct {
	store *containers.Store
	log   *slog.Logger
}

func New(store *containers.Store, log *slog.Logger) *Runner {
	return &Runner{
		store: store,
		log:   log,
	}
}

// Run executes argv inside the container's root filesystem with the
// workspace bind-mounted at /workspace and stdio inherited from the
// caller. It returns the command's exit code.
//
// argv is passed through verbatim: no shell interpretation, no
// re-splitting. Embedded shell syntax is the container shell's business.
//
// A non-zero exit from the command is a normal outcome, returned as
// (code, nil). A command that could not be started at all returns (-1,
// err). The workspace mount is released in every case, and a release
// failure surfaces as ErrMount without masking how the command itself
// fared.
func (r *Runner) Run(ctx context.Context, id string, argv []string) (exitCode int, err error) {
	if len(argv) == 0 {
		return -1, errors.New("no command given")
	}

	rootfs := r.store.RootFS(id)
	if _, err := os.Stat(rootfs); err != nil {
		return -1, fmt.Errorf("%w: %s", containers.ErrNotFound, id)
	}

	workspace := r.store.Workspace(id)
	if _, err := os.Stat(workspace); err != nil {
		r.log.Warn("workspace missing, recreating", "container", id)
		if err := os.MkdirAll(workspace, paths.DefaultDirMode); err != nil {
			return -1, fmt.Errorf("create workspace: %w", err)
		}
	}

	mountPoint := filepath.Join(rootfs, "workspace")
	if err := os.MkdirAll(mountPoint, paths.DefaultDirMode); err != nil {
		return -1, fmt.Errorf("create mount point: %w", err)
	}

	if err := unix.Mount(workspace, mountPoint, "", unix.MS_BIND, ""); err != nil {
		return -1, fmt.Errorf("%w: bind %s: %v", ErrMount, mountPoint, err)
	}
	defer func() {
		if uerr := unix.Unmount(mountPoint, 0); uerr != nil {
			r.log.Error("unmount failed", "container", id, "error", uerr)
			if err == nil {
				err = fmt.Errorf("%w: unmount %s: %v", ErrMount, mountPoint, uerr)
			}
		}
	}()

	cmd := command(ctx, rootfs, argv)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("execute command: %w", err)
	}

	return 0, nil
}

// command builds the chrooted process for argv. Every element reaches the
// process exactly as given; shell syntax inside an element is inert unless
// the command itself is a shell.
func command(ctx context.Context, rootfs string, argv []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: rootfs}
	cmd.Dir = "/"
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}
