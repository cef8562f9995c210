package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// mountSpec is one bind/type mount performed while building a chroot,
// grounded on mount.py's chroot's four stacked `mounted()` calls.
type mountSpec struct {
	device     string
	mountpoint string
	fsType     string
	bind       bool
}

// Mounted mounts device at mountpoint for the duration of body, always
// unmounting afterward, grounded on mount.py's mounted.
func Mounted(ctx context.Context, logger *slog.Logger, spec mountSpec, body func(ctx context.Context) error) error {
	if _, err := os.Stat(spec.mountpoint); err != nil {
		return fmt.Errorf("mount: %s does not exist: %w", spec.mountpoint, err)
	}

	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		cmd := []string{"mount"}
		if spec.fsType != "" {
			cmd = append(cmd, "-t", spec.fsType)
		}
		if spec.bind {
			cmd = append(cmd, "--bind")
		}
		device := spec.device
		if device == "" {
			device = "none"
		}
		cmd = append(cmd, device, spec.mountpoint)
		logger.Info("mounting", "device", spec.device, "mountpoint", spec.mountpoint)
		res, err := procrun.RunLocal(ctx, logger, cmd)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("mount %s: exit %d", spec.mountpoint, res.ExitCode)
		}
		return nil, nil
	}
	tx.Final = func(ctx context.Context, value any, bodyErr error) error {
		res, err := procrun.RunLocal(ctx, logger, []string{"umount", spec.mountpoint})
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("umount %s: exit %d", spec.mountpoint, res.ExitCode)
		}
		return nil
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error { return body(ctx) })
}

// Chroot builds a temporary chroot rooted at partition, with /proc, /sys,
// /dev and /dev/pts bind-mounted inside, grounded on mount.py's chroot.
// body receives the chroot root path; everything is unmounted and the temp
// directory removed on return, innermost mount first.
func Chroot(ctx context.Context, logger *slog.Logger, partition string, body func(ctx context.Context, root string) error) error {
	root, err := os.MkdirTemp("", "snapshot_root_")
	if err != nil {
		return err
	}
	defer os.RemoveAll(root)

	return Mounted(ctx, logger, mountSpec{device: partition, mountpoint: root}, func(ctx context.Context) error {
		return Mounted(ctx, logger, mountSpec{mountpoint: filepath.Join(root, "proc"), fsType: "proc"}, func(ctx context.Context) error {
			return Mounted(ctx, logger, mountSpec{mountpoint: filepath.Join(root, "sys"), fsType: "sysfs"}, func(ctx context.Context) error {
				return Mounted(ctx, logger, mountSpec{device: "/dev", mountpoint: filepath.Join(root, "dev"), bind: true}, func(ctx context.Context) error {
					return Mounted(ctx, logger, mountSpec{device: "/dev/pts", mountpoint: filepath.Join(root, "dev", "pts"), bind: true}, func(ctx context.Context) error {
						return body(ctx, root)
					})
				})
			})
		})
	})
}

// CopyFiles recursively copies the contents of each directory in toCopy
// into root, overwriting existing files, grounded on mount.py's copy_files.
func CopyFiles(logger *slog.Logger, root string, toCopy []string) error {
	for _, dir := range toCopy {
		logger.Info("copying directory contents", "src", dir, "dst", root)
		err := filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			dst := filepath.Join(root, rel)
			if fi.IsDir() {
				return os.MkdirAll(dst, 0o755)
			}
			return copyFile(path, dst, fi.Mode())
		})
		if err != nil {
			return fmt.Errorf("copying %s: %w", dir, err)
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
