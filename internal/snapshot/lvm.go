// Package snapshot implements the LVM-snapshot/iSCSI/iPXE publishing
// pipeline (spec §4.8): snapshotting a reference VM's disk, chrooting into
// it to stamp a timestamp and kernel/initrd pair, publishing the writeable
// copy over iSCSI, and promoting an iPXE boot config that points at it.
// Grounded file-for-file on original_source/dg/prepare/{linux,util/*}.py.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// LVMSnapshotName returns the timestamped snapshot LV name for an origin
// volume, grounded on lvm.py's lvm_snapshot_name.
func LVMSnapshotName(origin, timestamp string) string {
	return fmt.Sprintf("%s-at-%s", filepath.Base(origin), timestamp)
}

// SnapshotCopyName returns the plain LV name (no directory) for a
// snapshot's writeable copy, suitable for `lvcreate -n`, grounded on
// lvm.py's snapshot_copy_name.
func SnapshotCopyName(snapshot string) string {
	return filepath.Base(snapshot) + "-copy"
}

// SnapshotCopyPath returns the full device path of a snapshot's writeable
// copy, for existence checks and removal once it has been created next to
// snapshot.
func SnapshotCopyPath(snapshot string) string {
	return filepath.Join(filepath.Dir(snapshot), SnapshotCopyName(snapshot))
}

// SnapshotGlob returns the shell glob matching every snapshot of origin,
// grounded on lvm.py's snapshot_glob.
func SnapshotGlob(origin string) string {
	return origin + "-at-*"
}

// IsLVOpen reports whether an LV currently has open references, grounded
// on lvm.py's is_lv_open (the 6th character of `lvs -o lv_attr`'s output).
func IsLVOpen(ctx context.Context, logger *slog.Logger, name string) (bool, error) {
	res, err := procrun.RunLocal(ctx, logger, []string{"lvs", "-o", "lv_attr", "--noheadings", name})
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("lvs %s: exit %d", name, res.ExitCode)
	}
	attrs := trimSpace(res.Stdout)
	if len(attrs) < 6 {
		return false, fmt.Errorf("lvm: cannot parse LV attributes %q", attrs)
	}
	switch attrs[5] {
	case '-':
		return false, nil
	case 'o':
		return true, nil
	default:
		return false, fmt.Errorf("lvm: cannot parse LV attributes %q", attrs)
	}
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == '\n' || s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// CreateLVMSnapshot creates a read-only LVM snapshot of origin, optionally
// pinned to a non-volatile PV (cache config), grounded on lvm.py's
// create_lvm_snapshot.
func CreateLVMSnapshot(ctx context.Context, logger *slog.Logger, origin, name, size, nonVolatilePV string) error {
	cmd := []string{"lvcreate", "-y", "-s", "-n", name, "-L", size}
	if nonVolatilePV != "" {
		cmd = append(cmd, nonVolatilePV)
	}
	cmd = append(cmd, origin)
	res, err := procrun.RunLocal(ctx, logger, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("lvcreate snapshot %s: exit %d", name, res.ExitCode)
	}
	return nil
}

// CreateLVMVolume creates a plain LV of the given byte size, returning its
// full device path, grounded on lvm.py's create_lvm_volume.
func CreateLVMVolume(ctx context.Context, logger *slog.Logger, name, sizeBytes, vg, pv string) (string, error) {
	cmd := []string{"lvcreate", "-y", "-L", sizeBytes + "B", "-n", name, vg}
	if pv != "" {
		cmd = append(cmd, pv)
	}
	res, err := procrun.RunLocal(ctx, logger, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("lvcreate volume %s: exit %d", name, res.ExitCode)
	}
	return filepath.Join("/dev", vg, name), nil
}

// RemoveLV force-removes an LV, grounded on lvm.py's remove_lv.
func RemoveLV(ctx context.Context, logger *slog.Logger, name string) error {
	res, err := procrun.RunLocal(ctx, logger, []string{"lvremove", "-f", name})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("lvremove %s: exit %d", name, res.ExitCode)
	}
	return nil
}

func blockDeviceSize(ctx context.Context, logger *slog.Logger, path string) (string, error) {
	res, err := procrun.RunLocal(ctx, logger, []string{"blockdev", "--getsize64", path})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("blockdev --getsize64 %s: exit %d", path, res.ExitCode)
	}
	return trimSpace(res.Stdout), nil
}

// CopyData copies src to dst block-for-block with dd, grounded on lvm.py's
// copy_data.
func CopyData(ctx context.Context, logger *slog.Logger, src, dst string) error {
	res, err := procrun.RunLocal(ctx, logger, []string{
		"dd", "if=" + src, "of=" + dst, "bs=128M",
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("dd %s -> %s: exit %d", src, dst, res.ExitCode)
	}
	return nil
}

// VolumeCopy creates a same-sized LV next to src and removes it on rollback,
// the Go equivalent of lvm.py's volume_copy transaction; body receives the
// new volume's device path.
func VolumeCopy(ctx context.Context, logger *slog.Logger, src, dstName, nonVolatilePV string, body func(ctx context.Context, volume string) error) error {
	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		logger.Info("copying LVM volume", "src", src, "dst", dstName)
		size, err := blockDeviceSize(ctx, logger, src)
		if err != nil {
			return nil, err
		}
		vg := filepath.Base(filepath.Dir(src))
		path, err := CreateLVMVolume(ctx, logger, dstName, size, vg, nonVolatilePV)
		if err != nil {
			return nil, err
		}
		return path, nil
	}
	tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
		logger.Warn("cleaning up LVM copy", "name", dstName)
		return RemoveLV(ctx, logger, dstName)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error {
		return body(ctx, value.(string))
	})
}

// MoveLink atomically points dst at src, replacing any existing symlink,
// grounded on lvm.py's move_link.
func MoveLink(ctx context.Context, logger *slog.Logger, src, dst string) error {
	res, err := procrun.RunLocal(ctx, logger, []string{"sh", "-c",
		fmt.Sprintf("ln -sfn %q %q.new && mv -T %q.new %q", src, dst, dst, dst)})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("move_link %s -> %s: exit %d", src, dst, res.ExitCode)
	}
	return nil
}

// LinkSnapshotCopy makes a writeable copy of origin, copies its data, and
// (on success only) symlinks copyTo at the copy, grounded on lvm.py's
// link_snapshot_copy.
func LinkSnapshotCopy(ctx context.Context, logger *slog.Logger, origin, copyTo, nonVolatilePV string) error {
	name := SnapshotCopyName(origin)
	return VolumeCopy(ctx, logger, origin, name, nonVolatilePV, func(ctx context.Context, copyPath string) error {
		if err := CopyData(ctx, logger, origin, copyPath); err != nil {
			return err
		}
		tx := engine.Transaction{Logger: logger}
		tx.Commit = func(ctx context.Context, value any, bodyErr error) error {
			return MoveLink(ctx, logger, copyPath, copyTo)
		}
		return tx.Run(ctx, func(ctx context.Context, value any) error { return nil })
	})
}
