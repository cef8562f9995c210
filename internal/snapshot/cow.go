package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oriys/dg/internal/procrun"
)

// PartitionsConfig names the well-known GPT partitions a COW image is built
// from, written verbatim into /etc/cow.conf for the boot-time tooling to
// read, grounded on cow.py's CowPartitionsConfig.
type PartitionsConfig struct {
	Base     string
	Network  string
	Local    string
	COW      string
	Conf     string
	Sign     string
	KeyImage string
	Place    string
}

// entries exposes the config as an ordered slice of (key, value) pairs
// matching Python's vars(args.partitions_config).items() iteration used by
// write_cow_config, so cow.conf's associative-array declaration order is
// deterministic.
func (c PartitionsConfig) entries() [][2]string {
	return [][2]string{
		{"base", c.Base}, {"network", c.Network}, {"local", c.Local},
		{"cow", c.COW}, {"conf", c.Conf}, {"sign", c.Sign},
		{"keyimage", c.KeyImage}, {"place", c.Place},
	}
}

// CheckPreconditions verifies the reference VM is running and reachable
// over SSH before a snapshot run starts, grounded on cow.py's
// check_preconditions.
func CheckPreconditions(ctx context.Context, logger *slog.Logger, vmm Manager, refVM, refHost string) error {
	running, err := vmm.IsRunning(ctx, refVM)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("reference vm %s is not running", refVM)
	}
	res, err := procrun.RunSSH(ctx, logger, refHost, "root", []string{"true"}, procrun.SSHOptions{ConnectTimeout: 5})
	if err != nil || res.ExitCode != 0 {
		return fmt.Errorf("reference host %s is not accessible with ssh", refHost)
	}
	return nil
}

// WriteTimestamp stamps /etc/timestamp inside a chroot root, grounded on
// cow.py's write_timestamp.
func WriteTimestamp(root, timestamp string) error {
	return os.WriteFile(filepath.Join(root, "etc", "timestamp"), []byte(timestamp+"\n"), 0o644)
}

// WriteCowConfig writes /etc/cow.conf as a bash associative-array
// declaration of the partitions config, grounded on cow.py's
// write_cow_config.
func WriteCowConfig(logger *slog.Logger, root string, cfg PartitionsConfig) error {
	path := filepath.Join(root, "etc", "cow.conf")
	logger.Info("writing cow config", "path", path)

	content := "declare -A PARTITION_NAMES\n"
	for _, kv := range cfg.entries() {
		content += fmt.Sprintf("PARTITION_NAMES[%s]=%s\n", kv[0], kv[1])
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// RunChrootScript runs an optional setup script inside root via chroot,
// grounded on cow.py's run_chroot_script.
func RunChrootScript(ctx context.Context, logger *slog.Logger, root, script string) error {
	if script == "" {
		return nil
	}
	logger.Info("running chroot script", "script", script, "root", root)
	res, err := procrun.RunLocal(ctx, logger, []string{"chroot", root, script})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("chroot script %s: exit %d", script, res.ExitCode)
	}
	return nil
}

// SnapshotArtifactsPath returns the output-relative artifacts directory for
// a snapshot disk, grounded on cow.py's snapshot_artifacts_path.
func SnapshotArtifactsPath(output, snapshotDisk string) string {
	return filepath.Join(output, filepath.Base(snapshotDisk))
}

// SnapshotArtifacts creates a fresh artifacts directory for body, removing
// it again if body fails, grounded on cow.py's snapshot_artifacts.
func SnapshotArtifacts(logger *slog.Logger, output, snapshotDisk string, body func(artifactsPath string) error) error {
	path := SnapshotArtifactsPath(output, snapshotDisk)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot artifacts directory %s already exists", path)
	}
	logger.Info("creating snapshot artifacts directory", "path", path)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	if err := body(path); err != nil {
		logger.Error("cleaning up artifacts directory after failure", "path", path)
		_ = os.RemoveAll(path)
		return err
	}
	return nil
}

// PublishKernelImages copies vmlinuz and initrd.img out of root into
// artifacts, returning their new paths, grounded on cow.py's
// publish_kernel_images.
func PublishKernelImages(logger *slog.Logger, root, artifacts string) (kernel, initrd string, err error) {
	logger.Info("publishing kernel images", "artifacts", artifacts)
	kernel, err = copyToDir(root, artifacts, "vmlinuz")
	if err != nil {
		return "", "", err
	}
	initrd, err = copyToDir(root, artifacts, "initrd.img")
	if err != nil {
		return "", "", err
	}
	return kernel, initrd, nil
}

func copyToDir(root, dir, name string) (string, error) {
	dst := filepath.Join(dir, name)
	if err := copyFile(filepath.Join(root, name), dst, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}
