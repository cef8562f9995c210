package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/oriys/dg/internal/artifactstore"
	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// generateTimestamp formats the moment a snapshot run starts, grounded on
// cow.py's generate_timestamp.
func generateTimestamp() string {
	return time.Now().Format("2006-01-02-15-04-05")
}

// AddSnapshotOptions gathers every parameter the original implementation's
// argparse surface collects for the `add` subcommand (spec §4.8).
type AddSnapshotOptions struct {
	RefVM, RefHost     string
	TestVM, TestHost   string
	SnapshotSize       string
	Output             string
	LocalFQDN          string
	Partitions         PartitionsConfig
	ToCopy             []string
	ChrootScript       string
	LinkSnapshotCopy   string
	CacheConfig        *CacheConfig
	Push               bool

	// ArtifactStore, if set, mirrors the published kernel/initrd/iPXE
	// config to an S3-compatible bucket after the iPXE config is
	// promoted, so clients outside the iSCSI-serving network can still
	// chain-load the same boot artifacts.
	ArtifactStore *artifactstore.Store
}

// AddSnapshot runs the full publishing pipeline (spec §4.8 steps 1-8):
// shut the reference VM down, snapshot its disk, chroot in to stamp
// metadata and publish kernel/initrd, publish the writeable copy over
// iSCSI, promote an iPXE boot config after a verified test-VM reboot, and
// optionally push the update to idle clients of prior snapshots.
func AddSnapshot(ctx context.Context, logger *slog.Logger, vmm Manager, opts AddSnapshotOptions) error {
	if err := CheckPreconditions(ctx, logger, vmm, opts.RefVM, opts.RefHost); err != nil {
		return err
	}

	timestamp := generateTimestamp()

	return VMDiskSnapshot(ctx, logger, vmm, opts.RefVM, opts.RefHost, timestamp, opts.SnapshotSize, opts.CacheConfig,
		func(ctx context.Context, snapshotDisk string) error {
			logger.Info("snapshot disk ready", "path", snapshotDisk)
			return SnapshotArtifacts(logger, opts.Output, snapshotDisk, func(artifacts string) error {
				kernel, initrd, err := buildAndPublishRoot(ctx, logger, snapshotDisk, artifacts, timestamp, opts)
				if err != nil {
					return err
				}

				if opts.LinkSnapshotCopy != "" {
					if err := LinkSnapshotCopy(ctx, logger, snapshotDisk, opts.LinkSnapshotCopy, NonVolatilePV(opts.CacheConfig)); err != nil {
						return err
					}
				}
				ConfigureCaching(ctx, logger, snapshotDisk, opts.CacheConfig)

				return PublishToISCSI(ctx, logger, snapshotDisk, func(ctx context.Context, targetName string) error {
					configPath, err := GenerateIPXEConfig(logger, opts.Output, opts.LocalFQDN, targetName, kernel, initrd)
					if err != nil {
						return err
					}

					err = ResetBackOnFailure(ctx, logger, vmm, opts.TestVM, func(ctx context.Context) error {
						if _, err := PublishIPXEConfig(logger, opts.Output, configPath, true, func() error {
							return rebootAndCheckTestVM(ctx, logger, vmm, opts.TestVM, opts.TestHost, timestamp)
						}); err != nil {
							return err
						}

						publishedPath, err := PublishIPXEConfig(logger, opts.Output, configPath, false, func() error { return nil })
						if err != nil {
							return err
						}
						logger.Info("published iPXE config", "path", publishedPath)

						if opts.ArtifactStore != nil {
							if err := opts.ArtifactStore.MirrorSnapshotArtifacts(ctx, logger, filepath.Base(snapshotDisk), kernel, initrd, publishedPath); err != nil {
								logger.Error("failed to mirror artifacts to artifact store", "error", err)
							}
						}

						if opts.Push {
							logger.Info("pushing update to inactive clients with reboot")
							rebootInactiveClients(ctx, logger, vmm, opts.RefVM, opts.TestHost, snapshotDisk)
						}
						return nil
					})
					if err != nil {
						if rmErr := RemoveIPXEConfig(configPath); rmErr != nil {
							logger.Error("failed to remove iPXE config", "path", configPath, "error", rmErr)
						}
					}
					return err
				})
			})
		})
}

func buildAndPublishRoot(ctx context.Context, logger *slog.Logger, snapshotDisk, artifacts, timestamp string, opts AddSnapshotOptions) (kernel, initrd string, err error) {
	err = PartitionsExposed(ctx, logger, snapshotDisk, func(ctx context.Context) error {
		info, err := GetDiskInformation(ctx, logger, snapshotDisk, nil)
		if err != nil {
			return err
		}
		if info.Config.PartitionTableType != "gpt" {
			return fmt.Errorf("snapshot: VMs must have a disk with a GPT partition table, got %q", info.Config.PartitionTableType)
		}
		basePartition, err := GetPartition(info, opts.Partitions.Base)
		if err != nil {
			return err
		}
		if err := SetPartitionName(ctx, logger, snapshotDisk, basePartition.Number, opts.Partitions.Network); err != nil {
			return err
		}

		kpartxNames, err := KpartxNames(ctx, logger, snapshotDisk)
		if err != nil {
			return err
		}
		info, err = GetDiskInformation(ctx, logger, snapshotDisk, kpartxNames)
		if err != nil {
			return err
		}
		netPartition, err := GetPartition(info, opts.Partitions.Network)
		if err != nil {
			return err
		}

		return Chroot(ctx, logger, netPartition.KpartxName, func(ctx context.Context, root string) error {
			if err := CopyFiles(logger, root, opts.ToCopy); err != nil {
				return err
			}
			if err := WriteTimestamp(root, timestamp); err != nil {
				return err
			}
			if err := WriteCowConfig(logger, root, opts.Partitions); err != nil {
				return err
			}
			if err := RunChrootScript(ctx, logger, root, opts.ChrootScript); err != nil {
				return err
			}
			kernel, initrd, err = PublishKernelImages(logger, root, artifacts)
			return err
		})
	})
	return kernel, initrd, err
}

func rebootAndCheckTestVM(ctx context.Context, logger *slog.Logger, vmm Manager, testVM, testHost, timestamp string) error {
	if IsAccessible(ctx, logger, testHost) {
		if err := Reboot(ctx, logger, testHost); err != nil {
			return err
		}
	} else {
		logger.Warn("test vm is not accessible, resetting", "host", testHost)
		if err := vmm.Reset(ctx, testVM); err != nil {
			return err
		}
	}
	return waitBootedProperly(ctx, logger, testHost, timestamp)
}

func waitBootedProperly(ctx context.Context, logger *slog.Logger, host, timestamp string) error {
	return engine.WaitFor(ctx, "test vm booted", 180*time.Second, 10*time.Second, func(ctx context.Context) (bool, error) {
		if !IsAccessible(ctx, logger, host) {
			return false, nil
		}
		res, err := procrun.RunSSH(ctx, logger, host, "root", []string{"cat", "/etc/timestamp"}, procrun.SSHOptions{})
		if err != nil || res.ExitCode != 0 {
			logger.Error("failed to get timestamp", "host", host, "error", err)
			return false, nil
		}
		if trimSpace(res.Stdout) != timestamp {
			logger.Warn("actual timestamp is not expected", "host", host, "actual", trimSpace(res.Stdout), "expected", timestamp)
			return false, nil
		}
		return true, nil
	})
}

var sessionHostRE = regexp.MustCompile(`^.+:(?P<hostname>.+)_\d{4}-\d\d-\d\d_\d\d-\d\d-\d\d$`)

// getHostname extracts the client hostname embedded in a dynamic iSCSI
// session name, grounded on linux.py's get_hostname.
func getHostname(session string) (string, error) {
	m := sessionHostRE.FindStringSubmatch(session)
	if m == nil {
		return "", fmt.Errorf("session name %q did not match any hostname", session)
	}
	return m[1], nil
}

// getSnapshots lists every existing LVM snapshot of a VM's disk, sorted,
// grounded on linux.py's get_snapshots.
func getSnapshots(ctx context.Context, vmm Manager, refVM string) ([]string, error) {
	disk, err := GetDisk(ctx, vmm, refVM)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(SnapshotGlob(disk))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func rebootInactiveClients(ctx context.Context, logger *slog.Logger, vmm Manager, refVM, testHost, justPublished string) {
	snapshots, err := getSnapshots(ctx, vmm, refVM)
	if err != nil {
		logger.Error("failed to list snapshots for push", "error", err)
		return
	}
	for _, snap := range snapshots {
		backstoreName := ISCSIBackstoreName(snap)
		targetName := ISCSITargetName(backstoreName)
		sessions, err := GetDynamicISCSISessions(targetName)
		if err != nil {
			logger.Error("failed to list iscsi sessions", "target", targetName, "error", err)
			continue
		}
		for _, session := range sessions {
			host, err := getHostname(session)
			if err != nil {
				logger.Error("failed to get hostname from session", "session", session, "error", err)
				continue
			}
			logger.Debug("snapshot in use", "snapshot", snap, "host", host, "session", session)
			if host != testHost {
				TryRebootIfIdle(ctx, logger, host)
			}
		}
	}
}

// CleanOptions configures the `clean` subcommand for one snapshot.
type CleanOptions struct {
	Output      string
	CacheConfig *CacheConfig
	Force       bool
}

// CleanSnapshot tears down everything AddSnapshot published for one
// snapshot: iPXE config, artifacts, iSCSI target+backstore, kpartx
// bindings, cache record, snapshot copy LV, and finally the snapshot LV
// itself — refusing unless Force is set if the snapshot still has active
// dynamic iSCSI sessions, grounded on linux.py's clean_snapshot.
func CleanSnapshot(ctx context.Context, logger *slog.Logger, name string, opts CleanOptions) error {
	backstoreName := ISCSIBackstoreName(name)
	targetName := ISCSITargetName(backstoreName)

	sessions, err := GetDynamicISCSISessions(targetName)
	if err != nil {
		return err
	}
	if len(sessions) > 0 {
		logger.Warn("snapshot has dynamic sessions", "snapshot", name)
		for _, s := range sessions {
			logger.Warn("active session", "session", s)
		}
		if !opts.Force {
			logger.Warn("skipping cleanup", "snapshot", name)
			return nil
		}
		logger.Warn("continuing as requested", "snapshot", name)
	}

	configPath := IPXEConfigFilename(opts.Output, targetName)
	if _, err := os.Stat(configPath); err == nil {
		logger.Info("cleaning iPXE config", "path", configPath)
		if err := RemoveIPXEConfig(configPath); err != nil {
			return err
		}
	}

	artifacts := SnapshotArtifactsPath(opts.Output, name)
	if _, err := os.Stat(artifacts); err == nil {
		logger.Info("cleaning snapshot artifacts", "path", artifacts)
		if err := os.RemoveAll(artifacts); err != nil {
			return err
		}
	}

	if err := RemoveISCSITarget(ctx, logger, targetName); err != nil {
		logger.Warn("failed to remove iSCSI target", "target", targetName, "error", err)
	}
	if err := RemoveISCSIBackstore(ctx, logger, backstoreName); err != nil {
		logger.Warn("failed to remove iSCSI backstore", "backstore", backstoreName, "error", err)
	}
	if err := SaveISCSIConfig(ctx, logger); err != nil {
		return err
	}

	if err := CleanupKpartx(ctx, logger, name); err != nil {
		logger.Warn("failed to clean up kpartx bindings", "error", err)
	}

	if opts.CacheConfig != nil {
		if err := DeleteCacheRecord(logger, opts.CacheConfig, name); err != nil {
			return err
		}
	}

	copyName := SnapshotCopyPath(name)
	if _, err := os.Stat(copyName); err == nil {
		logger.Info("removing snapshot copy", "path", copyName)
		if err := RemoveLV(ctx, logger, copyName); err != nil {
			logger.Warn("failed to remove snapshot copy", "path", copyName, "error", err)
		}
	}

	open, err := IsLVOpen(ctx, logger, name)
	if err != nil {
		return err
	}
	if open {
		return fmt.Errorf("lv %s is still open", name)
	}

	logger.Info("lv is not open, proceeding with remove", "name", name)
	if err := RemoveLV(ctx, logger, name); err != nil {
		return err
	}

	cacheVolume := CacheLVPath(name)
	if _, err := os.Stat(cacheVolume); err == nil {
		logger.Warn("cache volume still exists, removing", "path", cacheVolume)
		if err := RemoveLV(ctx, logger, cacheVolume); err != nil {
			return err
		}
	}
	return nil
}

// CleanSnapshots cleans every snapshot of refVM's disk except the latest,
// which is only cleaned when forceLatest is set, grounded on linux.py's
// clean_snapshots.
func CleanSnapshots(ctx context.Context, logger *slog.Logger, vmm Manager, refVM string, opts CleanOptions, forceOld, forceLatest bool) error {
	snapshots, err := getSnapshots(ctx, vmm, refVM)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	old, latest := snapshots[:len(snapshots)-1], snapshots[len(snapshots)-1]
	for _, snap := range old {
		o := opts
		o.Force = forceOld
		if err := CleanSnapshot(ctx, logger, snap, o); err != nil {
			return err
		}
	}
	if forceLatest {
		logger.Warn("removing latest snapshot", "snapshot", latest)
		o := opts
		o.Force = true
		if err := CleanSnapshot(ctx, logger, latest, o); err != nil {
			return err
		}
	}
	return nil
}
