package main

import (
	"fmt"

	"github.com/oriys/dg/internal/artifactstore"
	"github.com/oriys/dg/internal/logging"
	"github.com/oriys/dg/internal/snapshot"
	"github.com/spf13/cobra"
)

// snapshotCmd groups the publishing-pipeline operations (spec §4.8),
// grounded on the original's separate linux.py argparse CLI rather than
// common/config.py's Option registry: these are host-local maintenance
// commands, not fleet deployment methods, so they take plain cobra flags
// instead of going through buildOptionRegistry.
func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage published LVM/iSCSI/iPXE snapshots",
	}
	cmd.AddCommand(snapshotAddCmd(), snapshotCleanCmd(), snapshotEnableCacheCmd(), snapshotDisableCacheCmd())
	return cmd
}

func resolveCacheConfig(cmd *cobra.Command, cfg *snapshot.CacheConfig) *snapshot.CacheConfig {
	if !cmd.Flags().Changed("cache-vg") && !cmd.Flags().Changed("cache-pv") {
		return nil
	}
	return cfg
}

func snapshotAddCmd() *cobra.Command {
	opts := snapshot.AddSnapshotOptions{Partitions: snapshot.PartitionsConfig{}}
	var (
		artifactBucket, artifactPrefix, artifactRegion, artifactEndpoint string
		artifactAccessKeyID, artifactSecretAccessKey                     string
	)
	cache := &snapshot.CacheConfig{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Snapshot the reference VM and publish it for clients to chain-load",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.Op()

			opts.CacheConfig = resolveCacheConfig(cmd, cache)

			if artifactBucket != "" {
				store, err := artifactstore.New(ctx, artifactstore.Config{
					Bucket:          artifactBucket,
					Prefix:          artifactPrefix,
					Region:          artifactRegion,
					Endpoint:        artifactEndpoint,
					AccessKeyID:     artifactAccessKeyID,
					SecretAccessKey: artifactSecretAccessKey,
				})
				if err != nil {
					return fmt.Errorf("snapshot add: building artifact store: %w", err)
				}
				opts.ArtifactStore = store
			}

			return snapshot.AddSnapshot(ctx, logger, snapshot.Virsh{Logger: logger}, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.RefVM, "ref-vm", "", "libvirt domain name of the reference VM")
	f.StringVar(&opts.RefHost, "ref-host", "", "ssh-reachable hostname of the reference VM")
	f.StringVar(&opts.TestVM, "test-vm", "", "libvirt domain name of the test VM")
	f.StringVar(&opts.TestHost, "test-host", "", "ssh-reachable hostname of the test VM")
	f.StringVar(&opts.SnapshotSize, "size", "10G", "size of the new LVM snapshot")
	f.StringVar(&opts.Output, "output", "/srv/dg/boot", "directory artifacts and iPXE configs are published under")
	f.StringVar(&opts.LocalFQDN, "local-fqdn", "", "FQDN clients use to reach the iSCSI target")
	f.StringSliceVar(&opts.ToCopy, "copy", nil, "extra file to copy into the chroot before running the build script, repeatable")
	f.StringVar(&opts.ChrootScript, "chroot-script", "", "script to run inside the chroot before publishing")
	f.StringVar(&opts.LinkSnapshotCopy, "link-as", "", "alias path to symlink onto the new snapshot copy")
	f.BoolVar(&opts.Push, "push", false, "reboot idle clients of the previous snapshot onto the new one")

	f.StringVar(&opts.Partitions.Base, "part-base", "", "base partition")
	f.StringVar(&opts.Partitions.Network, "part-network", "", "network-boot partition")
	f.StringVar(&opts.Partitions.Local, "part-local", "", "local-boot partition")
	f.StringVar(&opts.Partitions.COW, "part-cow", "", "COW config partition")
	f.StringVar(&opts.Partitions.Conf, "part-conf", "", "partition holding /etc/cow.conf")
	f.StringVar(&opts.Partitions.Sign, "part-sign", "", "signature partition")
	f.StringVar(&opts.Partitions.KeyImage, "part-keyimage", "", "key image partition")
	f.StringVar(&opts.Partitions.Place, "part-place", "", "deployment-site identifier partition")

	f.StringVar(&artifactBucket, "artifact-bucket", "", "mirror published artifacts to this S3-compatible bucket")
	f.StringVar(&artifactPrefix, "artifact-prefix", "", "key prefix within the artifact bucket")
	f.StringVar(&artifactRegion, "artifact-region", "us-east-1", "artifact bucket region")
	f.StringVar(&artifactEndpoint, "artifact-endpoint", "", "artifact bucket S3 endpoint override")
	f.StringVar(&artifactAccessKeyID, "artifact-access-key-id", "", "static access key for the artifact bucket (empty uses the default AWS credential chain)")
	f.StringVar(&artifactSecretAccessKey, "artifact-secret-access-key", "", "static secret key for the artifact bucket")

	cacheConfigFlagsInto(cmd, cache)
	return cmd
}

// cacheConfigFlagsInto registers cache-tier flags directly against cmd's
// flag set, binding them to the fields of the caller's CacheConfig.
func cacheConfigFlagsInto(cmd *cobra.Command, cfg *snapshot.CacheConfig) *cobra.Command {
	f := cmd.Flags()
	f.StringVar(&cfg.VolumeGroup, "cache-vg", "", "volume group the cache volume lives in")
	f.StringVar(&cfg.NonVolatilePV, "cache-nonvolatile-pv", "", "PV pinned for snapshot/copy creation")
	f.StringVar(&cfg.CachePV, "cache-pv", "", "PV backing the write-through cache")
	f.StringVar(&cfg.CacheVolumeSize, "cache-size", "", "size of each cache volume")
	f.StringVar(&cfg.CachedVolumesPath, "cache-records-path", "/var/lib/dg/cache-records", "directory recording which volumes are cached")
	return cmd
}

func snapshotCleanCmd() *cobra.Command {
	var (
		name                 string
		all, forceOld, force bool
		forceLatest          bool
		refVM                string
	)
	cache := &snapshot.CacheConfig{}
	opts := snapshot.CleanOptions{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Tear down one published snapshot, or every snapshot older than the latest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.Op()
			opts.CacheConfig = resolveCacheConfig(cmd, cache)
			opts.Force = force

			if all {
				return snapshot.CleanSnapshots(ctx, logger, snapshot.Virsh{Logger: logger}, refVM, opts, forceOld, forceLatest)
			}
			if name == "" {
				return fmt.Errorf("snapshot clean: --name is required unless --all is given")
			}
			return snapshot.CleanSnapshot(ctx, logger, name, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&name, "name", "", "LVM snapshot name to tear down")
	f.StringVar(&opts.Output, "output", "/srv/dg/boot", "directory artifacts and iPXE configs were published under")
	f.BoolVar(&force, "force", false, "tear down even if the snapshot still has active iSCSI sessions")
	f.BoolVar(&all, "all", false, "tear down every snapshot of --ref-vm older than the latest")
	f.StringVar(&refVM, "ref-vm", "", "libvirt domain name of the reference VM (with --all)")
	f.BoolVar(&forceOld, "force-old", false, "force-remove old snapshots even with active sessions (with --all)")
	f.BoolVar(&forceLatest, "force-latest", false, "also remove the latest snapshot (with --all)")
	cacheConfigFlagsInto(cmd, cache)
	return cmd
}

func snapshotEnableCacheCmd() *cobra.Command {
	var cleanup bool
	cache := &snapshot.CacheConfig{}
	cmd := &cobra.Command{
		Use:   "enable_cache",
		Short: "Layer an LVM write-through cache in front of every published volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			return snapshot.EnableCache(cmd.Context(), logging.Op(), cache, cleanup)
		},
	}
	cacheConfigFlagsInto(cmd, cache)
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove any pre-existing cache before re-enabling")
	return cmd
}

func snapshotDisableCacheCmd() *cobra.Command {
	cache := &snapshot.CacheConfig{}
	cmd := &cobra.Command{
		Use:   "disable_cache",
		Short: "Flatten every cached volume back onto its origin and remove the cache tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return snapshot.DisableCache(cmd.Context(), logging.Op(), cache)
		},
	}
	cacheConfigFlagsInto(cmd, cache)
	return cmd
}
