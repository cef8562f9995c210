package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// CacheConfig describes an optional LVM write-through cache layered in
// front of every published snapshot copy, grounded on volume_cache.py's
// CacheConfig.
type CacheConfig struct {
	VolumeGroup       string
	NonVolatilePV     string
	CachePV           string
	CacheVolumeSize   string
	CachedVolumesPath string
}

// NonVolatilePV returns the pinned PV for snapshot/copy creation when
// caching is configured, or "" otherwise, grounded on volume_cache.py's
// non_volatile_pv.
func NonVolatilePV(cfg *CacheConfig) string {
	if cfg == nil {
		return ""
	}
	return cfg.NonVolatilePV
}

// CacheLVName returns the plain LV name (no directory) of a non-cached LV's
// cache volume, suitable for `lvcreate -n`. The original implementation
// appends "-cache" to the full device path unconditionally, which would
// hand lvcreate a name containing slashes whenever it is invoked on a
// snapshot path; this normalizes to a basename instead.
func CacheLVName(volume string) string { return filepath.Base(volume) + "-cache" }

// CacheLVPath returns the full device path of a non-cached LV's cache
// volume, once it has been created next to volume, grounded on
// volume_cache.py's cache_lv_name usage in clean_snapshot.
func CacheLVPath(volume string) string {
	return filepath.Join(filepath.Dir(volume), CacheLVName(volume))
}

func cacheRecordFile(cfg *CacheConfig, volume string) string {
	return filepath.Join(cfg.CachedVolumesPath, filepath.Base(volume))
}

// CreateCacheRecord creates the empty marker file recording that volume is
// cached, grounded on volume_cache.py's create_cache_record.
func CreateCacheRecord(cfg *CacheConfig, volume string) error {
	record := cacheRecordFile(cfg, volume)
	if err := os.MkdirAll(filepath.Dir(record), 0o755); err != nil {
		return err
	}
	f, err := os.Create(record)
	if err != nil {
		return err
	}
	return f.Close()
}

// DeleteCacheRecord removes a cache marker file, grounded on
// volume_cache.py's delete_cache_record.
func DeleteCacheRecord(logger *slog.Logger, cfg *CacheConfig, volume string) error {
	record := cacheRecordFile(cfg, volume)
	if err := os.Remove(record); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("cache record file does not exist", "path", record)
			return nil
		}
		return err
	}
	return nil
}

// ListCacheRecords lists the cached LV names recorded under the config's
// records directory, grounded on volume_cache.py's list_cache_records.
func ListCacheRecords(cfg *CacheConfig) ([]string, error) {
	entries, err := os.ReadDir(cfg.CachedVolumesPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// ConfigureCaching layers an LVM write-through cache in front of
// nonCachedVolume, recording a cache file and creating the cache LV first
// so both roll back if the final `lvconvert` fails. Returns
// nonCachedVolume unchanged (LVM cache conversion is in-place) — matching
// volume_cache.py's configure_caching, which also swallows and logs any
// failure rather than aborting the run.
func ConfigureCaching(ctx context.Context, logger *slog.Logger, nonCachedVolume string, cfg *CacheConfig) string {
	if cfg == nil {
		logger.Info("caching not configured, skipping", "volume", nonCachedVolume)
		return nonCachedVolume
	}

	err := withCacheVolume(ctx, logger, nonCachedVolume, cfg, func(ctx context.Context, cacheVolume string) error {
		tx := engine.Transaction{Logger: logger}
		tx.Prepare = func(ctx context.Context) (any, error) {
			return nil, CreateCacheRecord(cfg, nonCachedVolume)
		}
		tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
			return DeleteCacheRecord(logger, cfg, nonCachedVolume)
		}
		return tx.Run(ctx, func(ctx context.Context, value any) error {
			logger.Info("enabling cache", "volume", nonCachedVolume, "cache", cacheVolume)
			res, err := procrun.RunLocal(ctx, logger, []string{
				"lvconvert", "-y", "--type", "cache", "--cachevol", cacheVolume,
				"--cachemode", "writethrough", nonCachedVolume,
			})
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("lvconvert --type cache: exit %d", res.ExitCode)
			}
			return nil
		})
	})
	if err != nil {
		logger.Error("failed to enable caching", "volume", nonCachedVolume, "error", err)
	}
	return nonCachedVolume
}

func withCacheVolume(ctx context.Context, logger *slog.Logger, nonCachedName string, cfg *CacheConfig, body func(ctx context.Context, cacheVolume string) error) error {
	name := CacheLVName(nonCachedName)
	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		logger.Info("adding cache volume", "for", nonCachedName, "name", name)
		return CreateLVMVolume(ctx, logger, name, cfg.CacheVolumeSize, cfg.VolumeGroup, cfg.CachePV)
	}
	tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
		logger.Warn("removing cache volume", "for", nonCachedName)
		return RemoveLV(ctx, logger, name)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error {
		return body(ctx, value.(string))
	})
}

// DisableCacheOn reverses ConfigureCaching for a single volume, logging
// (not returning) any failure, grounded on volume_cache.py's
// disable_cache_on.
func DisableCacheOn(ctx context.Context, logger *slog.Logger, volume string) {
	logger.Info("disabling cache", "volume", volume)
	res, err := procrun.RunLocal(ctx, logger, []string{"lvconvert", "--uncache", volume})
	if err != nil || res.ExitCode != 0 {
		logger.Error("failed to disable cache", "volume", volume, "error", err)
	}
}

func lvPath(vg, lv string) string { return filepath.Join("/dev", vg, lv) }

// EnableCache creates the cache PV, extends the volume group with it, and
// (re-)enables caching for every recorded volume, grounded on
// volume_cache.py's enable_cache.
func EnableCache(ctx context.Context, logger *slog.Logger, cfg *CacheConfig, cleanup bool) error {
	if cleanup {
		if err := CleanupCache(ctx, logger, cfg); err != nil {
			return err
		}
	}

	logger.Info("creating cache PV", "pv", cfg.CachePV)
	if res, err := procrun.RunLocal(ctx, logger, []string{"pvcreate", "-y", cfg.CachePV}); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("pvcreate %s failed", cfg.CachePV)
	}

	logger.Info("adding cache PV to VG", "pv", cfg.CachePV, "vg", cfg.VolumeGroup)
	if res, err := procrun.RunLocal(ctx, logger, []string{"vgextend", cfg.VolumeGroup, cfg.CachePV}); err != nil || res.ExitCode != 0 {
		return fmt.Errorf("vgextend %s %s failed", cfg.VolumeGroup, cfg.CachePV)
	}

	records, err := ListCacheRecords(cfg)
	if err != nil {
		return err
	}
	for _, record := range records {
		ConfigureCaching(ctx, logger, lvPath(cfg.VolumeGroup, record), cfg)
	}
	return nil
}

// DisableCache reverses EnableCache, grounded on volume_cache.py's
// disable_cache.
func DisableCache(ctx context.Context, logger *slog.Logger, cfg *CacheConfig) error {
	records, err := ListCacheRecords(cfg)
	if err != nil {
		return err
	}
	for _, record := range records {
		DisableCacheOn(ctx, logger, lvPath(cfg.VolumeGroup, record))
	}

	logger.Info("removing cache PV from VG", "pv", cfg.CachePV, "vg", cfg.VolumeGroup)
	if res, err := procrun.RunLocal(ctx, logger, []string{"vgreduce", cfg.VolumeGroup, cfg.CachePV}); err != nil || res.ExitCode != 0 {
		logger.Error("failed to remove cache PV from VG")
	}

	logger.Info("destroying cache PV", "pv", cfg.CachePV)
	if res, err := procrun.RunLocal(ctx, logger, []string{"pvremove", "-f", cfg.CachePV}); err != nil || res.ExitCode != 0 {
		logger.Error("failed to destroy cache PV")
	}
	return nil
}

// CleanupCache disables caching on every recorded volume and shrinks the
// volume group to drop missing PVs, used as system-startup recovery,
// grounded on volume_cache.py's cleanup_cache.
func CleanupCache(ctx context.Context, logger *slog.Logger, cfg *CacheConfig) error {
	records, err := ListCacheRecords(cfg)
	if err != nil {
		return err
	}
	for _, record := range records {
		DisableCacheOn(ctx, logger, lvPath(cfg.VolumeGroup, record))
	}

	logger.Info("reducing VG, removing missing PVs", "vg", cfg.VolumeGroup)
	if _, err := procrun.RunLocal(ctx, logger, []string{"vgreduce", "--removemissing", cfg.VolumeGroup}); err != nil {
		return err
	}
	logger.Info("activating all LVs in VG", "vg", cfg.VolumeGroup)
	_, err = procrun.RunLocal(ctx, logger, []string{"vgchange", "-ay", cfg.VolumeGroup})
	return err
}
