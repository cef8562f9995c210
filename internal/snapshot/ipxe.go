package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// IPXEConfigFilename returns the per-target iPXE config path under output,
// grounded on ipxe.py's ipxe_config_filename.
func IPXEConfigFilename(output, iscsiTargetName string) string {
	return filepath.Join(output, iscsiTargetName+".ipxe")
}

// GenerateIPXEConfig writes an iPXE script chain-loading kernel/initrd over
// the iSCSI target identified by iscsiTargetName and localFQDN, grounded on
// ipxe.py's generate_ipxe_config. Returns the path it wrote; AddSnapshot
// removes that file again (RemoveIPXEConfig) if a later step fails.
func GenerateIPXEConfig(logger *slog.Logger, output, localFQDN, iscsiTargetName, kernel, initrd string) (string, error) {
	kernelPath, err := filepath.Rel(output, kernel)
	if err != nil {
		return "", err
	}
	initrdPath, err := filepath.Rel(output, initrd)
	if err != nil {
		return "", err
	}
	configPath := IPXEConfigFilename(output, iscsiTargetName)

	script := strings.Join([]string{
		"#!ipxe",
		"",
		"set iti " + localFQDN,
		"set itn " + iscsiTargetName,
		"set iscsi_params iscsi_target_ip=${iti} iscsi_target_name=${itn}",
		"set cow_params cowsrc=network cowtype=${cowtype} root=/dev/mapper/root ${console}",
		"set params ${iscsi_params} ${cow_params}",
		fmt.Sprintf("kernel %s BOOTIF=01-${netX/mac} ${params} quiet", kernelPath),
		"initrd " + initrdPath,
		"boot",
		"",
	}, "\n")

	if err := os.WriteFile(configPath, []byte(script), 0o644); err != nil {
		return "", err
	}
	return configPath, nil
}

// RemoveIPXEConfig deletes a previously generated config, grounded on
// ipxe.py's generate_ipxe_config's rollback action.
func RemoveIPXEConfig(path string) error { return os.Remove(path) }

// savedConfig renames path aside to path+".old" (if it exists) for the
// duration of body, restoring it on failure and deleting the ".old" copy on
// success, grounded on ipxe.py's saved_config.
func savedConfig(logger *slog.Logger, path string, body func(oldPath string) error) (err error) {
	oldPath := path + ".old"
	if _, statErr := os.Stat(oldPath); statErr == nil {
		logger.Warn("old config exists, removing", "path", oldPath)
		if rmErr := os.Remove(oldPath); rmErr != nil {
			return rmErr
		}
	}

	existed := true
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		existed = false
		logger.Warn("config does not exist", "path", path)
	}
	if existed {
		if err := os.Rename(path, oldPath); err != nil {
			return err
		}
	}

	if err := body(oldPath); err != nil {
		logger.Warn("restoring config from backup", "path", path, "backup", oldPath)
		if _, statErr := os.Stat(oldPath); statErr == nil {
			_ = os.Rename(oldPath, path)
		}
		return err
	}
	if existed {
		return os.Remove(oldPath)
	}
	return nil
}

// PublishIPXEConfig symlinks config at output/boot-test.ipxe (testing=true)
// or output/boot.ipxe, atomically replacing whatever was there and
// restoring it if anything downstream fails, grounded on ipxe.py's
// published_ipxe_config. Returns the published path.
func PublishIPXEConfig(logger *slog.Logger, output, config string, testing bool, body func() error) (string, error) {
	filename := "boot.ipxe"
	if testing {
		filename = "boot-test.ipxe"
	}
	path := filepath.Join(output, filename)
	logger.Info("publishing iPXE config", "path", path, "testing", testing)

	err := savedConfig(logger, path, func(oldPath string) error {
		if err := os.Symlink(config, path); err != nil {
			return err
		}
		if err := body(); err != nil {
			_ = os.Remove(path)
			return err
		}
		return nil
	})
	return path, err
}
