package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// ISCSIBackstoreName derives the targetcli backstore name from a device
// path, grounded on iscsi.py's get_iscsi_backstore_name.
func ISCSIBackstoreName(device string) string { return filepath.Base(device) }

// ISCSITargetName derives the iSCSI IQN published for a backstore, grounded
// on iscsi.py's get_iscsi_target_name.
func ISCSITargetName(backstoreName string) string {
	return fmt.Sprintf("iqn.2013-07.cow.%s", backstoreName)
}

func targetcli(ctx context.Context, logger *slog.Logger, args ...string) error {
	res, err := procrun.RunLocal(ctx, logger, append([]string{"targetcli"}, args...))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("targetcli %v: exit %d", args, res.ExitCode)
	}
	return nil
}

// RemoveISCSIBackstore deletes a backstore, grounded on iscsi.py's
// remove_iscsi_backstore.
func RemoveISCSIBackstore(ctx context.Context, logger *slog.Logger, name string) error {
	logger.Info("removing iSCSI backstore", "name", name)
	return targetcli(ctx, logger, "/backstores/block", "delete", name)
}

// createISCSIBackstore creates a read-only backstore for device, removing
// it again if body fails, grounded on iscsi.py's create_iscsi_backstore.
func createISCSIBackstore(ctx context.Context, logger *slog.Logger, device string, body func(ctx context.Context, name string) error) error {
	name := ISCSIBackstoreName(device)
	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		logger.Info("adding iSCSI backstore", "name", name)
		return name, targetcli(ctx, logger, "/backstores/block", "create",
			"dev="+device, "name="+name, "readonly=True")
	}
	tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
		return RemoveISCSIBackstore(ctx, logger, name)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error { return body(ctx, name) })
}

// RemoveISCSITarget deletes an iSCSI target, grounded on iscsi.py's
// remove_iscsi_target.
func RemoveISCSITarget(ctx context.Context, logger *slog.Logger, name string) error {
	logger.Info("removing iSCSI target", "name", name)
	return targetcli(ctx, logger, "/iscsi", "delete", name)
}

// createISCSITarget creates a target for backstoreName and attaches a LUN
// to it, rolling the target back if body fails, grounded on iscsi.py's
// create_iscsi_target/attach_backstore_to_iscsi_target.
func createISCSITarget(ctx context.Context, logger *slog.Logger, backstoreName string, body func(ctx context.Context, targetName string) error) error {
	targetName := ISCSITargetName(backstoreName)
	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		logger.Info("adding iSCSI target", "name", targetName)
		return nil, targetcli(ctx, logger, "/iscsi", "create", targetName)
	}
	tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
		return RemoveISCSITarget(ctx, logger, targetName)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error {
		logger.Info("adding iSCSI LUN", "target", targetName, "backstore", backstoreName)
		if err := targetcli(ctx, logger, fmt.Sprintf("/iscsi/%s/tpg1/luns", targetName),
			"create", "/backstores/block/"+backstoreName); err != nil {
			return err
		}
		return body(ctx, targetName)
	})
}

// SaveISCSIConfig persists the running targetcli config, grounded on
// iscsi.py's save_iscsi_config.
func SaveISCSIConfig(ctx context.Context, logger *slog.Logger) error {
	logger.Info("saving iSCSI configuration")
	return targetcli(ctx, logger, "saveconfig")
}

// PublishToISCSI creates a backstore and target for device, enables ACL
// generation, and saves the config, tearing everything down if any step
// fails, grounded on iscsi.py's publish_to_iscsi. body receives the
// published target's IQN.
func PublishToISCSI(ctx context.Context, logger *slog.Logger, device string, body func(ctx context.Context, targetName string) error) error {
	tx := engine.Transaction{Logger: logger}
	tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
		return SaveISCSIConfig(ctx, logger)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error {
		return createISCSIBackstore(ctx, logger, device, func(ctx context.Context, backstoreName string) error {
			return createISCSITarget(ctx, logger, backstoreName, func(ctx context.Context, targetName string) error {
				logger.Info("configuring iSCSI authentication", "target", targetName)
				if err := targetcli(ctx, logger, fmt.Sprintf("/iscsi/%s/tpg1", targetName),
					"set", "attribute", "generate_node_acls=1"); err != nil {
					return err
				}
				if err := SaveISCSIConfig(ctx, logger); err != nil {
					return err
				}
				return body(ctx, targetName)
			})
		})
	})
}

// GetDynamicISCSISessions lists a target's dynamic session names, grounded
// on iscsi.py's get_dynamic_iscsi_sessions.
func GetDynamicISCSISessions(targetName string) ([]string, error) {
	path := filepath.Join("/sys/kernel/config/target/iscsi", targetName, "tpgt_1/dynamic_sessions")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, s := range strings.Split(string(raw), "\x00") {
		s = strings.TrimSpace(s)
		if s != "" {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}
