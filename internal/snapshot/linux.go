package snapshot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oriys/dg/internal/procrun"
)

// IsAccessible reports whether host answers SSH, grounded on linux.py's
// is_accessible.
func IsAccessible(ctx context.Context, logger *slog.Logger, host string) bool {
	res, err := procrun.RunSSH(ctx, logger, host, "root", []string{"id"}, procrun.SSHOptions{ConnectTimeout: 1})
	return err == nil && res.ExitCode == 0
}

// Reboot reboots host immediately, grounded on linux.py's reboot.
func Reboot(ctx context.Context, logger *slog.Logger, host string) error {
	logger.Info("rebooting", "host", host)
	_, err := procrun.RunSSH(ctx, logger, host, "root", []string{"reboot"}, procrun.SSHOptions{})
	return err
}

// TryRebootIfIdle reboots host only if no user session is active (`who`
// reports nothing), swallowing any SSH failure as "couldn't tell, skip",
// grounded on linux.py's try_reboot_if_idle.
func TryRebootIfIdle(ctx context.Context, logger *slog.Logger, host string) {
	logger.Info("checking if host is idle", "host", host)
	res, err := procrun.RunSSH(ctx, logger, host, "root", []string{"who"}, procrun.SSHOptions{ConnectTimeout: 1})
	if err != nil {
		logger.Error("failed to check if host is idle", "host", host, "error", err)
		return
	}
	if strings.TrimSpace(res.Stdout) != "" {
		logger.Info("host is busy, skipping reboot", "host", host)
		return
	}
	if err := Reboot(ctx, logger, host); err != nil {
		logger.Error("failed to reboot host", "host", host, "error", err)
	}
}
