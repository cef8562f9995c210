package snapshot

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// Manager controls the reference/test VMs backing a snapshot run, grounded
// on vm.py's VirtualMachineManager.
type Manager interface {
	IsRunning(ctx context.Context, name string) (bool, error)
	Start(ctx context.Context, name string) error
	Reset(ctx context.Context, name string) error
	Disks(ctx context.Context, name string) ([]string, error)
}

// Virsh drives libvirt's virsh CLI, grounded on vm.py's Virsh.
type Virsh struct {
	Logger *slog.Logger
}

func (v Virsh) IsRunning(ctx context.Context, name string) (bool, error) {
	res, err := procrun.RunLocal(ctx, v.Logger, []string{"virsh", "list", "--state-running", "--name"})
	if err != nil {
		return false, err
	}
	for _, line := range splitLines(res.Stdout) {
		if line == name {
			return true, nil
		}
	}
	return false, nil
}

func (v Virsh) Start(ctx context.Context, name string) error {
	_, err := procrun.RunLocal(ctx, v.Logger, []string{"virsh", "start", name})
	return err
}

func (v Virsh) Reset(ctx context.Context, name string) error {
	v.Logger.Warn("resetting VM", "name", name)
	_, err := procrun.RunLocal(ctx, v.Logger, []string{"virsh", "reset", name})
	return err
}

type virshDomain struct {
	Devices struct {
		Disks []struct {
			Source struct {
				Dev string `xml:"dev,attr"`
			} `xml:"source"`
		} `xml:"disk"`
	} `xml:"devices"`
}

func (v Virsh) Disks(ctx context.Context, name string) ([]string, error) {
	res, err := procrun.RunLocal(ctx, v.Logger, []string{"virsh", "dumpxml", name})
	if err != nil {
		return nil, err
	}
	var dom virshDomain
	if err := xml.Unmarshal([]byte(res.Stdout), &dom); err != nil {
		return nil, fmt.Errorf("parsing virsh dumpxml for %s: %w", name, err)
	}
	var disks []string
	for _, d := range dom.Devices.Disks {
		if d.Source.Dev != "" {
			disks = append(disks, d.Source.Dev)
		}
	}
	return disks, nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if line := s[start:i]; line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}

// GetDisk returns a VM's single disk device path, grounded on vm.py's
// get_disk (the pipeline only supports single-disk reference VMs).
func GetDisk(ctx context.Context, vmm Manager, name string) (string, error) {
	disks, err := vmm.Disks(ctx, name)
	if err != nil {
		return "", err
	}
	if len(disks) != 1 {
		return "", fmt.Errorf("vm: need exactly one disk for %s, got %d", name, len(disks))
	}
	return disks[0], nil
}

// shutDown shuts host down over SSH, waits for the VM to stop, runs body,
// then always restarts the VM and waits for SSH to come back, grounded on
// vm.py's vm_shut_down.
func shutDown(ctx context.Context, logger *slog.Logger, vmm Manager, name, host string, body func(ctx context.Context) error) error {
	if _, err := procrun.RunSSH(ctx, logger, host, "root", []string{"shutdown", "-h", "now"}, procrun.SSHOptions{}); err != nil {
		return fmt.Errorf("shutting down %s: %w", host, err)
	}
	if err := engine.WaitFor(ctx, "vm shutdown", 180*time.Second, 3*time.Second, func(ctx context.Context) (bool, error) {
		running, err := vmm.IsRunning(ctx, name)
		return !running, err
	}); err != nil {
		return err
	}

	tx := engine.Transaction{Logger: logger}
	tx.Final = func(ctx context.Context, value any, bodyErr error) error {
		if err := vmm.Start(ctx, name); err != nil {
			return err
		}
		return engine.WaitFor(ctx, "vm ssh reachable", 300*time.Second, 5*time.Second, func(ctx context.Context) (bool, error) {
			res, err := procrun.RunSSH(ctx, logger, host, "root", []string{"true"}, procrun.SSHOptions{ConnectTimeout: 5})
			return err == nil && res.ExitCode == 0, nil
		})
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error { return body(ctx) })
}

// CreateVMDiskSnapshot shuts the reference VM down, waits for its disk LV
// to close, takes an LVM snapshot, and restarts the VM, grounded on vm.py's
// create_vm_disk_snapshot.
func CreateVMDiskSnapshot(ctx context.Context, logger *slog.Logger, vmm Manager, name, host, timestamp, size, nonVolatilePV string) (string, error) {
	var snapshotPath string
	err := shutDown(ctx, logger, vmm, name, host, func(ctx context.Context) error {
		disk, err := GetDisk(ctx, vmm, name)
		if err != nil {
			return err
		}
		if err := engine.WaitFor(ctx, "disk lv closed", 30*time.Second, 1*time.Second, func(ctx context.Context) (bool, error) {
			open, err := IsLVOpen(ctx, logger, disk)
			return !open, err
		}); err != nil {
			return err
		}
		snapName := LVMSnapshotName(disk, timestamp)
		if err := CreateLVMSnapshot(ctx, logger, disk, snapName, size, nonVolatilePV); err != nil {
			return err
		}
		snapshotPath = filepath.Join(filepath.Dir(disk), snapName)
		return nil
	})
	return snapshotPath, err
}

// VMDiskSnapshot creates a snapshot of the reference VM's disk (removed once
// body returns, whether or not it succeeded) and a writeable copy of it,
// passing the copy's path to body, grounded on vm.py's vm_disk_snapshot.
func VMDiskSnapshot(ctx context.Context, logger *slog.Logger, vmm Manager, refVM, refHost, timestamp, size string, cache *CacheConfig, body func(ctx context.Context, copyPath string) error) error {
	nvpv := NonVolatilePV(cache)

	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		logger.Info("creating disk snapshot", "vm", refVM)
		return CreateVMDiskSnapshot(ctx, logger, vmm, refVM, refHost, timestamp, size, nvpv)
	}
	tx.Final = func(ctx context.Context, value any, bodyErr error) error {
		return RemoveLV(ctx, logger, value.(string))
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error {
		snapshot := value.(string)
		copyName := VMSnapshotName(filepath.Base(snapshot))
		return VolumeCopy(ctx, logger, snapshot, copyName, nvpv, func(ctx context.Context, copyPath string) error {
			if err := CopyData(ctx, logger, snapshot, copyPath); err != nil {
				return err
			}
			return body(ctx, copyPath)
		})
	})
}

// VMSnapshotName names the writeable full copy of an LVM snapshot, grounded
// on lvm.py's vm_snapshot_name.
func VMSnapshotName(lvmSnapshotName string) string { return lvmSnapshotName + "-snapshot" }

// ResetBackOnFailure resets the VM if body fails, grounded on vm.py's
// reset_back_on_failure.
func ResetBackOnFailure(ctx context.Context, logger *slog.Logger, vmm Manager, name string, body func(ctx context.Context) error) error {
	tx := engine.Transaction{Logger: logger}
	tx.Rollback = func(ctx context.Context, value any, bodyErr error) error {
		return vmm.Reset(ctx, name)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error { return body(ctx) })
}
