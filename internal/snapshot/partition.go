package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// DiskConfig mirrors parted's machine-readable disk summary line, grounded
// on disk.py's DiskConfiguration.
type DiskConfig struct {
	Path              string
	Size              string
	Transport         string
	LogicalSectorSize int
	PhysicalSectorSize int
	PartitionTableType string
	Model             string
}

// Partition mirrors one parted machine-readable partition line joined with
// its kpartx mapper device, grounded on disk.py's PartitionConfiguration.
type Partition struct {
	Number     int
	Begin, End string
	Size       string
	FSType     string
	Name       string
	KpartxName string
	FlagsSet   string
}

// DiskInfo is the full parsed `parted print` output, grounded on disk.py's
// DiskInformation.
type DiskInfo struct {
	Config     DiskConfig
	Partitions []Partition
}

// GetDiskInformation runs `parted -s -m print` against device and parses
// it, grounded on disk.py's get_disk_information. kpartxNames, if non-nil,
// supplies the partition-number -> /dev/mapper/* mapping (see
// KpartxNames); omit it when partitions have not yet been exposed.
func GetDiskInformation(ctx context.Context, logger *slog.Logger, device string, kpartxNames map[int]string) (DiskInfo, error) {
	res, err := procrun.RunLocal(ctx, logger, []string{"parted", "-s", "-m", device, "print"})
	if err != nil {
		return DiskInfo{}, err
	}
	if res.ExitCode != 0 {
		return DiskInfo{}, fmt.Errorf("parted print %s: exit %d", device, res.ExitCode)
	}

	lines := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
	if len(lines) < 2 {
		return DiskInfo{}, fmt.Errorf("parted: expected at least two lines of output for %s", device)
	}
	if strings.TrimSuffix(lines[0], ";") != "BYT" {
		return DiskInfo{}, fmt.Errorf("parted: only Bytes units are supported for %s", device)
	}

	fields := strings.Split(strings.TrimSuffix(lines[1], ";"), ":")
	if len(fields) < 7 {
		return DiskInfo{}, fmt.Errorf("parted: malformed disk summary line for %s", device)
	}
	lss, _ := strconv.Atoi(fields[3])
	pss, _ := strconv.Atoi(fields[4])
	config := DiskConfig{
		Path: fields[0], Size: fields[1], Transport: fields[2],
		LogicalSectorSize: lss, PhysicalSectorSize: pss,
		PartitionTableType: fields[5], Model: fields[6],
	}

	var partitions []Partition
	for _, line := range lines[2:] {
		line = strings.TrimSuffix(strings.TrimSpace(line), ";")
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 7 {
			continue
		}
		number, _ := strconv.Atoi(parts[0])
		partitions = append(partitions, Partition{
			Number: number, Begin: parts[1], End: parts[2], Size: parts[3],
			FSType: parts[4], Name: parts[5], FlagsSet: parts[6],
			KpartxName: kpartxNames[number],
		})
	}

	return DiskInfo{Config: config, Partitions: partitions}, nil
}

// GetPartition finds the single partition named name, grounded on disk.py's
// get_partition.
func GetPartition(info DiskInfo, name string) (Partition, error) {
	var match *Partition
	for i := range info.Partitions {
		if info.Partitions[i].Name == name {
			if match != nil {
				return Partition{}, fmt.Errorf("disk: more than one partition named %q", name)
			}
			match = &info.Partitions[i]
		}
	}
	if match == nil {
		return Partition{}, fmt.Errorf("disk: no partition named %q", name)
	}
	return *match, nil
}

// SetPartitionName renames a partition by number, grounded on disk.py's
// set_partition_name.
func SetPartitionName(ctx context.Context, logger *slog.Logger, device string, number int, name string) error {
	res, err := procrun.RunLocal(ctx, logger, []string{"parted", "-s", device, "name", strconv.Itoa(number), name})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("parted name %s %d %s: exit %d", device, number, name, res.ExitCode)
	}
	return nil
}

// KpartxNames lists a device's exposed partitions via `kpartx -l`, mapping
// 1-based partition number to /dev/mapper/* path, grounded on disk.py's
// get_kpartx_names.
func KpartxNames(ctx context.Context, logger *slog.Logger, device string) (map[int]string, error) {
	res, err := procrun.RunLocal(ctx, logger, []string{"kpartx", "-l", "-s", device})
	if err != nil {
		return nil, err
	}
	out := make(map[int]string)
	for i, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		name := strings.SplitN(line, " ", 2)[0]
		out[i+1] = filepath.Join("/dev/mapper", name)
	}
	return out, nil
}

// CleanupKpartx runs `kpartx -d`, retrying with backoff while partitions
// report "is in use", grounded on disk.py's cleanup_kpartx.
func CleanupKpartx(ctx context.Context, logger *slog.Logger, device string) error {
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond,
		500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second, 0}
	for i, delay := range delays {
		res, err := procrun.RunLocal(ctx, logger, []string{"kpartx", "-d", "-v", device})
		if err != nil {
			return err
		}
		if res.ExitCode == 0 {
			return nil
		}
		if !strings.Contains(res.Stdout, "is in use") {
			return fmt.Errorf("kpartx -d %s: unexpected error: %s", device, res.Stdout)
		}
		if i == len(delays)-1 {
			break
		}
		logger.Warn("partitions still in use, retrying kpartx -d", "device", device, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("kpartx: failed to clean up partitions for %s", device)
}

// PartitionsExposed runs `kpartx -a` for the duration of body, guaranteeing
// `kpartx -d` cleanup afterward regardless of outcome, grounded on disk.py's
// partitions_exposed.
func PartitionsExposed(ctx context.Context, logger *slog.Logger, device string, body func(ctx context.Context) error) error {
	tx := engine.Transaction{Logger: logger}
	tx.Prepare = func(ctx context.Context) (any, error) {
		logger.Info("exposing kpartx partitions", "device", device)
		res, err := procrun.RunLocal(ctx, logger, []string{"kpartx", "-a", "-s", device})
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("kpartx -a %s: exit %d", device, res.ExitCode)
		}
		return nil, nil
	}
	tx.Final = func(ctx context.Context, value any, bodyErr error) error {
		return CleanupKpartx(ctx, logger, device)
	}
	return tx.Run(ctx, func(ctx context.Context, value any) error { return body(ctx) })
}
