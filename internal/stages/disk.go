package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/procrun"
)

// vgsReport mirrors the subset of `vgs --reportformat json` output used to
// find volume groups backed by a given physical volume, grounded on
// stages/disk.py's FreeDisk.get_vgs.
type vgsReport struct {
	Report []struct {
		VG []struct {
			VGName string `json:"vg_name"`
			PVName string `json:"pv_name"`
		} `json:"vg"`
	} `json:"report"`
}

// ConfigureDisk stops Docker and unmounts /place so the disk can be
// repartitioned, grounded on stages/disk.py's ConfigureDisk.
type ConfigureDisk struct {
	PoolSizeValue int
	Login         string
	MountPoint    string
}

func (s *ConfigureDisk) Name() string  { return "ConfigureDisk" }
func (s *ConfigureDisk) PoolSize() int { return s.PoolSizeValue }

func (s *ConfigureDisk) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) domain.Outcome {
	logger := domain.LoggerFromContext(ctx, state.Logger())
	mp := s.MountPoint
	if mp == "" {
		mp = "/place"
	}

	for _, cmd := range [][]string{
		{"systemctl", "stop", "docker"},
		{"umount", mp},
	} {
		res, err := procrun.RunSSH(ctx, logger, h.Name, s.Login, cmd, procrun.SSHOptions{})
		if err != nil {
			return domain.Failed(fmt.Sprintf("failed to %s: %v", cmd[0], err))
		}
		if res.ExitCode != 0 {
			return domain.Failed(fmt.Sprintf("failed to %s, rv is %d", cmd[0], res.ExitCode))
		}
	}
	return domain.Ok()
}

// FreeDisk deactivates LVM volume groups backed by the given physical
// volume so the disk is free to be repartitioned, grounded on
// stages/disk.py's FreeDisk.
type FreeDisk struct {
	PoolSizeValue int
	Login         string
	PhysicalVol   string
}

func (s *FreeDisk) Name() string  { return "FreeDisk" }
func (s *FreeDisk) PoolSize() int { return s.PoolSizeValue }

func (s *FreeDisk) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) domain.Outcome {
	logger := domain.LoggerFromContext(ctx, state.Logger())

	res, err := procrun.RunSSH(ctx, logger, h.Name, s.Login,
		[]string{"vgs", "--reportformat", "json"}, procrun.SSHOptions{})
	if err != nil || res.ExitCode != 0 {
		return domain.Failed("failed to list volume groups")
	}

	var report vgsReport
	if err := json.Unmarshal([]byte(res.Stdout), &report); err != nil {
		return domain.Failed(fmt.Sprintf("failed to parse vgs output: %v", err))
	}

	vgNames := map[string]struct{}{}
	for _, r := range report.Report {
		for _, vg := range r.VG {
			if vg.PVName == s.PhysicalVol {
				vgNames[vg.VGName] = struct{}{}
			}
		}
	}

	for vg := range vgNames {
		res, err := procrun.RunSSH(ctx, logger, h.Name, s.Login,
			[]string{"vgchange", "-an", vg}, procrun.SSHOptions{})
		if err != nil {
			return domain.Failed(fmt.Sprintf("failed to deactivate volume group %s: %v", vg, err))
		}
		if res.ExitCode != 0 {
			return domain.Failed(fmt.Sprintf("failed to deactivate volume group %s, rv is %d", vg, res.ExitCode))
		}
	}
	return domain.Ok()
}
