package main

import (
	"strings"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/option"
	"github.com/oriys/dg/internal/stages"
)

// buildSimpleStages builds the "simple" method's fixed stage list (spec
// §4.7), grounded on original_source/methods/simple.py. values must be
// bound against at least the flags buildOptionRegistry records for every
// stage type below (the union StageTypeNames(m) computes from this very
// list, so the two stay in lockstep by construction).
//
// original_source/methods/simple.py also calls
// slurm.WaitForSlurmAvailable(*slurm.Timeouts.NORMAL) and
// ndd.RunNDDViaSlurm() between EnsureNetworkSpeed and
// CustomizeWindowsSetup. No stages/slurm.py exists anywhere in the
// retrieval pack (ls of original_source/stages/ lists only amt, amtredird,
// basic, boot, config, disk, ndd, network, ssh, stdm — ten files, no
// slurm), so there is no Go-idiomatic "HOW" to imitate for an external
// HPC job-scheduler wait. That step is omitted here; RunNDD below runs
// unconditionally instead of gated on Slurm node availability (see
// DESIGN.md).
func buildSimpleStages(values option.Values, cfg *configclient.Client) []domain.Stage {
	linuxLogin := values.String("ll")
	windowsLogin := values.String("lw")

	nddSpecs := make([]stages.NDDSpec, 0, len(values.StringSlice("n")))
	for _, raw := range values.StringSlice("n") {
		spec, err := stages.ParseNDDSpec(raw)
		if err != nil {
			continue
		}
		nddSpecs = append(nddSpecs, spec)
	}

	windowsDataLabel, windowsDataLetter := "", ""
	if wd := values.String("wd"); wd != "" {
		if label, letter, ok := strings.Cut(wd, ":"); ok {
			windowsDataLabel, windowsDataLetter = label, letter
		}
	}

	return []domain.Stage{
		&stages.InitHosts{Config: cfg},
		&stages.ExcludeBannedHosts{Banned: values.StringSlice("b")},
		stages.NewCheckIsAccessible(linuxLogin, windowsLogin),
		stages.NewSetBootIntoCOWMemory(cfg),
		stages.NewRebootHost(linuxLogin, windowsLogin),
		stages.NewWaitUntilBootedIntoCOWMemory(linuxLogin),
		stages.NewResetBoot(cfg),
		stages.NewStoreCOWConfig(linuxLogin, 0),
		&stages.EnsureNetworkSpeed{
			PoolSizeValue: values.Int("nc"),
			MinMbits:      values.Int("ns"),
			Seconds:       5,
			LocalAddr:     values.String("l"),
			Login:         linuxLogin,
		},
		&stages.RunNDD{
			Config:    cfg,
			NDDs:      nddSpecs,
			NDDPort:   values.Int("np"),
			Login:     linuxLogin,
			LocalAddr: values.String("l"),
		},
		stages.NewCustomizeWindowsSetup(linuxLogin, stages.WindowsSetupOptions{
			RootPartition: "/dev/disk/by-partlabel/" + values.String("wp"),
			DataLabel:     windowsDataLabel,
			DataLetter:    windowsDataLetter,
			DriverPath:    values.String("d"),
			CustomizePy:   "/usr/local/lib/dg/clients/customize.py",
			FilterRegPy:   "/usr/local/lib/dg/clients/filter_reg.py",
		}, 0),
		stages.NewSetBootIntoLocalWindows(cfg, "windows7"),
		stages.NewMaybeRebootLocalLinux(linuxLogin),
		stages.NewWaitUntilBootedIntoLocalWindows(windowsLogin),
		stages.NewResetBoot(cfg),
		stages.NewRebootNonDefaultOS(linuxLogin, windowsLogin),
		stages.NewCheckIsAccessible(linuxLogin, windowsLogin),
	}
}

// bindHostSelection binds -H/-g onto the method's InitHosts stage. Those
// flags are core (spec §6), in scope for every method regardless of which
// stages it selects, so they're threaded in after stage construction
// rather than carried through buildSimpleStages' per-stage flag binding.
func bindHostSelection(allStages []domain.Stage, hostNames, groupNames []string) {
	for _, st := range allStages {
		if ih, ok := st.(*stages.InitHosts); ok {
			ih.HostNames = hostNames
			ih.GroupNames = groupNames
			return
		}
	}
}
