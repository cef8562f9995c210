package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/procrun"
)

// DetermineAMTHosts resolves each host's props["amt"] entry to its AMT
// management host name via the config service, grounded on
// stages/amt.py's DetermineAMTHosts.
type DetermineAMTHosts struct {
	Config *configclient.Client
}

func (s *DetermineAMTHosts) Name() string { return "DetermineAMTHosts" }

func (s *DetermineAMTHosts) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	amtName, ok := h.Props["amt"]
	if !ok {
		return fmt.Errorf("host props do not have \"amt\" attribute")
	}
	info, err := s.Config.GetHost(ctx, amtName)
	if err != nil {
		return err
	}
	h.AMTHost = info.Name
	return nil
}

// amttoolPath is the location of the bundled amttool wrapper, a Perl
// script invoked with AMT_USER/AMT_PASSWORD in its environment; out of
// scope per spec §1 ("invocation of external binaries" is an external
// collaborator), so only the invocation shape is modeled here.
const amttoolPath = "/usr/local/lib/dg/clients/amttool"

func callAMTToolLogged(ctx context.Context, logger *slog.Logger, creds *configclient.AMTCredentials, amtHost, cmd, special string) (procrun.Result, error) {
	_, _, ok := creds.GetCredentials(amtHost)
	if !ok {
		return procrun.Result{}, fmt.Errorf("no AMT credentials for %s", amtHost)
	}
	args := []string{"/usr/bin/perl", amttoolPath, amtHost, cmd}
	if special != "" {
		args = append(args, special)
	}
	// AMT_USER/AMT_PASSWORD are passed via the process environment by the
	// real amttool invocation (see DESIGN.md); procrun.RunLocal spawns
	// through os/exec.CommandContext, which inherits the parent's env.
	return procrun.RunLocal(ctx, logger, args)
}

// WakeupAMTHosts powers hosts on via AMT if not already powered, grounded
// on stages/amt.py's WakeupAMTHosts.
type WakeupAMTHosts struct {
	Creds *configclient.AMTCredentials
}

func (s *WakeupAMTHosts) Name() string { return "WakeupAMTHosts" }

func (s *WakeupAMTHosts) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	logger := domain.LoggerFromContext(ctx, state.Logger())
	status, err := callAMTToolLogged(ctx, logger, s.Creds, h.AMTHost, "powerstate", "")
	if err != nil {
		return fmt.Errorf("call to amttool failed: %w", err)
	}
	if status.ExitCode != 0 {
		if _, err := callAMTToolLogged(ctx, logger, s.Creds, h.AMTHost, "powerup", ""); err != nil {
			return fmt.Errorf("call to amttool failed: %w", err)
		}
	}
	return nil
}

// ResetAMTHosts resets hosts and boots them to PXE via AMT, grounded on
// stages/amt.py's ResetAMTHosts.
type ResetAMTHosts struct {
	Creds *configclient.AMTCredentials
}

func (s *ResetAMTHosts) Name() string { return "ResetAMTHosts" }

func (s *ResetAMTHosts) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	logger := domain.LoggerFromContext(ctx, state.Logger())
	if _, err := callAMTToolLogged(ctx, logger, s.Creds, h.AMTHost, "reset", "pxe"); err != nil {
		return fmt.Errorf("call to amttool failed: %w", err)
	}
	return nil
}
