package stages

import (
	"context"
	"fmt"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
)

// EnsureRedirectionPossible fails any active host whose AMT host is not
// currently known to amtredird, grounded on stages/amtredird.py's
// EnsureRedirectionPossible.
type EnsureRedirectionPossible struct {
	Client *configclient.AmtredirdClient
}

func (s *EnsureRedirectionPossible) Name() string { return "EnsureRedirectionPossible" }

func (s *EnsureRedirectionPossible) Run(ctx context.Context, state *domain.State) error {
	possible, err := s.Client.List(ctx)
	if err != nil {
		return err
	}
	possibleSet := make(map[string]bool, len(possible))
	for _, h := range possible {
		possibleSet[h] = true
	}
	for _, h := range state.ActiveHosts() {
		if !possibleSet[h.AMTHost] {
			state.FailHost(h, s.Name(), "AMT host not configured in amtredird")
		}
	}
	return nil
}

// amtHostIndex builds the amt-host -> domain.Host map used to translate
// amtredird's per-client outcomes back to hosts, grounded on
// stages/amtredird.py's ChangeRedirection.run.
func amtHostIndex(hosts []*domain.Host) (map[string]*domain.Host, []string) {
	index := make(map[string]*domain.Host, len(hosts))
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		index[h.AMTHost] = h
		names = append(names, h.AMTHost)
	}
	return index, names
}

// EnableRedirection enables IDE-R redirection for every active host,
// converging idempotently by stopping then starting (spec §9 open
// question (c): only start failures fail the host). On rollback, it stops
// redirection for any host that ended up failed.
type EnableRedirection struct {
	Client *configclient.AmtredirdClient
}

func (s *EnableRedirection) Name() string { return "EnableRedirection" }

func (s *EnableRedirection) Run(ctx context.Context, state *domain.State) error {
	index, amtHosts := amtHostIndex(state.ActiveHosts())
	if _, err := s.Client.Stop(ctx, amtHosts); err != nil {
		return fmt.Errorf("enable redirection: stop phase: %w", err)
	}
	results, err := s.Client.Start(ctx, amtHosts)
	if err != nil {
		return fmt.Errorf("enable redirection: start phase: %w", err)
	}
	for amtHost, outcome := range results {
		if outcome.ReturnValue != 0 {
			state.FailHost(index[amtHost], s.Name(), "failed to change redirection")
		}
	}
	return nil
}

func (s *EnableRedirection) Rollback(ctx context.Context, state *domain.State) error {
	index, amtHosts := amtHostIndex(state.FailedHosts())
	if len(amtHosts) == 0 {
		return nil
	}
	results, err := s.Client.Stop(ctx, amtHosts)
	if err != nil {
		return err
	}
	logger := state.Logger()
	for amtHost, outcome := range results {
		if outcome.ReturnValue != 0 {
			logger.Warn("failed to stop redirection", "host", index[amtHost].Name)
		}
	}
	return nil
}

// DisableRedirection stops IDE-R redirection for every active host,
// grounded on stages/amtredird.py's DisableRedirection.
type DisableRedirection struct {
	Client *configclient.AmtredirdClient
}

func (s *DisableRedirection) Name() string { return "DisableRedirection" }

func (s *DisableRedirection) Run(ctx context.Context, state *domain.State) error {
	index, amtHosts := amtHostIndex(state.ActiveHosts())
	results, err := s.Client.Stop(ctx, amtHosts)
	if err != nil {
		return err
	}
	for amtHost, outcome := range results {
		if outcome.ReturnValue != 0 {
			state.FailHost(index[amtHost], s.Name(), "failed to change redirection")
		}
	}
	return nil
}
