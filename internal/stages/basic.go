// Package stages implements the concrete deployment stages (spec §4.7):
// host initialization, AMT power control, IDE-R redirection, boot target
// selection, SSH wait/reboot loops, NDD bulk transfer, network speed
// verification, and disk preparation. Grounded file-for-file on
// original_source/stages/*.py.
package stages

import (
	"context"
	"fmt"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
)

// InitHosts resolves -H/-g into domain.Host records via the config
// service, grounded on stages/basic.py's InitHosts.
type InitHosts struct {
	Config     *configclient.Client
	HostNames  []string
	GroupNames []string
}

func (s *InitHosts) Name() string { return "InitHosts" }

func (s *InitHosts) Run(ctx context.Context, state *domain.State) error {
	seen := make(map[string]bool)

	addByName := func(name string) error {
		if seen[name] {
			return nil
		}
		info, err := s.Config.GetHost(ctx, name)
		if err != nil {
			return fmt.Errorf("resolving host %s: %w", name, err)
		}
		seen[name] = true
		return state.AddHost(&domain.Host{Name: info.Name, SName: info.SName, Props: info.Props})
	}

	for _, name := range s.HostNames {
		if err := addByName(name); err != nil {
			return err
		}
	}
	for _, group := range s.GroupNames {
		info, err := s.Config.GetGroup(ctx, group)
		if err != nil {
			return fmt.Errorf("resolving group %s: %w", group, err)
		}
		for _, name := range info.Hosts {
			if err := addByName(name); err != nil {
				return err
			}
		}
	}
	if len(seen) == 0 {
		return domain.ErrNoHostsSelected
	}
	return nil
}

// ExcludeBannedHosts fails any host whose name or sname was passed with -b,
// grounded on stages/basic.py's ExcludeBannedHosts.
type ExcludeBannedHosts struct {
	Banned []string
}

func (s *ExcludeBannedHosts) Name() string { return "ExcludeBannedHosts" }

func (s *ExcludeBannedHosts) Run(ctx context.Context, state *domain.State) error {
	banned := make(map[string]bool, len(s.Banned))
	for _, b := range s.Banned {
		banned[b] = true
	}
	for _, h := range state.ActiveHosts() {
		if banned[h.Name] || banned[h.SName] {
			state.FailHost(h, s.Name(), "explicitly excluded from deployment")
		}
	}
	return nil
}
