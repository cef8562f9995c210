package stages

import (
	"context"
	"fmt"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
)

// Boot property values recognized by the config service (spec §4.7,
// supplemented per SPEC_FULL.md §4 from stages/boot.py's full value set:
// the empty default, the COW-memory variant named in spec.md prose, plus
// the local-Linux and local-Windows grub targets).
const (
	BootProp = "boot"

	BootDefault        = ""
	BootCOWMemory      = "cow-m"
	BootLocalLinux     = "grub.cow"
	BootLocalWindowsFmt = "grub.%s"
)

// BootsToWindowsByDefault reports whether h's configured default boot
// target is a Windows grub label.
func BootsToWindowsByDefault(h *domain.Host, windowsLabel string) bool {
	return h.Props[BootProp] == windowsLabelValue(windowsLabel)
}

// BootsToLocalLinuxByDefault reports whether h's configured default boot
// target is local Linux.
func BootsToLocalLinuxByDefault(h *domain.Host) bool {
	return h.Props[BootProp] == BootLocalLinux
}

func windowsLabelValue(label string) string {
	return fmt.Sprintf(BootLocalWindowsFmt, label)
}

// configureBoot is the shared set/rollback implementation for every
// concrete boot-target stage, grounded on stages/boot.py's ConfigureBoot.
type configureBoot struct {
	Config *configclient.Client
}

func (c *configureBoot) set(ctx context.Context, h *domain.Host, value string) error {
	return c.Config.SetProps(ctx, h.Name, map[string]string{BootProp: value})
}

// SetBootIntoCOWMemory configures a host to boot the network COW image
// loaded entirely into RAM.
type SetBootIntoCOWMemory struct{ configureBoot }

// NewSetBootIntoCOWMemory builds a SetBootIntoCOWMemory stage against cfg.
func NewSetBootIntoCOWMemory(cfg *configclient.Client) *SetBootIntoCOWMemory {
	return &SetBootIntoCOWMemory{configureBoot{Config: cfg}}
}

func (s *SetBootIntoCOWMemory) Name() string { return "SetBootIntoCOWMemory" }

func (s *SetBootIntoCOWMemory) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootCOWMemory)
}

func (s *SetBootIntoCOWMemory) RollbackSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootDefault)
}

// SetBootIntoLocalLinux configures a host to boot its local Linux install,
// from the COW config partition (grub.cow), per SPEC_FULL.md §4.
type SetBootIntoLocalLinux struct{ configureBoot }

// NewSetBootIntoLocalLinux builds a SetBootIntoLocalLinux stage against cfg.
func NewSetBootIntoLocalLinux(cfg *configclient.Client) *SetBootIntoLocalLinux {
	return &SetBootIntoLocalLinux{configureBoot{Config: cfg}}
}

func (s *SetBootIntoLocalLinux) Name() string { return "SetBootIntoLocalLinux" }

func (s *SetBootIntoLocalLinux) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootLocalLinux)
}

func (s *SetBootIntoLocalLinux) RollbackSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootDefault)
}

// SetBootIntoLocalWindows configures a host to boot its local Windows
// install, identified by WindowsLabel (the grub.<label> value).
type SetBootIntoLocalWindows struct {
	configureBoot
	WindowsLabel string
}

// NewSetBootIntoLocalWindows builds a SetBootIntoLocalWindows stage against
// cfg, targeting the grub.<label> value.
func NewSetBootIntoLocalWindows(cfg *configclient.Client, label string) *SetBootIntoLocalWindows {
	return &SetBootIntoLocalWindows{configureBoot{Config: cfg}, label}
}

func (s *SetBootIntoLocalWindows) Name() string { return "SetBootIntoLocalWindows" }

func (s *SetBootIntoLocalWindows) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, windowsLabelValue(s.WindowsLabel))
}

func (s *SetBootIntoLocalWindows) RollbackSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootDefault)
}

// ResetBoot resets a host's boot target to its default, grounded on
// stages/boot.py's ResetBoot.
type ResetBoot struct{ configureBoot }

// NewResetBoot builds a ResetBoot stage against cfg.
func NewResetBoot(cfg *configclient.Client) *ResetBoot {
	return &ResetBoot{configureBoot{Config: cfg}}
}

func (s *ResetBoot) Name() string { return "ResetBoot" }

func (s *ResetBoot) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootDefault)
}

func (s *ResetBoot) RollbackSingle(ctx context.Context, state *domain.State, h *domain.Host) error {
	return s.set(ctx, h, BootDefault)
}
