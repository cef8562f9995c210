package stages

import (
	"context"
	"fmt"

	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/procrun"
)

// FileCopy is one SCP source/destination pair run ahead of a RunCommands
// stage's SSH commands.
type FileCopy struct {
	Src, Dst string
}

// RunCommandsSource supplies the files to copy and commands to run for a
// host, grounded on stages/config.py's RunCommands base class.
type RunCommandsSource interface {
	FilesToCopy(h *domain.Host) []FileCopy
	Commands(h *domain.Host) [][]string
}

// RunCommands fans SCP copies then SSH commands out over active hosts,
// grounded on stages/config.py's RunCommands.
type RunCommands struct {
	StageName     string
	Login         string
	Source        RunCommandsSource
	PoolSizeValue int
}

func (s *RunCommands) Name() string  { return s.StageName }
func (s *RunCommands) PoolSize() int { return s.PoolSizeValue }

func (s *RunCommands) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) domain.Outcome {
	logger := domain.LoggerFromContext(ctx, state.Logger())

	for _, fc := range s.Source.FilesToCopy(h) {
		dst := fmt.Sprintf("%s@%s:%s", s.Login, h.Name, fc.Dst)
		res, err := procrun.RunSCP(ctx, logger, fc.Src, dst)
		if err != nil || res.ExitCode != 0 {
			return domain.Failed(fmt.Sprintf("failed to %s", s.StageName))
		}
	}
	for _, cmd := range s.Source.Commands(h) {
		res, err := procrun.RunSSH(ctx, logger, h.Name, s.Login, cmd, procrun.SSHOptions{})
		if err != nil || res.ExitCode != 0 {
			return domain.Failed(fmt.Sprintf("failed to %s", s.StageName))
		}
	}
	return domain.Ok()
}

// cowConfigSource implements RunCommandsSource for StoreCOWConfig.
type cowConfigSource struct{}

func (cowConfigSource) FilesToCopy(h *domain.Host) []FileCopy { return nil }

func (cowConfigSource) Commands(h *domain.Host) [][]string {
	base := "/root/cow/conf.sh"
	return [][]string{
		{base, "mkdir", "-p", "{}/puppet/certs", "{}/puppet/private_keys"},
		{base, "cp", "-a", "/var/lib/puppet/ssl/certs/ca.pem", "{}/puppet/certs"},
		{base, "cp", "-a", fmt.Sprintf("/var/lib/puppet/ssl/certs/%s.pem", h.Name), "{}/puppet/certs"},
		{base, "cp", "-a", fmt.Sprintf("/var/lib/puppet/ssl/private_keys/%s.pem", h.Name), "{}/puppet/private_keys"},
	}
}

// NewStoreCOWConfig stores Puppet SSL material into the COW config
// partition, grounded on stages/config.py's StoreCOWConfig. The remote
// conf.sh substitutes the "{}" placeholders itself (spec §9 open question
// (a): this coupling is documented, not reproduced here).
func NewStoreCOWConfig(login string, poolSize int) *RunCommands {
	return &RunCommands{StageName: "StoreCOWConfig", Login: login, Source: cowConfigSource{}, PoolSizeValue: poolSize}
}

// WindowsSetupOptions configures CustomizeWindowsSetup, grounded on
// stages/config.py's CustomizeWindowsSetup mixins (WithWindowsRootPartition,
// WithWindowsDataPartition, WithWindowsDriverSearchPath).
type WindowsSetupOptions struct {
	RootPartition string
	DataLabel     string
	DataLetter    string
	DriverPath    string
	CustomizePy   string
	FilterRegPy   string
}

type windowsSetupSource struct {
	opts WindowsSetupOptions
}

func (w windowsSetupSource) FilesToCopy(h *domain.Host) []FileCopy {
	files := []FileCopy{{Src: w.opts.CustomizePy, Dst: "/tmp/customize.py"}}
	if w.opts.DataLabel != "" {
		files = append(files, FileCopy{Src: w.opts.FilterRegPy, Dst: "/tmp/filter_reg.py"})
	}
	return files
}

func (w windowsSetupSource) Commands(h *domain.Host) [][]string {
	const mountpoint = "/mnt"
	prefix := "/ProgramData/ssh"
	if h.Props["windows.is_cygwin"] == "true" {
		prefix = "/cygwin64/etc"
	}

	cmds := [][]string{
		{"mount", w.opts.RootPartition, mountpoint},
		{fmt.Sprintf("cp /etc/ssh/ssh_host_*_key{,.pub} %s%s", mountpoint, prefix)},
		{"python3", "/tmp/customize.py", mountpoint + "/Windows/Panther/unattend.xml"},
	}
	if hardware := h.Props["hardware"]; hardware != "" {
		setup := "/mnt/drivers/setup.cmd"
		cmds = append(cmds, []string{"bash", "-c", fmt.Sprintf("echo 'call %%~dp0setup-impl.cmd %s' > %s", hardware, setup)})
	}
	cmds = append(cmds, []string{"umount", mountpoint})
	if w.opts.DataLabel != "" {
		cmds = append(cmds,
			[]string{"mount", w.opts.DataLetter, mountpoint},
			[]string{"rm", "-rf", mountpoint + "/Users/Administrator*"},
			[]string{"rm", "-rf", mountpoint + "/Users/UpdatusUser*"},
			[]string{"python3", "/tmp/filter_reg.py", "-q", "-f", ".+-500$",
				mountpoint + "/Users/profiles.reg", mountpoint + "/Users/profiles.reg"},
			[]string{"umount", mountpoint},
		)
	}
	return cmds
}

// NewCustomizeWindowsSetup customizes SSH credentials and sysprep config
// in the Windows root partition, grounded on stages/config.py's
// CustomizeWindowsSetup.
func NewCustomizeWindowsSetup(login string, opts WindowsSetupOptions, poolSize int) *RunCommands {
	return &RunCommands{
		StageName:     "CustomizeWindowsSetup",
		Login:         login,
		Source:        windowsSetupSource{opts: opts},
		PoolSizeValue: poolSize,
	}
}
