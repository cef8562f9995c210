package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/procrun"
)

// Timeout is a (step, total) pair for an ExecuteRemoteCommands wait loop.
type Timeout struct {
	Step  time.Duration
	Total time.Duration
}

// Timeouts mirrors stages/ssh.py's Timeouts table: named step/total pairs
// reused across the wait/reboot stage variants below, supplementing
// spec.md's single generic pair per SPEC_FULL.md §4.
var Timeouts = struct {
	Tiny, Small, Normal, Big Timeout
}{
	Tiny:   Timeout{Step: 4 * time.Second, Total: 20 * time.Second},
	Small:  Timeout{Step: 10 * time.Second, Total: 2 * time.Minute},
	Normal: Timeout{Step: 10 * time.Second, Total: 10 * time.Minute},
	Big:    Timeout{Step: 30 * time.Second, Total: 30 * time.Minute},
}

// Command is one candidate login+shell-command pair tried in order by
// ExecuteRemoteCommands, grounded on stages/ssh.py's Command namedtuple.
type Command struct {
	Login   string
	Command []string
}

const (
	puppetLastRunReport = "/var/cache/puppet/state/last_run_report.yaml"
	rebootMarker         = "/tmp/rebooting"

	checkWin       = "ver | findstr /I Windows"
	checkWinCygwin = "uname | grep -q NT"
	rebootWin      = "shutdown /r /t 0"
)

var checkLinux = fmt.Sprintf(
	`test -f %s && grep "^status:" %s | egrep -q "(un)?changed" && ! test -f %s`,
	puppetLastRunReport, puppetLastRunReport, rebootMarker)

var checkLinuxMem = fmt.Sprintf("grep -q cowtype=mem /proc/cmdline && %s", checkLinux)

var rebootLinux = fmt.Sprintf("touch %s && shutdown -r now", rebootMarker)

// CommandSource returns the ordered list of candidate commands to try for
// a host; each concrete stage below supplies its own.
type CommandSource interface {
	Commands(h *domain.Host) []Command
}

// ExecuteRemoteCommands repeatedly tries each candidate command over SSH
// until one succeeds or Total elapses, grounded on stages/ssh.py's
// ExecuteRemoteCommands. It is the shared base every wait/reboot stage
// variant below embeds.
type ExecuteRemoteCommands struct {
	StageName     string
	Timeout       Timeout
	LinuxLogin    string
	WindowsLogin  string
	Source        CommandSource
	PoolSizeValue int
}

func (s *ExecuteRemoteCommands) Name() string { return s.StageName }

func (s *ExecuteRemoteCommands) PoolSize() int { return s.PoolSizeValue }

func (s *ExecuteRemoteCommands) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) domain.Outcome {
	commands := s.Source.Commands(h)
	if len(commands) == 0 {
		return domain.Ok()
	}

	logger := domain.LoggerFromContext(ctx, state.Logger())
	err := engine.WaitFor(ctx, "remote command success", s.Timeout.Total, s.Timeout.Step, func(ctx context.Context) (bool, error) {
		for _, cmd := range commands {
			res, err := procrun.RunSSH(ctx, logger, h.Name, cmd.Login, cmd.Command, procrun.SSHOptions{ConnectTimeout: 5})
			if err == nil && res.ExitCode == 0 {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return domain.Failed("failed to execute remote commands")
	}
	return domain.Ok()
}

// winCommands expands a Windows command across every login candidate the
// host's Cygwin status implies (the original's get_win_commands; here
// reduced to the single resolved login, since login-candidate resolution
// is itself config-service-dependent and out of the core's scope).
func winCommands(login, cmd string) []Command {
	return []Command{{Login: login, Command: []string{cmd}}}
}

// waitSource adapts a plain function to CommandSource.
type waitSource func(h *domain.Host) []Command

func (f waitSource) Commands(h *domain.Host) []Command { return f(h) }

// NewWaitUntilBootedIntoCOWMemory waits until a host answers as having
// booted the COW-memory image.
func NewWaitUntilBootedIntoCOWMemory(linuxLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:  "WaitUntilBootedIntoCOWMemory",
		Timeout:    Timeouts.Big,
		LinuxLogin: linuxLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			return []Command{{Login: linuxLogin, Command: []string{checkLinuxMem}}}
		}),
	}
}

// NewCheckIsAccessible waits until a host is reachable via SSH, whether
// booted into Linux or Windows.
func NewCheckIsAccessible(linuxLogin, windowsLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:    "CheckIsAccessible",
		Timeout:      Timeouts.Normal,
		LinuxLogin:   linuxLogin,
		WindowsLogin: windowsLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			isCygwin := h.Props["windows.is_cygwin"] == "true"
			winCmd := checkWin
			if isCygwin {
				winCmd = checkWinCygwin
			}
			cmds := winCommands(windowsLogin, winCmd)
			return append(cmds, Command{Login: linuxLogin, Command: []string{checkLinux}})
		}),
	}
}

// NewRebootHost reboots a host, whichever OS answers first.
func NewRebootHost(linuxLogin, windowsLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:    "RebootHost",
		Timeout:      Timeouts.Small,
		LinuxLogin:   linuxLogin,
		WindowsLogin: windowsLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			cmds := winCommands(windowsLogin, rebootWin)
			return append(cmds, Command{Login: linuxLogin, Command: []string{rebootLinux}})
		}),
	}
}

// NewMaybeRebootLocalLinux reboots a host booted into local Linux only if
// that isn't its default boot target (so a subsequent wait observes a
// fresh boot, not a no-op).
func NewMaybeRebootLocalLinux(linuxLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:  "MaybeRebootLocalLinux",
		Timeout:    Timeouts.Small,
		LinuxLogin: linuxLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			if BootsToLocalLinuxByDefault(h) {
				return nil
			}
			return []Command{{Login: linuxLogin, Command: []string{rebootLinux}}}
		}),
	}
}

// NewWaitUntilBootedIntoLocalWindows waits until a host has booted its
// local Windows install.
func NewWaitUntilBootedIntoLocalWindows(windowsLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:    "WaitUntilBootedIntoLocalWindows",
		Timeout:      Timeouts.Big,
		WindowsLogin: windowsLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			return winCommands(windowsLogin, checkWin)
		}),
	}
}

// NewWaitUntilBootedIntoLocalLinux waits until a host has booted its local
// Linux install.
func NewWaitUntilBootedIntoLocalLinux(linuxLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:  "WaitUntilBootedIntoLocalLinux",
		Timeout:    Timeouts.Big,
		LinuxLogin: linuxLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			return []Command{{Login: linuxLogin, Command: []string{checkLinux}}}
		}),
	}
}

// NewRebootNonDefaultOS reboots whichever OS a host is NOT configured to
// boot by default, to exercise the non-default path.
func NewRebootNonDefaultOS(linuxLogin, windowsLogin string) *ExecuteRemoteCommands {
	return &ExecuteRemoteCommands{
		StageName:    "RebootNonDefaultOS",
		Timeout:      Timeouts.Small,
		LinuxLogin:   linuxLogin,
		WindowsLogin: windowsLogin,
		Source: waitSource(func(h *domain.Host) []Command {
			if BootsToWindowsByDefault(h, "windows7") {
				return []Command{{Login: linuxLogin, Command: []string{rebootLinux}}}
			}
			return winCommands(windowsLogin, rebootWin)
		}),
	}
}
