package stages

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/procrun"
)

// EnsureNetworkSpeed measures each active host's throughput to a local
// iperf server and fails hosts below the configured minimum, grounded on
// stages/network.py's EnsureNetworkSpeed.
type EnsureNetworkSpeed struct {
	PoolSizeValue int
	MinMbits      int
	Seconds       int
	LocalAddr     string
	Login         string
}

func (s *EnsureNetworkSpeed) Name() string { return "EnsureNetworkSpeed" }

func (s *EnsureNetworkSpeed) PoolSize() int { return s.PoolSizeValue }

// Prepare starts a local iperf server for the duration of the fan-out,
// grounded on EnsureNetworkSpeed.prepared's subprocess.Popen(['iperf', '-s']).
func (s *EnsureNetworkSpeed) Prepare(ctx context.Context) (func(), error) {
	cmd := exec.Command("iperf", "-s")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting iperf server: %w", err)
	}
	return func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}, nil
}

func (s *EnsureNetworkSpeed) RunSingle(ctx context.Context, state *domain.State, h *domain.Host) domain.Outcome {
	logger := domain.LoggerFromContext(ctx, state.Logger())
	res, err := procrun.RunSSH(ctx, logger, h.Name, s.Login,
		[]string{"iperf", "-c", s.LocalAddr, "-t", strconv.Itoa(s.Seconds), "-y", "c"}, procrun.SSHOptions{})
	if err != nil {
		return domain.Failed(fmt.Sprintf("failed to execute iperf -c: %v", err))
	}
	if res.ExitCode != 0 {
		return domain.Failed(fmt.Sprintf("failed to execute iperf -c, rv is %d", res.ExitCode))
	}

	tokens := strings.Split(strings.TrimSpace(res.Stdout), ",")
	if len(tokens) != 9 {
		return domain.Failed(fmt.Sprintf("failed to parse iperf output, it was: %s", res.Stdout))
	}
	bps, err := strconv.Atoi(tokens[8])
	if err != nil {
		return domain.Failed(fmt.Sprintf("failed to parse iperf output, it was: %s", res.Stdout))
	}
	speed := bps / 1_000_000

	if speed < s.MinMbits {
		return domain.Failed(fmt.Sprintf("insufficient network speed: need %d Mbits/s, got %d Mbits/s", s.MinMbits, speed))
	}
	if speed < s.MinMbits*6/5 {
		logger.Warn("measured network speed is close to minimum", "host", h.Name, "speed_mbits", speed, "minimum_mbits", s.MinMbits)
	} else {
		logger.Info("measured network speed", "host", h.Name, "speed_mbits", speed)
	}
	return domain.Ok()
}
