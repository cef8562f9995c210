package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/procrun"
)

// NDDSpec is one parsed -n flag value:
// "[HOST:]INPUT[,iarg…]:OUTPUT[,oarg…][+args]", grounded on stages/ndd.py's
// RunNDD.run and its use of spec fields (source, input_, iargs, output,
// args).
type NDDSpec struct {
	Source string
	Input  string
	IArgs  []string
	Output string
	OArgs  []string
	Args   string
}

// ParseNDDSpec parses one -n flag value.
func ParseNDDSpec(raw string) (NDDSpec, error) {
	main, args, _ := strings.Cut(raw, "+")

	parts := strings.Split(main, ":")
	var spec NDDSpec
	switch len(parts) {
	case 2:
		spec.Input, spec.Output = parts[0], parts[1]
	case 3:
		spec.Source, spec.Input, spec.Output = parts[0], parts[1], parts[2]
	default:
		return NDDSpec{}, fmt.Errorf("ndd: malformed spec %q", raw)
	}
	spec.Args = args

	inputFields := strings.Split(spec.Input, ",")
	spec.Input = inputFields[0]
	spec.IArgs = inputFields[1:]

	outputFields := strings.Split(spec.Output, ",")
	spec.Output = outputFields[0]
	spec.OArgs = outputFields[1:]

	return spec, nil
}

// inputPartition returns the 1-based partition index requested by a "pN"
// iarg, or 0 if none is present.
func (s NDDSpec) inputPartition() int {
	for _, opt := range s.IArgs {
		if strings.HasPrefix(opt, "p") {
			n, err := strconv.Atoi(opt[1:])
			if err == nil {
				return n
			}
		}
	}
	return 0
}

// exposePartitions runs kpartx -a against path, returning the list of
// /dev/mapper/* device paths it creates, and a cleanup function that runs
// kpartx -d. Grounded on stages/ndd.py's exposed_partitions.
func exposePartitions(ctx context.Context, logger *slog.Logger, path string) ([]string, func(), error) {
	resolved := path
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Readlink(path); err == nil {
			resolved = target
		}
	}

	listed, err := procrun.RunLocal(ctx, logger, []string{"kpartx", "-l", resolved})
	if err != nil {
		return nil, nil, err
	}
	var partitions []string
	for _, line := range strings.Split(strings.TrimSpace(listed.Stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		partitions = append(partitions, "/dev/mapper/"+fields[0])
	}

	logger.Info("exposing partitions with kpartx", "path", resolved)
	if _, err := procrun.RunLocal(ctx, logger, []string{"kpartx", "-a", "-r", resolved}); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		logger.Info("un-exposing partitions", "path", resolved)
		_, _ = procrun.RunLocal(ctx, logger, []string{"kpartx", "-d", resolved})
	}
	return partitions, cleanup, nil
}

// RunNDD drives the NDD bulk-transfer tool for every configured spec,
// grounded on stages/ndd.py's RunNDD.
type RunNDD struct {
	Config   *configclient.Client
	NDDs     []NDDSpec
	NDDPort  int
	Login    string
	LocalAddr string
}

func (s *RunNDD) Name() string { return "RunNDD" }

func (s *RunNDD) Run(ctx context.Context, state *domain.State) error {
	logger := state.Logger()
	for _, spec := range s.NDDs {
		if err := s.runOne(ctx, state, logger, spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *RunNDD) runOne(ctx context.Context, state *domain.State, logger *slog.Logger, spec NDDSpec) error {
	input := spec.Input
	if partition := spec.inputPartition(); partition > 0 {
		partitions, cleanup, err := exposePartitions(ctx, logger, spec.Input)
		if err != nil {
			return err
		}
		defer cleanup()
		if partition > len(partitions) {
			return fmt.Errorf("ndd: partition p%d requested but only %d exposed", partition, len(partitions))
		}
		input = partitions[partition-1]
	}

	args := []string{"/usr/local/bin/ndd.py", "-p", strconv.Itoa(s.NDDPort), "-i", input, "-o", spec.Output}

	var source string
	var remoteSource string
	if spec.Source != "" {
		info, err := s.Config.GetHost(ctx, spec.Source)
		if err != nil {
			return err
		}
		remoteSource = info.Name
		source = fmt.Sprintf("%s@%s", s.Login, remoteSource)
	} else {
		args = append(args, "--local")
		source = s.LocalAddr
	}
	args = append(args, "-s", source)

	if spec.Args != "" {
		args = append(args, "-"+spec.Args)
	}

	hosts := state.ActiveHosts()
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Props["switch"] < hosts[j].Props["switch"]
	})
	for _, h := range hosts {
		if remoteSource != "" && h.Name == remoteSource {
			continue
		}
		args = append(args, "-d", fmt.Sprintf("%s@%s", s.Login, h.Name))
	}

	res, err := procrun.RunLocal(ctx, logger, args)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		for _, h := range state.ActiveHosts() {
			state.FailHost(h, s.Name(), "failed to run ndd.py")
		}
	}
	return nil
}
