package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/oriys/dg/internal/configclient"
	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/engine"
	"github.com/oriys/dg/internal/lockfile"
	"github.com/oriys/dg/internal/methods"
	"github.com/oriys/dg/internal/option"
	"github.com/oriys/dg/internal/report"
	"github.com/spf13/cobra"
)

func deployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "deploy",
		Short:              "Run a deployment method against a set of hosts",
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), args)
		},
	}
	return cmd
}

// exitError carries a precise process exit code, per spec §7's four error
// categories, distinct from a bare error (which always means "something
// went wrong, exit 1").
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func runDeploy(ctx context.Context, rawArgs []string) error {
	args, err := resolveConfigFile(rawArgs)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	svcCfg := loadedConfig

	registry := buildOptionRegistry()

	discovery, err := option.ParseDiscovery(registry, args)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	methodName := discovery.Values.String("m")
	if methodName == "" {
		return &exitError{code: 2, err: errors.New("deploy: -m is required")}
	}
	if methodName != "simple" {
		return &exitError{code: 2, err: fmt.Errorf("deploy: unknown method %q", methodName)}
	}

	cfgClient := configclient.NewClient(discovery.Values.String("c"), nil)
	allStages := buildSimpleStages(discovery.Values, cfgClient)

	methodsReg := methods.NewRegistry()
	methodsReg.Register(&methods.Method{
		Name:        "simple",
		Description: "method for deploying pre-configured machines",
		Stages:      allStages,
	})
	method, err := methodsReg.Get(methodName)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	stageSpec := discovery.Values.StringSlice("s")
	if discovery.Values.Changed("s") && len(stageSpec) == 0 {
		printStageList(method)
		return nil
	}

	draftSelected, err := methods.SelectStages(method, stageSpec)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	stageTypes := methods.StageTypeNames(&methods.Method{Stages: draftSelected})
	methodValues, err := option.ParseMethodSpecific(registry, stageTypes, args)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	cfgClient = configclient.NewClient(methodValues.String("c"), nil)
	method.Stages = buildSimpleStages(methodValues, cfgClient)

	selected, err := methods.SelectStages(method, stageSpec)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	hostNames := methodValues.StringSlice("H")
	groupNames := methodValues.StringSlice("g")
	if len(hostNames) == 0 && len(groupNames) == 0 {
		return &exitError{code: 2, err: domain.ErrNoHostsSelected}
	}
	bindHostSelection(method.Stages, hostNames, groupNames)

	var lockSpecs []lockfile.Spec
	for _, raw := range methodValues.StringSlice("lock") {
		lockSpecs = append(lockSpecs, lockfile.ParseSpec(raw))
	}

	pipeline, err := engine.NewPipeline(selected)
	if err != nil {
		return err
	}
	pipeline.MethodName = methodName

	meta := report.Meta{
		Method:      methodName,
		Targets:     append(append([]string{}, hostNames...), groupNames...),
		CommandLine: append([]string{"dg", "deploy"}, rawArgs...),
	}

	var runErr error
	state, err := report.Capture(meta, methodValues.Bool("C"), methodValues.StringSlice("r"), svcCfg.SMTPRelay,
		func(logger *slog.Logger) *domain.State {
			st := domain.NewState(logger)

			locks, lockErr := lockfile.AcquireAll(ctx, logger, lockSpecs)
			if lockErr != nil {
				runErr = &exitError{code: lockfile.ContendedExitCode, err: lockErr}
				return st
			}
			defer lockfile.ReleaseAll(logger, locks)

			runErr = pipeline.Run(ctx, st)
			return st
		})
	if err != nil {
		return err
	}

	if runErr != nil {
		if errors.Is(runErr, domain.ErrAllHostsFailed) {
			return &exitError{code: 1, err: runErr}
		}
		var ee *exitError
		if errors.As(runErr, &ee) {
			return ee
		}
		return &exitError{code: 1, err: runErr}
	}
	if !state.Success() {
		return &exitError{code: 1, err: domain.ErrAllHostsFailed}
	}
	return nil
}

func printStageList(m *methods.Method) {
	fmt.Fprintf(os.Stderr, "Stages of %q method:\n", m.Name)
	for i, st := range m.Stages {
		fmt.Fprintf(os.Stderr, "%3d: %s\n", i, st.Name())
	}
}

// resolveConfigFile implements invariant 6: "--config FILE is equivalent to
// parsing the tokenised fields of the JSON object as CLI args", grounded on
// common/config.py's get_args. --config is rejected in combination with any
// other flag, matching the original's config_parser.error(...) path.
func resolveConfigFile(args []string) ([]string, error) {
	for i, a := range args {
		switch {
		case a == "--config":
			if len(args) != 2 {
				return nil, errors.New("option: --config is not compatible with other options")
			}
			return option.ArgsFromConfigFile(args[i+1])
		case strings.HasPrefix(a, "--config="):
			if len(args) != 1 {
				return nil, errors.New("option: --config is not compatible with other options")
			}
			return option.ArgsFromConfigFile(strings.TrimPrefix(a, "--config="))
		}
	}
	return args, nil
}
