package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/metrics"
	"github.com/oriys/dg/internal/observability"
)

// Pipeline drives an ordered list of stages against a single State. It is
// the Go equivalent of the original implementation's Method.run(): run each
// stage in order, and when a stage either raises or wipes out the entire
// active set, roll back every stage that completed successfully before it,
// in reverse order, then fold the round's failures into all_failed and
// move on.
type Pipeline struct {
	Stages []domain.Stage

	// MethodName, if set, is attached to the run's top-level span and the
	// summary log line. Purely descriptive — it plays no role in execution.
	MethodName string
}

// NewPipeline validates that every stage implements at least one of the
// three run shapes (a stage satisfying none of them can never do anything,
// almost certainly a wiring mistake) and returns a Pipeline ready to Run.
func NewPipeline(stages []domain.Stage) (*Pipeline, error) {
	for _, st := range stages {
		switch st.(type) {
		case domain.SerialRunner, domain.HostRunner, domain.ParallelRunner:
		default:
			return nil, fmt.Errorf("stage %q implements none of SerialRunner, HostRunner, ParallelRunner", st.Name())
		}
	}
	return &Pipeline{Stages: stages}, nil
}

// Run executes the pipeline. It returns nil if at least one host remains
// active at the end (domain.State.Success), domain.ErrAllHostsFailed if the
// pipeline ran to completion with no active hosts, or the error from a
// stage that raised (a fatal, pipeline-aborting fault per spec §7).
func (p *Pipeline) Run(ctx context.Context, state *domain.State) (runErr error) {
	logger := state.Logger()
	var executed []domain.Stage

	ctx, runSpan := observability.StartSpan(ctx, "run",
		observability.AttrRunID.String(state.RunID()), observability.AttrMethodName.String(p.MethodName))
	defer func() {
		if runErr != nil {
			observability.SetSpanError(runSpan, runErr)
		} else {
			observability.SetSpanOK(runSpan)
		}
		runSpan.End()
	}()

	for _, st := range p.Stages {
		hadActive := len(state.ActiveHosts()) > 0

		logger.Info("stage starting", "stage", st.Name())
		spanCtx, span := observability.StartSpan(ctx, "stage.run", observability.AttrStageName.String(st.Name()))
		start := time.Now()
		err := runStage(spanCtx, state, st)
		elapsed := time.Since(start)
		span.SetAttributes(observability.AttrDurationMs.Int64(elapsed.Milliseconds()))
		metrics.ObserveStageDuration(st.Name(), elapsed.Seconds())
		if err != nil {
			observability.SetSpanError(span, err)
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
		if err != nil {
			logger.Error("stage failed, aborting pipeline", "stage", st.Name(), "error", err)
			rollbackReverse(ctx, state, executed)
			state.MergeFailedIntoAllFailed()
			return fmt.Errorf("stage %q: %w", st.Name(), err)
		}

		wipedOut := hadActive && len(state.ActiveHosts()) == 0
		if wipedOut {
			logger.Error("stage left no active hosts, rolling back", "stage", st.Name())
			rollbackReverse(ctx, state, executed)
			state.MergeFailedIntoAllFailed()
			executed = nil
			continue
		}

		logger.Info("stage complete", "stage", st.Name(), "active", len(state.ActiveHosts()))
		executed = append(executed, st)
	}

	if !state.Success() {
		return domain.ErrAllHostsFailed
	}
	return nil
}

// RunWithLogger is a convenience wrapper for callers that want the final
// summary (active/failed/all-failed counts) logged regardless of outcome,
// matching the report the original implementation prints at method exit.
func RunWithLogger(ctx context.Context, p *Pipeline, state *domain.State, logger *slog.Logger) error {
	err := p.Run(ctx, state)
	logger.Info("run finished",
		"active", len(state.ActiveHosts()),
		"failed", len(state.FailedHosts()),
		"all_failed", len(state.AllFailedHosts()),
		"success", err == nil,
	)
	return err
}
