package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/oriys/dg/internal/domain"
	"github.com/oriys/dg/internal/metrics"
	"github.com/oriys/dg/internal/observability"
)

// runStage dispatches st to whichever of the three fan-out shapes it
// implements and runs it to completion. Exactly one of SerialRunner,
// HostRunner, or ParallelRunner must be implemented by a real stage; stages
// satisfying none of them are a programming error, caught by Pipeline at
// construction time (see NewPipeline).
func runStage(ctx context.Context, state *domain.State, st domain.Stage) error {
	switch s := st.(type) {
	case domain.SerialRunner:
		return s.Run(ctx, state)
	case domain.HostRunner:
		return runHost(ctx, state, s)
	case domain.ParallelRunner:
		return runParallel(ctx, state, s)
	default:
		return nil
	}
}

// runHost runs a HostRunner over the sorted active set, one host at a time,
// on the calling goroutine. A host whose RunSingle errors is failed and
// skipped; other hosts still run. This never returns an error itself —
// per-host failure is isolation, not a pipeline-level fault (spec
// scenario S2).
func runHost(ctx context.Context, state *domain.State, s domain.HostRunner) error {
	for _, h := range state.ActiveHosts() {
		hctx := domain.WithHostLogger(ctx, state.Logger(), h)
		hctx, span := observability.StartSpan(hctx, "host.run",
			observability.AttrStageName.String(s.Name()), observability.AttrHostName.String(h.Name))
		err := s.RunSingle(hctx, state, h)
		metrics.RecordHostOutcome(s.Name(), err != nil)
		if err != nil {
			observability.SetSpanError(span, err)
			state.FailHost(h, s.Name(), err.Error())
		} else {
			observability.SetSpanOK(span)
		}
		span.End()
	}
	return nil
}

// parallelResult pairs a host with the outcome of running it, returned over
// the results channel so the driver goroutine (this function) is the only
// writer to State, per the contract on domain.ParallelRunner.
type parallelResult struct {
	host    *domain.Host
	outcome domain.Outcome
}

// runParallel fans a ParallelRunner's per-host work out across a bounded
// worker pool, then applies every Outcome back onto State sequentially on
// the calling goroutine. This is the Go-native replacement for the original
// implementation's multiprocessing.Pool: goroutines share memory, so
// per-host results cross the jobs/results channels instead of being
// collected from forked worker processes, and State is only ever written
// here, not from worker goroutines.
func runParallel(ctx context.Context, state *domain.State, s domain.ParallelRunner) error {
	hosts := state.ActiveHosts()
	if len(hosts) == 0 {
		return nil
	}

	poolSize := s.PoolSize()
	if poolSize <= 0 || poolSize > len(hosts) {
		poolSize = len(hosts)
	}

	if preparer, ok := s.(domain.ParallelPreparer); ok {
		teardown, err := preparer.Prepare(ctx)
		if err != nil {
			return fmt.Errorf("stage %q prepare: %w", s.Name(), err)
		}
		if teardown != nil {
			defer teardown()
		}
	}

	jobs := make(chan *domain.Host)
	results := make(chan parallelResult, len(hosts))

	var wg sync.WaitGroup
	wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go func() {
			defer wg.Done()
			for h := range jobs {
				hctx := domain.WithHostLogger(ctx, state.Logger(), h)
				hctx, span := observability.StartSpan(hctx, "host.run",
					observability.AttrStageName.String(s.Name()), observability.AttrHostName.String(h.Name))
				outcome := s.RunSingle(hctx, state, h)
				metrics.RecordHostOutcome(s.Name(), outcome.IsFailed())
				if outcome.IsFailed() {
					observability.SetSpanError(span, fmt.Errorf("%s", outcome.Reason()))
				} else {
					observability.SetSpanOK(span)
				}
				span.End()
				results <- parallelResult{host: h, outcome: outcome}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, h := range hosts {
			select {
			case jobs <- h:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.outcome.IsFailed() {
			state.FailHost(r.host, s.Name(), r.outcome.Reason())
		}
	}
	return ctx.Err()
}

// rollbackStage calls whichever rollback hook st implements. A Rollbacker's
// error is returned and logged by the caller (see rollbackReverse); a
// HostRollbacker's per-host errors are logged here, so one failing host does
// not keep the remaining failed hosts from being rolled back. A stage
// implementing neither interface is a no-op rollback, the common case for
// stages with no external side effects (e.g. ExcludeBannedHosts).
func rollbackStage(ctx context.Context, state *domain.State, st domain.Stage) error {
	if r, ok := st.(domain.Rollbacker); ok {
		return r.Rollback(ctx, state)
	}
	if r, ok := st.(domain.HostRollbacker); ok {
		for _, h := range state.FailedHosts() {
			hctx := domain.WithHostLogger(ctx, state.Logger(), h)
			if err := r.RollbackSingle(hctx, state, h); err != nil {
				state.Logger().Error("host rollback failed", "stage", st.Name(), "host", h.Name, "error", err)
			}
		}
	}
	return nil
}

// rollbackReverse walks executed in reverse, calling each stage's rollback
// hook. Any error is logged and swallowed — per spec, a rollback failure
// must never mask the fault that triggered rollback in the first place,
// and must not stop earlier stages from also getting a chance to roll back.
func rollbackReverse(ctx context.Context, state *domain.State, executed []domain.Stage) {
	logger := state.Logger()
	for i := len(executed) - 1; i >= 0; i-- {
		st := executed[i]
		if err := rollbackStage(ctx, state, st); err != nil {
			logger.Error("stage rollback failed", "stage", st.Name(), "error", err)
		}
	}
}
