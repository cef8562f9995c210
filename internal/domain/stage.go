package domain

import "context"

// Stage is the minimal contract every deployment stage satisfies: a name for
// logging, the --stages (-s) flag, and reporting.
type Stage interface {
	Name() string
}

// SerialRunner is a stage that acts on the whole fleet at once rather than
// host-by-host (e.g. reserving a shared resource, publishing one snapshot
// consumed by every host). Its Run sees the full State and is responsible
// for calling State.FailHost itself if only part of the fleet is affected.
type SerialRunner interface {
	Stage
	Run(ctx context.Context, state *State) error
}

// HostRunner is a stage that repeats independent, sequential, per-host work
// over State.ActiveHosts(), in sorted order, on the calling goroutine.
type HostRunner interface {
	Stage
	RunSingle(ctx context.Context, state *State, host *Host) error
}

// Outcome is a ParallelRunner's per-host result. Mirrors the original
// implementation's per-worker return value of either None (success) or a
// failure reason string, as an explicit sum type rather than a nilable
// string.
type Outcome struct {
	failed bool
	reason string
}

// Ok is a successful Outcome.
func Ok() Outcome { return Outcome{} }

// Failed is an Outcome reporting why the host's work did not complete.
func Failed(reason string) Outcome { return Outcome{failed: true, reason: reason} }

// IsFailed reports whether the outcome represents a failure.
func (o Outcome) IsFailed() bool { return o.failed }

// Reason returns the failure reason, or "" for a successful Outcome.
func (o Outcome) Reason() string { return o.reason }

// ParallelRunner is a stage whose per-host work runs concurrently across a
// worker pool (see the engine's runParallel). RunSingle must not mutate State
// directly — it reports its result via the returned Outcome, and the stage
// kernel applies State.FailHost on the single driver goroutine, preserving
// the single-writer contract documented on State.
type ParallelRunner interface {
	Stage
	RunSingle(ctx context.Context, state *State, host *Host) Outcome

	// PoolSize returns the worker pool size for this stage, or 0 to default
	// to len(state.ActiveHosts()) (one worker per active host, the
	// original implementation's default multiprocessing.Pool sizing).
	PoolSize() int
}

// ParallelPreparer is implemented by a ParallelRunner that needs to start
// or stop an auxiliary process around the whole fan-out — e.g. a local
// iperf server shared by every host's measurement. Prepare runs once
// before any worker starts; the func it returns runs once after every
// worker finishes, even if the run was aborted by context cancellation.
type ParallelPreparer interface {
	Prepare(ctx context.Context) (func(), error)
}

// Rollbacker undoes whatever a SerialRunner or HostRunner did, for hosts
// that ended up in State.FailedHosts() by the time rollback runs. Called by
// the pipeline driver in reverse stage order; see engine.Pipeline.
type Rollbacker interface {
	Rollback(ctx context.Context, state *State) error
}

// HostRollbacker is the per-host flavor of Rollbacker, invoked once per
// currently-failed host. Most stages that touch per-host state (boot
// target, redirection) implement this instead of Rollbacker directly.
type HostRollbacker interface {
	RollbackSingle(ctx context.Context, state *State, host *Host) error
}
