package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// State is the run context shared across a single deployment. Exactly one
// State exists per run; it owns the active/failed/all-failed host sets and
// the run's structured logger.
//
// State is safe for concurrent reads (ActiveHosts/FailedHosts snapshots);
// mutation (FailHost, AddHost) is expected to come from a single driver
// goroutine per the stage kernel's contract (see the engine's runParallel),
// but the mutex here makes that contract defensive rather than load-bearing.
type State struct {
	mu        sync.Mutex
	active    map[string]*Host
	failed    map[string]*Host
	allFailed map[string]*Host
	logger    *slog.Logger
	runID     string
}

// NewState creates an empty State, stamped with a fresh run ID that the
// pipeline attaches to the run's trace span.
// Hosts are added by the InitHosts stage.
func NewState(logger *slog.Logger) *State {
	return &State{
		active:    make(map[string]*Host),
		failed:    make(map[string]*Host),
		allFailed: make(map[string]*Host),
		logger:    logger,
		runID:     uuid.New().String(),
	}
}

// Logger returns the run's base logger (no host prefix).
func (s *State) Logger() *slog.Logger { return s.logger }

// RunID returns this run's unique identifier.
func (s *State) RunID() string { return s.runID }

// AddHost adds h to the active set. Returns an error if a host with the
// same name already exists in any set, preserving invariant (a): active
// and failed never overlap, and names are unique for deterministic sort.
func (s *State) AddHost(h *Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[h.Name]; ok {
		return fmt.Errorf("host %s already present", h.Name)
	}
	if _, ok := s.failed[h.Name]; ok {
		return fmt.Errorf("host %s already present", h.Name)
	}
	if _, ok := s.allFailed[h.Name]; ok {
		return fmt.Errorf("host %s already present", h.Name)
	}
	s.active[h.Name] = h
	return nil
}

// FailHost moves h from active to failed, recording stage and reason. It is
// idempotent: failing an already-failed host is a no-op.
func (s *State) FailHost(h *Host, stage, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[h.Name]; !ok {
		return
	}
	h.Fail(stage, reason)
	delete(s.active, h.Name)
	s.failed[h.Name] = h
	s.logger.Error("host failed", "host", h.Name, "stage", stage, "reason", reason)
}

// ActiveHosts returns the active set sorted by name (invariant (c)).
func (s *State) ActiveHosts() []*Host { return s.sorted(s.active) }

// FailedHosts returns the current-stage failed set sorted by name.
func (s *State) FailedHosts() []*Host { return s.sorted(s.failed) }

// AllFailedHosts returns every host that has ever failed, across all
// rollback merges, sorted by name.
func (s *State) AllFailedHosts() []*Host { return s.sorted(s.allFailed) }

func (s *State) sorted(m map[string]*Host) []*Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Host, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MergeFailedIntoAllFailed folds the current failed set into all_failed and
// starts a fresh, empty failed set for the next stage. Hosts are never
// re-activated (invariant (b)); only InitHosts populates active.
func (s *State) MergeFailedIntoAllFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, h := range s.failed {
		s.allFailed[name] = h
	}
	s.failed = make(map[string]*Host)
}

// Success reports whether the run should be considered successful: at
// least one host remains active.
func (s *State) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

type hostLoggerKey struct{}

// WithHostLogger returns a context carrying a logger prefixed with the
// host's name, the Go-native replacement for the original implementation's
// mutable "current host" attribute on State (see SPEC_FULL.md §1): each
// parallel worker goroutine gets its own context value instead of mutating
// shared state, so the prefix can never leak across concurrently-running
// hosts.
func WithHostLogger(ctx context.Context, base *slog.Logger, h *Host) context.Context {
	return context.WithValue(ctx, hostLoggerKey{}, base.With("host", h.Name))
}

// LoggerFromContext returns the host-prefixed logger installed by
// WithHostLogger, or base if the context carries no host scope.
func LoggerFromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(hostLoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return base
}
