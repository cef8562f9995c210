package report

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/oriys/dg/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_FormatsAndColorsByLevel(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(NewHandler(&buf, true, slog.LevelInfo))

	logger.Error("disk full", "host", "h1")

	out := buf.String()
	assert.Contains(t, out, colorRed)
	assert.Contains(t, out, colorReset)
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "host=h1")
}

func TestHandler_UncoloredWhenDisabled(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(NewHandler(&buf, false, slog.LevelInfo))

	logger.Warn("retrying")

	out := buf.String()
	assert.NotContains(t, out, colorYellow)
	assert.Contains(t, out, "WARNING")
}

func TestHandler_RespectsLevelFilter(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(NewHandler(&buf, false, slog.LevelWarn))

	logger.Info("ignored")
	logger.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "ignored")
	assert.Contains(t, out, "kept")
}

func newTestState() *domain.State {
	state := domain.NewState(slog.New(slog.NewTextHandler(nil, nil)))
	return state
}

func TestSubject_AllFailed(t *testing.T) {
	state := domain.NewState(slog.New(NewHandler(&strings.Builder{}, false, slog.LevelInfo)))
	h := &domain.Host{Name: "box1", SName: "box1"}
	require.NoError(t, state.AddHost(h))
	state.FailHost(h, "PrepareDisk", "timed out")

	meta := Meta{Method: "simple", Targets: []string{"group-a"}}
	s := subject(meta, state, failedHosts(state))
	assert.Contains(t, s, `"group-a"`)
	assert.Contains(t, s, `"simple"`)
	assert.Contains(t, s, "ALL failed")
}

func TestSubject_PartialFailureListsShortNames(t *testing.T) {
	state := domain.NewState(slog.New(NewHandler(&strings.Builder{}, false, slog.LevelInfo)))
	ok := &domain.Host{Name: "box1.example.com", SName: "box1"}
	bad := &domain.Host{Name: "box2.example.com", SName: "box2"}
	require.NoError(t, state.AddHost(ok))
	require.NoError(t, state.AddHost(bad))
	state.FailHost(bad, "RunCommands", "exit 1")

	s := subject(Meta{Method: "simple", Targets: []string{"h1", "h2"}}, state, failedHosts(state))
	assert.NotContains(t, s, "ALL failed")
	assert.Contains(t, s, "box2 failed")
}

func TestBody_ListsCommandLineAndFailures(t *testing.T) {
	state := domain.NewState(slog.New(NewHandler(&strings.Builder{}, false, slog.LevelInfo)))
	h := &domain.Host{Name: "box1", SName: "box1"}
	require.NoError(t, state.AddHost(h))
	state.FailHost(h, "RunCommands", "exit 1")

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finish := start.Add(5 * time.Minute)
	b := body(Meta{CommandLine: []string{"dg", "-m", "simple"}}, failedHosts(state), start, finish)

	assert.Contains(t, b, "Command line: dg -m simple")
	assert.Contains(t, b, "box1 failed, stage: RunCommands, reason: exit 1")
}

func TestBuildMessage_IsValidMultipartWithAttachment(t *testing.T) {
	msg, err := buildMessage("dg@host", []string{"ops@example.com"}, "subject line", "body text", []byte("log contents"))
	require.NoError(t, err)

	s := string(msg)
	assert.Contains(t, s, "Subject: subject line")
	assert.Contains(t, s, "To: ops@example.com")
	assert.Contains(t, s, "Content-Type: multipart/mixed")
	assert.Contains(t, s, "body text")
	assert.Contains(t, s, `filename="log.txt"`)
}

func TestCapture_UsesStreamHandlerWithoutRecipients(t *testing.T) {
	var sawLogger *slog.Logger
	state, err := Capture(Meta{Method: "simple"}, false, nil, "", func(logger *slog.Logger) *domain.State {
		sawLogger = logger
		return newTestState()
	})
	require.NoError(t, err)
	assert.NotNil(t, state)
	assert.NotNil(t, sawLogger)
}
