// Package report implements deployment log capture and the end-of-run
// email summary (spec §4.11), grounded on original_source/common/log.py:
// a colorized formatter matching logging.Formatter's layout, a choice
// between a file-backed log (when report addresses are configured) and a
// plain stream, and an SMTP report mailed with the log attached.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	colorWhite  = "\033[37m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorReset  = "\033[0m"
)

// levelColor mirrors CustomFormatter.get_color: INFO is white, WARNING is
// yellow, ERROR (and above) is red. DEBUG has no original counterpart and
// is left uncolored.
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorWhite
	default:
		return ""
	}
}

// Handler is a slog.Handler producing one line per record in the form
// "time - file:line - LEVEL - message key=value ...", optionally wrapped in
// an ANSI color escape for the whole line, grounded on log.py's
// CustomFormatter.
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	color  bool
	attrs  []slog.Attr
	groups []string
}

// NewHandler builds a Handler writing to w at the given minimum level,
// colorizing each line when colored is true (the Go equivalent of the
// original's -C flag).
func NewHandler(w io.Writer, colored bool, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level, color: colored}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	file, line := "?", 0
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			file, line = filepath.Base(frame.File), frame.Line
		}
	}

	levelName := r.Level.String()
	if r.Level == slog.LevelWarn {
		levelName = "WARNING"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s - %s:%d - %s - %s", r.Time.Format("2006-01-02 15:04:05"), file, line, levelName, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, " %s=%v", h.qualify(a.Key), a.Value.Any())
		return true
	})

	line_ := buf.String()
	if h.color {
		if c := levelColor(r.Level); c != "" {
			line_ = c + line_ + colorReset
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, line_)
	return err
}

func (h *Handler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	return prefix + key
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}
