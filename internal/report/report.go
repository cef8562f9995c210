package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"os"
	"os/user"
	"sort"
	"strings"
	"time"

	"github.com/oriys/dg/internal/domain"
)

// Meta describes the run a report covers: the method that was invoked, the
// destinations it targeted (groups and hosts, as given on the command
// line), and the exact command line itself, grounded on log.py's
// send_report, which reads all three off args.
type Meta struct {
	Method      string
	Targets     []string
	CommandLine []string
}

// Capture runs body with a logger wired the way the original's capturing()
// contextmanager wires logging.getLogger(): a colorized stream handler when
// no report recipients are configured, or a plain file handler backed by a
// temporary file when they are. In the latter case, once body returns, the
// temporary log is mailed via SendReport and removed, regardless of
// whether the run succeeded.
func Capture(meta Meta, colored bool, recipients []string, relay string, body func(logger *slog.Logger) *domain.State) (*domain.State, error) {
	if len(recipients) == 0 {
		logger := slog.New(NewHandler(os.Stderr, colored, slog.LevelInfo))
		return body(logger), nil
	}

	f, err := os.CreateTemp("", "dg-log-*.txt")
	if err != nil {
		return nil, fmt.Errorf("report: create temporary log file: %w", err)
	}
	tempPath := f.Name()
	logger := slog.New(NewHandler(f, false, slog.LevelInfo))

	start := time.Now()
	state := body(logger)
	finish := time.Now()

	if cerr := f.Close(); cerr != nil {
		logger = slog.New(NewHandler(os.Stderr, colored, slog.LevelInfo))
		logger.Error("failed to close temporary log file", "path", tempPath, "error", cerr)
	}
	defer func() {
		if rerr := os.Remove(tempPath); rerr != nil {
			slog.New(NewHandler(os.Stderr, colored, slog.LevelInfo)).Warn(
				"failed to remove temporary log file", "path", tempPath, "error", rerr)
		}
	}()

	if err := SendReport(meta, state, tempPath, start, finish, recipients, relay); err != nil {
		slog.New(NewHandler(os.Stderr, colored, slog.LevelInfo)).Error(
			"failed to send deployment report email", "error", err)
	}

	return state, nil
}

// failedHosts merges the run's current-stage and previously-rolled-back
// failure sets into one sorted-by-name list, since by the time a report is
// sent the two may both be non-empty (a final stage can fail without a
// full wipeout merging it into all_failed).
func failedHosts(state *domain.State) []*domain.Host {
	byName := make(map[string]*domain.Host)
	for _, h := range state.AllFailedHosts() {
		byName[h.Name] = h
	}
	for _, h := range state.FailedHosts() {
		byName[h.Name] = h
	}
	out := make([]*domain.Host, 0, len(byName))
	for _, h := range byName {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func subject(meta Meta, state *domain.State, failed []*domain.Host) string {
	s := fmt.Sprintf("Deployment of %q with %q method finished", strings.Join(meta.Targets, ", "), meta.Method)
	switch {
	case len(state.ActiveHosts()) == 0:
		s += " (ALL failed)"
	case len(failed) > 0:
		names := make([]string, len(failed))
		for i, h := range failed {
			names[i] = h.SName
		}
		s += fmt.Sprintf(" (%s failed)", strings.Join(names, ", "))
	}
	return s
}

func body(meta Meta, failed []*domain.Host, start, finish time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command line: %s\n", strings.Join(meta.CommandLine, " "))
	fmt.Fprintf(&b, "Started: %s\n", start.Format(time.ANSIC))
	fmt.Fprintf(&b, "Finished: %s\n\n", finish.Format(time.ANSIC))
	for _, h := range failed {
		fmt.Fprintf(&b, "%s failed, stage: %s, reason: %s\n", h.Name, h.Failure.Stage, h.Failure.Reason)
	}
	return b.String()
}

func fromAddress() string {
	name := "root"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s@%s", name, host)
}

// SendReport mails the run's outcome to recipients with logFile attached as
// log.txt, grounded on log.py's send_report: subject names the targets and
// method, and calls out "ALL failed" or the failed short-names; body lists
// the command line, start/finish times, and one "host failed, stage: ...,
// reason: ..." line per failure. Delivered through a local MTA exactly as
// the original does via smtplib.SMTP('localhost').
func SendReport(meta Meta, state *domain.State, logFile string, start, finish time.Time, recipients []string, relay string) error {
	if relay == "" {
		relay = "localhost:25"
	}
	failed := failedHosts(state)
	from := fromAddress()

	logData, err := os.ReadFile(logFile)
	if err != nil {
		return fmt.Errorf("report: read log file: %w", err)
	}

	msg, err := buildMessage(from, recipients, subject(meta, state, failed), body(meta, failed, start, finish), logData)
	if err != nil {
		return fmt.Errorf("report: build message: %w", err)
	}

	if err := smtp.SendMail(relay, nil, from, recipients, msg); err != nil {
		return fmt.Errorf("report: send mail: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, textBody string, attachment []byte) ([]byte, error) {
	var parts bytes.Buffer
	mpw := multipart.NewWriter(&parts)

	textPart, err := mpw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := textPart.Write([]byte(textBody)); err != nil {
		return nil, err
	}

	attPart, err := mpw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain"},
		"Content-Disposition":       {`attachment; filename="log.txt"`},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(attachment)
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		if _, err := attPart.Write([]byte(encoded[i:end] + "\r\n")); err != nil {
			return nil, err
		}
	}

	if err := mpw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mpw.Boundary())
	msg.Write(parts.Bytes())
	return msg.Bytes(), nil
}
