// Package events provides the run log sink: timestamped human-readable lines
// for the console and log file, and a parallel structured JSON event stream.
package events

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// TimestampLayout is the HH:MM:SS.ffffff prefix of every human log line.
const TimestampLayout = "15:04:05.000000"

// Sink receives every harness event. Implementations must serialise writes.
type Sink interface {
	Printf(format string, args ...any)
	LogIterationStart(iteration, total int)
	LogIterationEnd(iteration int, elapsed time.Duration)
	LogAction(iteration int, action, target string)
	LogStatePoll(instance, observed, target string, elapsed time.Duration)
	LogProbeAttempt(address, tier, result string, elapsed time.Duration)
	LogPhaseComplete(iteration int, phase string, duration time.Duration, confirmed bool)
	LogPolicyIgnored(iteration int, step string, err error)
	LogFatal(iteration int, step string, err error)
	LogSummary(text string)
}

// EventLogger is the default Sink.
type EventLogger struct {
	mu     sync.Mutex
	lines  io.Writer
	logger *slog.Logger
	runID  string
	now    func() time.Time
	closer []io.Closer
}

// NewEventLogger writes human lines to console and to logPath, and JSON events to eventsPath.
// A nil console or an empty path skips that destination.
func NewEventLogger(runID string, console io.Writer, logPath, eventsPath string) (*EventLogger, error) {
	var closers []io.Closer
	if console == nil {
		console = io.Discard
	}
	lines := console
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, f)
		lines = io.MultiWriter(console, f)
	}

	eventsOut := io.Discard
	if eventsPath != "" {
		f, err := os.OpenFile(eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, fmt.Errorf("failed to open events file: %w", err)
		}
		closers = append(closers, f)
		eventsOut = f
	}

	el := NewEventLoggerWithWriters(runID, lines, eventsOut)
	el.closer = closers
	return el, nil
}

// NewEventLoggerWithWriters creates an EventLogger with custom destinations.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriters(runID string, lines, structured io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(structured, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &EventLogger{
		lines:  lines,
		logger: slog.New(handler).With("run_id", runID),
		runID:  runID,
		now:    time.Now,
	}
}

// NoopEventLogger returns an event logger that discards all events.
func NoopEventLogger() *EventLogger {
	return NewEventLoggerWithWriters("", io.Discard, io.Discard)
}

// Close closes any files opened by NewEventLogger.
func (el *EventLogger) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()
	var first error
	for _, c := range el.closer {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	el.closer = nil
	return first
}

func (el *EventLogger) line(msg string) {
	el.mu.Lock()
	defer el.mu.Unlock()
	fmt.Fprintf(el.lines, "[%s] %s\n", el.now().Format(TimestampLayout), msg)
}

// Printf writes a free-form timestamped line.
func (el *EventLogger) Printf(format string, args ...any) {
	el.line(fmt.Sprintf(format, args...))
}

// LogIterationStart logs the start of an iteration.
// event: "iteration_start"
func (el *EventLogger) LogIterationStart(iteration, total int) {
	el.line(fmt.Sprintf("Iteration %d/%d started", iteration, total))
	el.logger.Info("iteration_start", "iteration", iteration, "total", total)
}

// LogIterationEnd logs the end of an iteration.
// event: "iteration_end"
func (el *EventLogger) LogIterationEnd(iteration int, elapsed time.Duration) {
	el.line(fmt.Sprintf("Iteration %d finished after %.6f seconds", iteration, elapsed.Seconds()))
	el.logger.Info("iteration_end", "iteration", iteration, "elapsed_seconds", elapsed.Seconds())
}

// LogAction logs an external action submitted against a target.
// event: "action"
func (el *EventLogger) LogAction(iteration int, action, target string) {
	el.line(fmt.Sprintf("Iteration %d: %s %s", iteration, action, target))
	el.logger.Info("action", "iteration", iteration, "action", action, "target", target)
}

// LogStatePoll logs a single lifecycle-state poll.
// event: "state_poll"
func (el *EventLogger) LogStatePoll(instance, observed, target string, elapsed time.Duration) {
	el.line(fmt.Sprintf("%s is %s (waiting for %s, %.6f seconds elapsed)", instance, observed, target, elapsed.Seconds()))
	el.logger.Info("state_poll",
		"instance", instance,
		"observed", observed,
		"target", target,
		"elapsed_seconds", elapsed.Seconds(),
	)
}

// LogProbeAttempt logs the classification of one reachability attempt.
// event: "probe_attempt"
func (el *EventLogger) LogProbeAttempt(address, tier, result string, elapsed time.Duration) {
	if tier == "" {
		el.line(fmt.Sprintf("%s is %s (%.6f seconds elapsed)", address, result, elapsed.Seconds()))
	} else {
		el.line(fmt.Sprintf("%s is %s via %s check (%.6f seconds elapsed)", address, result, tier, elapsed.Seconds()))
	}
	el.logger.Info("probe_attempt",
		"address", address,
		"tier", tier,
		"result", result,
		"elapsed_seconds", elapsed.Seconds(),
	)
}

// LogPhaseComplete logs a measured phase.
// event: "phase_complete" (confirmed) or "phase_timeout" (assumed)
func (el *EventLogger) LogPhaseComplete(iteration int, phase string, duration time.Duration, confirmed bool) {
	title := capitalize(phase)
	if confirmed {
		el.line(fmt.Sprintf("Iteration %d: %s time: %.6f seconds", iteration, title, duration.Seconds()))
		el.logger.Info("phase_complete", "iteration", iteration, "phase", phase, "duration_seconds", duration.Seconds())
		return
	}
	el.line(fmt.Sprintf("Iteration %d: %s timed out, assuming completed after %.6f seconds", iteration, title, duration.Seconds()))
	el.logger.Warn("phase_timeout", "iteration", iteration, "phase", phase, "duration_seconds", duration.Seconds())
}

// LogPolicyIgnored logs an external-call failure tolerated by the failure policy.
// event: "call_failure_ignored"
func (el *EventLogger) LogPolicyIgnored(iteration int, step string, err error) {
	el.line(fmt.Sprintf("Iteration %d: %s failed, continuing: %v", iteration, step, err))
	el.logger.Warn("call_failure_ignored", "iteration", iteration, "step", step, "error", err.Error())
}

// LogFatal logs the condition that terminated the run.
// event: "run_aborted"
func (el *EventLogger) LogFatal(iteration int, step string, err error) {
	el.line(fmt.Sprintf("Iteration %d: %s failed, aborting run: %v", iteration, step, err))
	el.logger.Error("run_aborted", "iteration", iteration, "step", step, "error", err.Error())
}

// LogSummary writes each line of the final summary block.
// event: "summary"
func (el *EventLogger) LogSummary(text string) {
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		el.line(l)
	}
	el.logger.Info("summary", "text", text)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
