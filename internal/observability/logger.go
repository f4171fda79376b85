// Package observability wraps zerolog-based structured logging and
// Prometheus metrics for the upload engine, using the same
// With*-chaining convention throughout: WithRun and WithPeer each
// return a derived Logger carrying extra fields on every entry.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger. A nil output defaults to
// stdout; console-formatted unless json is true.
func NewLogger(version string, output io.Writer, json bool) *Logger {
	if output == nil {
		output = os.Stdout
	}
	if !json {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", "skarabflash").
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithRun adds run_id context (one uuid per Upload call) to the logger.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{logger: l.logger.With().Str("run_id", runID).Logger()}
}

// WithPeer adds the peer address to the logger.
func (l *Logger) WithPeer(addr string) *Logger {
	return &Logger{logger: l.logger.With().Str("peer", addr).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.logger.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.logger.Warn().Msg(msg) }

// Error logs an error message.
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }

// RunStarted logs the start of one upload run, including the image's
// content digest so an operator can confirm two runs shipped the same
// firmware without re-hashing the file by hand.
func (l *Logger) RunStarted(imagePath string, imageLen int64, chunkSize, chunkCount, peerCount int, digest string) {
	l.logger.Info().
		Str("image_path", imagePath).
		Int64("image_len", imageLen).
		Int("chunk_size", chunkSize).
		Int("chunk_count", chunkCount).
		Int("peer_count", peerCount).
		Str("image_digest", digest).
		Msg("upload started")
}

// RunCompleted logs the end of one upload run, successful or not.
func (l *Logger) RunCompleted(outcome string, completed, total int, elapsed time.Duration) {
	l.logger.Info().
		Str("outcome", outcome).
		Int("peers_completed", completed).
		Int("peers_total", total).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("upload finished")
}

// CounterSnapshot logs the full totals dump, intended for high
// verbosity levels only.
func (l *Logger) CounterSnapshot(sent, got, weird, late, future, alien, misfit, deferCount, timeout uint64, burst, problems int) {
	l.logger.Info().
		Uint64("sent", sent).
		Uint64("got", got).
		Uint64("weird", weird).
		Uint64("late", late).
		Uint64("future", future).
		Uint64("alien", alien).
		Uint64("misfit", misfit).
		Uint64("defer", deferCount).
		Uint64("timeout", timeout).
		Int("burst", burst).
		Int("problems", problems).
		Msg("counter snapshot")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
