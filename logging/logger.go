package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a structured logger for ledgerberry.
// It wraps slog.Logger with convenience methods for common logging patterns.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) *Logger {
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a new Logger with text output format.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new Logger with JSON output format.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewJSONHandler(w, opts))
}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() *Logger {
	return New(nopHandler{})
}

// FromConfig builds a logger from textual settings as found in the
// logging config section. Format is "text" or "json"; output is "stdout",
// "stderr" or a file path.
func FromConfig(level, format, output string) (*Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      io.Writer
		closer io.Closer = nopCloser{}
	)
	switch output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w, closer = f, f
	}

	switch format {
	case "", "text":
		return NewTextLogger(w, lvl), closer, nil
	case "json":
		return NewJSONLogger(w, lvl), closer, nil
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// With returns a new Logger with the given attributes added to every log entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// WithComponent returns a new Logger with a component attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// Common attribute constructors for ledger-specific fields.

// Component creates a component attribute for identifying the source module.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Height creates a block height attribute.
func Height(h int64) slog.Attr {
	return slog.Int64("height", h)
}

// Round creates a consensus round attribute.
func Round(r int32) slog.Attr {
	return slog.Int64("round", int64(r))
}

// Hash creates a hash attribute (hex-encoded).
func Hash(h []byte) slog.Attr {
	return slog.String("hash", bytesToHex(h))
}

// TxID creates a transaction id attribute (hex-encoded).
func TxID(h []byte) slog.Attr {
	return slog.String("tx_id", bytesToHex(h))
}

// BlockHash creates a block hash attribute (hex-encoded).
func BlockHash(h []byte) slog.Attr {
	return slog.String("block_hash", bytesToHex(h))
}

// StateRoot creates a state root hash attribute (hex-encoded).
func StateRoot(h []byte) slog.Attr {
	return slog.String("state_root", bytesToHex(h))
}

// EvidenceID creates an evidence id attribute (hex-encoded).
func EvidenceID(h []byte) slog.Attr {
	return slog.String("evidence_id", bytesToHex(h))
}

// Signer creates a transaction signer attribute.
func Signer(addr string) slog.Attr {
	return slog.String("signer", addr)
}

// Nonce creates a transaction nonce attribute.
func Nonce(n int64) slog.Attr {
	return slog.Int64("nonce", n)
}

// Power creates a voting power attribute.
func Power(p int64) slog.Attr {
	return slog.Int64("power", p)
}

// Duration creates a duration attribute in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Nanoseconds())/1e6)
}

// Count creates a count attribute.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Size creates a size attribute in bytes.
func Size(n int) slog.Attr {
	return slog.Int("size_bytes", n)
}

// Version creates a protocol version attribute.
func Version(v int32) slog.Attr {
	return slog.Int64("version", int64(v))
}

// Address creates an address attribute.
func Address(addr string) slog.Attr {
	return slog.String("address", addr)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Reason creates a reason attribute.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// State creates a state attribute.
func State(s string) slog.Attr {
	return slog.String("state", s)
}

// Index creates an index attribute.
func Index(n int) slog.Attr {
	return slog.Int("index", n)
}

// bytesToHex converts bytes to hex string.
func bytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	const hexDigits = "0123456789abcdef"
	hex := make([]byte, len(b)*2)
	for i, v := range b {
		hex[i*2] = hexDigits[v>>4]
		hex[i*2+1] = hexDigits[v&0x0f]
	}
	return string(hex)
}

// nopHandler is a slog.Handler that discards all logs.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
