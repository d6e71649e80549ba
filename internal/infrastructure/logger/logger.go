package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var levelColors = []struct {
	plain   []byte
	colored []byte
}{
	{[]byte("level=DEBUG"), []byte(colorCyan + "level=DEBUG" + colorReset)},
	{[]byte("level=INFO"), []byte(colorGreen + "level=INFO" + colorReset)},
	{[]byte("level=WARN"), []byte(colorYellow + "level=WARN" + colorReset)},
	{[]byte("level=ERROR"), []byte(colorRed + "level=ERROR" + colorReset)},
}

// colorWriter highlights the level attribute of slog text output.
type colorWriter struct {
	out io.Writer
}

func (cw colorWriter) Write(p []byte) (int, error) {
	line := p
	for _, lc := range levelColors {
		line = bytes.Replace(line, lc.plain, lc.colored, 1)
	}
	if _, err := cw.out.Write(line); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Options selects the logger's destination and format.
type Options struct {
	App         string
	Level       string
	Environment string
	// Output defaults to stdout. The CLI logs to stderr so results can be piped.
	Output io.Writer
}

// New builds a structured slog logger honoring the configured level and environment.
// Local environments get colored text when attached to a terminal; everything else
// gets JSON.
func New(appName, level, environment string) *slog.Logger {
	return NewWithOptions(Options{App: appName, Level: level, Environment: environment})
}

// NewWithOptions is New with an explicit destination.
func NewWithOptions(o Options) *slog.Logger {
	out := o.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:     parseLevel(o.Level),
		AddSource: true,
	}

	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(o.Environment)) {
	case "local", "dev", "development":
		if isTerminal(out) {
			out = colorWriter{out: out}
		}
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler).With("app", o.App)
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
