// Package logx builds the process logger and masks credentials in log output.
package logx

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Output formats accepted by New.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a logger writing to out. The console format is colorized
// only when out is a terminal.
func New(format string, level slog.Leveler, out io.Writer) *slog.Logger {
	if format == FormatConsole {
		colorize := false
		if f, ok := out.(*os.File); ok {
			colorize = isatty.IsTerminal(f.Fd())
		}
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: "Jan 02 15:04:05.000",
			NoColor:    !colorize,
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// Secret is a string that never appears in clear text in log output.
type Secret string

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(Mask(string(s), 2))
}

// Mask hides raw behind a fixed run of '#', keeping the last show bytes
// when raw is long enough that they reveal less than half of it.
func Mask(raw string, show int) string {
	const hidden = "########"
	if raw == "" {
		return ""
	}
	if show <= 0 || len(raw) < 2*show+1 {
		return hidden
	}
	return hidden + raw[len(raw)-show:]
}

// Redact masks every occurrence of secret inside s.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, Mask(secret, 0))
}
