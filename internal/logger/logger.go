// Package logger configures structured logging. Components obtain a named
// logger with Get; output is either coloured console lines or JSON.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Config holds logger settings.
type Config struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console"`
}

// New builds a logger from cfg, writes to w, and installs it as the slog
// default so Get picks it up.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = NewConsoleHandler(w, opts.Level)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// Get returns a logger tagged with a component name.
func Get(name string) *slog.Logger {
	return slog.Default().With(ComponentKey, name)
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ComponentKey is the attribute carrying the component name.
const ComponentKey = "component"

var levelColors = map[slog.Level]*color.Color{
	slog.LevelDebug: color.New(color.FgWhite, color.Italic),
	slog.LevelInfo:  color.New(color.FgWhite),
	slog.LevelWarn:  color.New(color.FgYellow, color.Underline),
	slog.LevelError: color.New(color.FgHiRed, color.Bold),
}

var levelMarks = map[slog.Level]string{
	slog.LevelDebug: "D",
	slog.LevelInfo:  "I",
	slog.LevelWarn:  "!",
	slog.LevelError: "!!",
}

// consoleState is shared by a handler and every handler derived from it.
type consoleState struct {
	mu     sync.Mutex
	w      io.Writer
	offset int
}

// ConsoleHandler prints one coloured line per record:
//
//	[Component] (I) message key=value
type ConsoleHandler struct {
	state     *consoleState
	level     slog.Leveler
	component string
	attrs     []slog.Attr
	groups    []string
}

// NewConsoleHandler creates a ConsoleHandler writing to w.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ConsoleHandler{state: &consoleState{w: w}, level: level}
}

func (h *ConsoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	component := h.component
	var b strings.Builder
	writeAttr := func(a slog.Attr) {
		if a.Key == ComponentKey && len(h.groups) == 0 {
			component = a.Value.String()
			return
		}
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value.Any())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	if component == "" {
		component = "main"
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if len(component) > h.state.offset {
		h.state.offset = len(component)
	}
	padding := strings.Repeat(" ", h.state.offset-len(component))
	line := fmt.Sprintf("[%s] %s(%s) %s%s\n", component, padding, mark(r.Level), r.Message, b.String())
	_, err := colorFor(r.Level).Fprint(h.state.w, line)
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	for _, a := range attrs {
		if a.Key == ComponentKey && len(h.groups) == 0 {
			c.component = a.Value.String()
		}
	}
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

func colorFor(l slog.Level) *color.Color {
	switch {
	case l >= slog.LevelError:
		return levelColors[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelColors[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelColors[slog.LevelInfo]
	}
	return levelColors[slog.LevelDebug]
}

func mark(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return levelMarks[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelMarks[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelMarks[slog.LevelInfo]
	}
	return levelMarks[slog.LevelDebug]
}
