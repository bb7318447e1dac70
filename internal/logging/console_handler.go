package logging

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// consoleHandler writes one line per record:
//
//	<time> <LEVEL> <component>: <message> [<batch> <crate>] (<file:line>) key=value ...
//
// Batch and crate codes are lifted out of the attributes into the bracketed
// subject. The file and line appear only when withSource is set.
type consoleHandler struct {
	mu         *sync.Mutex
	w          io.Writer
	level      slog.Level
	withSource bool
	color      bool
	group      string
	fields     []field
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Level, withSource, color bool) *consoleHandler {
	return &consoleHandler{mu: new(sync.Mutex), w: w, level: level, withSource: withSource, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = slices.Clip(h.fields)
	for _, attr := range attrs {
		next.fields = appendField(next.fields, h.group, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = joinKey(h.group, name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := slices.Clone(h.fields)
	r.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.group, attr)
		return true
	})

	var component, batch, crate string
	rest := fields[:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = cmp.Or(component, f.value.String())
		case FieldBatchCode:
			batch = f.value.String()
		case FieldCrateCode:
			crate = f.value.String()
		default:
			rest = append(rest, f)
		}
	}

	var b strings.Builder
	b.WriteString(cmp.Or(r.Time, time.Now()).UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(h.label(r.Level))
	b.WriteByte(' ')
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(cmp.Or(strings.TrimSpace(r.Message), "(no message)"))
	if subject := strings.TrimSpace(batch + " " + crate); subject != "" {
		fmt.Fprintf(&b, " [%s]", subject)
	}
	if h.withSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		fmt.Fprintf(&b, " (%s:%d)", filepath.Base(frame.File), frame.Line)
	}
	for _, f := range rest {
		fmt.Fprintf(&b, " %s=%s", f.key, renderValue(f.value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// label pads the level name to a fixed width so messages line up.
func (h *consoleHandler) label(level slog.Level) string {
	name, color := "DEBUG", ansiGray
	switch {
	case level >= slog.LevelError:
		name, color = "ERROR", ansiRed
	case level >= slog.LevelWarn:
		name, color = "WARN ", ansiYellow
	case level >= slog.LevelInfo:
		name, color = "INFO ", ansiCyan
	}
	if !h.color {
		return name
	}
	return color + name + ansiReset
}

func appendField(dst []field, group string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	if attr.Value.Kind() != slog.KindGroup {
		return append(dst, field{key: joinKey(group, attr.Key), value: attr.Value})
	}
	// An unnamed group inlines its members.
	inner := group
	if attr.Key != "" {
		inner = joinKey(group, attr.Key)
	}
	for _, member := range attr.Value.Group() {
		dst = appendField(dst, inner, member)
	}
	return dst
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func renderValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
