package engine

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/fatih/color"
)

// PrettyHandlerOptions configures PrettyHandler.
type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

// PrettyHandler writes one colored line per record:
//
//	[15:04:05.000] INFO: message {"key":"value"}
//
// Meant for local runs; production uses the JSON handler.
type PrettyHandler struct {
	slog.Handler
	l      *log.Logger
	attrs  []groupedAttr // from WithAttrs, oldest first
	groups []string      // from WithGroup
}

// groupedAttr is an attribute added through WithAttrs under the groups open at the time.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// NewPrettyHandler returns a PrettyHandler writing to out.
func NewPrettyHandler(out io.Writer, opts PrettyHandlerOptions) *PrettyHandler {
	return &PrettyHandler{
		Handler: slog.NewJSONHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
	}
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, groupedAttr{groups: h.groups, attr: a})
	}
	return h2
}

// WithGroup returns a handler that nests later attributes under name.
func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *PrettyHandler) clone() *PrettyHandler {
	return &PrettyHandler{
		Handler: h.Handler,
		l:       h.l,
		attrs:   h.attrs[:len(h.attrs):len(h.attrs)],
		groups:  h.groups[:len(h.groups):len(h.groups)],
	}
}

// Handle formats r and writes it.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"
	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.BlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, ga := range h.attrs {
		addField(fields, ga.groups, ga.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addField(fields, h.groups, a)
		return true
	})

	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	ts := r.Time.Format("[15:04:05.000]")
	h.l.Println(ts, level, color.CyanString(r.Message), color.WhiteString(string(b)))
	return nil
}

// addField stores a under the nested group maps named by groups.
func addField(fields map[string]any, groups []string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	m := fields
	for _, g := range groups {
		sub, ok := m[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			m[g] = sub
		}
		m = sub
	}
	m[a.Key] = attrValue(a.Value)
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.String()
	}
}

// ParseLevel maps debug|info|warn|error to a slog level; unknown values are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger. format is json, text or pretty.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := slog.HandlerOptions{Level: ParseLevel(level)}
	switch format {
	case "pretty":
		return slog.New(NewPrettyHandler(w, PrettyHandlerOptions{SlogOpts: opts}))
	case "text":
		return slog.New(slog.NewTextHandler(w, &opts))
	default:
		return slog.New(slog.NewJSONHandler(w, &opts))
	}
}
