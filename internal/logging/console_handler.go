package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02 15:04:05.000 INFO [engine] Job 0123abcd (Encoding) - job progress percent=42%
type consoleHandler struct {
	mu        *sync.Mutex
	out       io.Writer
	level     *slog.LevelVar
	addSource bool
	preset    []slog.Attr
	groups    []string
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, out: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}

	var fields fieldList
	fields.addAll(h.groups, h.preset)
	record.Attrs(func(attr slog.Attr) bool {
		fields.add(h.groups, attr)
		return true
	})
	head := fields.takeHead()

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	buf.Grow(160)
	buf.WriteString(consoleTime(ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	if head.component != "" {
		buf.WriteString(" [" + head.component + "]")
	}
	if subject := FormatSubject(head.jobID, head.stage); subject != "" {
		buf.WriteString(" " + subject)
	}
	buf.WriteString(" - ")
	buf.WriteString(message)
	if src := record.Source(); h.addSource && src != nil {
		buf.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
	}
	for _, f := range fields.items {
		buf.WriteByte(' ')
		buf.WriteString(f.key)
		buf.WriteByte('=')
		if f.key == "percent" && f.value.Kind() == slog.KindInt64 && f.value.Int64() >= 0 {
			buf.WriteString(strconv.FormatInt(f.value.Int64(), 10) + "%")
			continue
		}
		appendValue(&buf, f.value)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append(append([]slog.Attr(nil), h.preset...), attrs...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

// FormatSubject renders the job/stage prefix used on console lines.
func FormatSubject(jobID, stage string) string {
	jobID = strings.TrimSpace(jobID)
	stage = strings.TrimSpace(stage)
	if len(jobID) > 8 {
		jobID = jobID[:8]
	}
	switch {
	case jobID != "" && stage != "":
		return "Job " + jobID + " (" + stage + ")"
	case jobID != "":
		return "Job " + jobID
	default:
		return stage
	}
}

type field struct {
	key   string
	value slog.Value
}

// fieldList collects flattened attributes. A repeated key overwrites the
// earlier value in place.
type fieldList struct {
	items []field
	index map[string]int
}

type lineHead struct {
	component string
	jobID     string
	stage     string
}

func (l *fieldList) addAll(prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		l.add(prefix, attr)
	}
}

func (l *fieldList) add(prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			prefix = append(append([]string(nil), prefix...), attr.Key)
		}
		l.addAll(prefix, value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(prefix, ".") + "." + key
	}
	if key == "" {
		return
	}
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if pos, ok := l.index[key]; ok {
		l.items[pos].value = value
		return
	}
	l.index[key] = len(l.items)
	l.items = append(l.items, field{key: key, value: value})
}

// takeHead removes the fields rendered in the line prefix.
func (l *fieldList) takeHead() lineHead {
	var head lineHead
	kept := l.items[:0]
	for _, f := range l.items {
		switch f.key {
		case FieldComponent:
			head.component = plainText(f.value)
		case FieldJobID:
			head.jobID = plainText(f.value)
		case FieldStage:
			head.stage = plainText(f.value)
		default:
			kept = append(kept, f)
		}
	}
	l.items = kept
	l.index = nil
	return head
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
