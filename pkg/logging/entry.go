package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Format represents the log output format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat maps a config value to a Format; anything but json is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// sink is the shared destination of a logger and all loggers derived from
// it through WithFields.
type sink interface {
	write(line []byte)
	close() error
}

// entryLogger formats entries and hands them to a sink.
type entryLogger struct {
	sink   sink
	format Format
	level  Level
	fields Fields
	now    func() time.Time
}

func (l *entryLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.log(DebugLevel, msg, nil, fields)
}

func (l *entryLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.log(InfoLevel, msg, nil, fields)
}

func (l *entryLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.log(WarnLevel, msg, nil, fields)
}

func (l *entryLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	l.log(ErrorLevel, msg, err, fields)
}

// WithFields returns a logger with additional fields sharing the same sink
func (l *entryLogger) WithFields(fields Fields) Logger {
	return &entryLogger{
		sink:   l.sink,
		format: l.format,
		level:  l.level,
		fields: mergeFields(l.fields, fields),
		now:    l.now,
	}
}

func (l *entryLogger) Close() error {
	return l.sink.close()
}

func (l *entryLogger) log(level Level, msg string, err error, fields Fields) {
	if level < l.level {
		return
	}
	all := mergeFields(l.fields, fields)
	ts := l.now().UTC()

	var line []byte
	if l.format == FormatJSON {
		var encErr error
		line, encErr = formatJSON(ts, level, msg, err, all)
		if encErr != nil {
			return
		}
	} else {
		line = formatText(ts, level, msg, err, all)
	}
	l.sink.write(line)
}

func formatJSON(ts time.Time, level Level, msg string, err error, fields Fields) ([]byte, error) {
	entry := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = ts.Format(time.RFC3339)
	entry["level"] = level.String()
	entry["message"] = msg
	if err != nil {
		entry["error"] = err.Error()
	}

	// encoding/json sorts map keys
	data, jsonErr := json.Marshal(entry)
	if jsonErr != nil {
		return nil, jsonErr
	}
	return append(data, '\n'), nil
}

func formatText(ts time.Time, level Level, msg string, err error, fields Fields) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", ts.Format("2006-01-02T15:04:05.000Z"), level, msg)
	if err != nil {
		fmt.Fprintf(&b, " error=%q", err.Error())
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// writerSink serializes writes to an io.Writer it does not own.
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *writerSink) write(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Write(line)
}

func (s *writerSink) close() error { return nil }

// NewWriterLogger creates a logger writing to w, typically os.Stderr.
// Closing it does not close w.
func NewWriterLogger(w io.Writer, format Format, level Level) Logger {
	return &entryLogger{
		sink:   &writerSink{w: w},
		format: format,
		level:  level,
		now:    time.Now,
	}
}
