package dexstruct

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/itchyny/timefmt-go"
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface handed to the analysis passes. Passes never
// touch logrus directly so that callers can plug in a context logger or
// silence a pass.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	// With returns a child logger carrying the extra fields.
	With(fields map[string]any) Logger
}

// ParseLogLevel maps a level name to a logrus level. Unknown names fall
// back to warn.
func ParseLogLevel(s string) logrus.Level {
	l, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil || l < logrus.ErrorLevel {
		return logrus.WarnLevel
	}
	return l
}

// maxFieldItems bounds how many members of a block list are printed.
const maxFieldItems = 8

// TextFormatter writes one line per entry:
//
//	[LEVEL] ts msg key1=val1 key2=val2
//
// Keys are sorted so the same run logs the same bytes.
type TextFormatter struct {
	IncludeTimestamp bool
}

const timestampFormat = "%Y-%m-%dT%H:%M:%S.%fZ"

// Format implements logrus.Formatter.
func (f *TextFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.Grow(128)

	b.WriteByte('[')
	b.WriteString(levelTag(e.Level))
	b.WriteString("] ")
	if f.IncludeTimestamp {
		b.WriteString(timefmt.Format(e.Time.UTC(), timestampFormat))
		b.WriteByte(' ')
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fieldValue(e.Data[k]))
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func levelTag(l logrus.Level) string {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return "ERROR"
	case logrus.WarnLevel:
		return "WARN"
	default:
		return strings.ToUpper(l.String())
	}
}

func fieldValue(v any) string {
	switch t := v.(type) {
	case string:
		if strings.ContainsFunc(t, func(r rune) bool { return r <= ' ' || r == '"' }) {
			return strconv.Quote(t)
		}
		return t
	case error:
		return strconv.Quote(t.Error())
	case []int:
		return blockList(t)
	case BlockSet:
		return blockList(t.ToList())
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// blockList renders ids as B-prefixed names, eliding the tail past
// maxFieldItems as "+N".
func blockList(ids []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, id := range ids {
		if i == maxFieldItems {
			fmt.Fprintf(&b, ",+%d", len(ids)-i)
			break
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('B')
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteByte(']')
	return b.String()
}

type entryLogger struct {
	entry *logrus.Entry
}

// NewLogger returns a logrus-backed Logger writing to w, or to stderr when
// w is nil.
func NewLogger(level logrus.Level, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&TextFormatter{IncludeTimestamp: true})
	return &entryLogger{entry: logrus.NewEntry(l)}
}

// FromEntry wraps an existing entry, such as the one carried by a context.
func FromEntry(e *logrus.Entry) Logger {
	return &entryLogger{entry: e}
}

func (l *entryLogger) With(fields map[string]any) Logger {
	if len(fields) == 0 {
		return l
	}
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *entryLogger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)        {}
func (nopLogger) Infof(string, ...any)         {}
func (nopLogger) Warnf(string, ...any)         {}
func (nopLogger) Errorf(string, ...any)        {}
func (l nopLogger) With(map[string]any) Logger { return l }

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }
