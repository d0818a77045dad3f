package dexstruct

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(logrus.DebugLevel, &buf)
	l.(*entryLogger).entry.Logger.SetFormatter(&TextFormatter{})

	l.With(map[string]any{
		"method": "t.A.run",
		"blocks": BlockSetOf(16, 9, 1, 3),
		"cause":  errors.New("no merge"),
		"note":   "two words",
	}).Warnf("conflict at B%d", 2)

	want := `[WARN] conflict at B2 blocks=[B1,B3,B9] cause="no merge" method=t.A.run note="two words"` + "\n"
	if got := buf.String(); got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}

	buf.Reset()
	l.Debugf("plain")
	if got := buf.String(); got != "[DEBUG] plain\n" {
		t.Errorf("unexpected debug line %q", got)
	}
}

func TestBlockList_Truncates(t *testing.T) {
	ids := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := blockList(ids); got != "[B0,B1,B2,B3,B4,B5,B6,B7,+3]" {
		t.Errorf("blockList = %s", got)
	}
	if got := blockList(nil); got != "[]" {
		t.Errorf("empty list = %s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"INFO":    logrus.InfoLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"fatal":   logrus.WarnLevel,
		"bogus":   logrus.WarnLevel,
		"":        logrus.WarnLevel,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger().With(map[string]any{"k": 1})
	l.Errorf("dropped %d", 1)
	if _, ok := l.(nopLogger); !ok {
		t.Errorf("With on a nop logger should stay nop, got %T", l)
	}
}
