package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// NewTestAppender returns an appender that writes console formatted lines through tb.Log, so
// output stays attached to the test that produced it even under t.Parallel.
func NewTestAppender(tb testing.TB) Appender {
	return testAppender{tb}
}

type testAppender struct {
	tb testing.TB
}

func (a testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	a.tb.Helper()
	var line bytes.Buffer
	err := ConsoleAppender{Writer: &line}.Write(entry, fields)
	a.tb.Log(strings.TrimSuffix(line.String(), "\n"))
	return err
}

func (testAppender) Sync() error {
	return nil
}
