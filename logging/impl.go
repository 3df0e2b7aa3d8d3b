package logging

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// badKey names a trailing value that was logged without a key.
const badKey = "!BADKEY"

// Frames between runtime.Caller and the code that called a Logger method:
// caller -> emit -> Logger method.
const callerSkip = 3

// impl writes entries to a set of appenders. Subloggers share the set with their parent, so an
// appender added anywhere in the tree is seen by every logger in it, but each keeps its own level.
type impl struct {
	name  string
	level AtomicLevel
	inUTC bool
	sinks *sinkSet
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{
		name:  name,
		level: NewAtomicLevelAt(level),
		inUTC: inUTC,
		sinks: &sinkSet{appenders: appenders},
	}
}

type sinkSet struct {
	mu        sync.RWMutex
	appenders []Appender
}

func (s *sinkSet) add(a Appender) {
	s.mu.Lock()
	s.appenders = append(s.appenders, a)
	s.mu.Unlock()
}

func (s *sinkSet) list() []Appender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Appender(nil), s.appenders...)
}

func (s *sinkSet) write(entry zapcore.Entry, fields []zapcore.Field) {
	for _, a := range s.list() {
		if err := a.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, "log appender:", err)
		}
	}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.sinks.add(appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return &impl{name: name, level: NewAtomicLevelAt(imp.level.Get()), inUTC: imp.inUTC, sinks: imp.sinks}
}

func (imp *impl) Sync() error {
	var err error
	for _, a := range imp.sinks.list() {
		err = multierr.Append(err, a.Sync())
	}
	return err
}

// AsZap returns a zap logger that writes through the same appenders, for libraries that want one.
func (imp *impl) AsZap() *zap.SugaredLogger {
	appenders := imp.sinks.list()
	cores := make([]zapcore.Core, len(appenders))
	for i, a := range appenders {
		if core, ok := a.(zapcore.Core); ok {
			cores[i] = core
		} else {
			cores[i] = &appenderCore{appender: a, level: imp.level}
		}
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar().Named(imp.name)
}

func (imp *impl) enabled(level Level) bool {
	return level >= imp.level.Get()
}

// emit must be called directly from a Logger method so the caller frame lines up.
func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	now := time.Now()
	if imp.inUTC {
		now = now.UTC()
	}
	imp.sinks.write(zapcore.Entry{
		Level:      level.AsZap(),
		Time:       now,
		LoggerName: imp.name,
		Message:    msg,
		Caller:     caller(),
	}, fields)
}

// toFields pairs up alternating keys and values. A zap.Field may be passed in place of a pair.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); {
		switch k := keysAndValues[i].(type) {
		case zapcore.Field:
			fields = append(fields, k)
			i++
			continue
		case string:
			if i+1 < len(keysAndValues) {
				fields = append(fields, zap.Any(k, keysAndValues[i+1]))
			} else {
				fields = append(fields, zap.Any(badKey, k))
			}
		default:
			if i+1 < len(keysAndValues) {
				fields = append(fields, zap.Any(fmt.Sprint(k), keysAndValues[i+1]))
			} else {
				fields = append(fields, zap.Any(badKey, k))
			}
		}
		i += 2
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Debugf(template string, args ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(DEBUG) {
		imp.emit(DEBUG, msg, toFields(keysAndValues))
	}
}

// CDebugw logs at debug level, or regardless of level when ctx carries a debug key. The key is
// added to the fields.
func (imp *impl) CDebugw(ctx context.Context, msg string, keysAndValues ...interface{}) {
	key, traced := DebugKey(ctx)
	if !traced && !imp.enabled(DEBUG) {
		return
	}
	fields := toFields(keysAndValues)
	if traced {
		fields = append(fields, zap.String(debugKeyField, key))
	}
	imp.emit(DEBUG, msg, fields)
}

func (imp *impl) Info(args ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Infof(template string, args ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	if imp.enabled(INFO) {
		imp.emit(INFO, msg, toFields(keysAndValues))
	}
}

func (imp *impl) Warn(args ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(WARN) {
		imp.emit(WARN, msg, toFields(keysAndValues))
	}
}

func (imp *impl) Error(args ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	if imp.enabled(ERROR) {
		imp.emit(ERROR, msg, toFields(keysAndValues))
	}
}

func caller() zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(callerSkip)
	if !ok {
		return zapcore.EntryCaller{}
	}
	ec := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		ec.Function = fn.Name()
	}
	return ec
}
