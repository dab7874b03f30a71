// Package log is a small leveled, keyed logger: package-level Trace/Debug/
// Info/Warn/Error/Crit functions plus New(ctx...) for a Logger carrying
// baked-in key/value pairs.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/logrusorgru/aurora"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "????"
	}
}

// Logger emits leveled, keyed records. The zero value is not usable; use New
// or the package-level root returned by Root().
type Logger struct {
	ctx []interface{}
}

func New(ctx ...interface{}) *Logger {
	return &Logger{ctx: ctx}
}

func (l *Logger) New(ctx ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &Logger{ctx: merged}
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { write(LvlTrace, l.ctx, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { write(LvlDebug, l.ctx, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { write(LvlInfo, l.ctx, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { write(LvlWarn, l.ctx, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { write(LvlError, l.ctx, msg, ctx) }
func (l *Logger) Crit(msg string, ctx ...interface{})  { write(LvlCrit, l.ctx, msg, ctx) }

var root = New()

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }

var (
	mu        sync.Mutex
	out       io.Writer = colorable.NewColorable(os.Stderr)
	colorized           = isatty.IsTerminal(os.Stderr.Fd())
	minLevel            = LvlInfo
	callers             = false
)

// SetLevel sets the minimum level written to the output. Records below the
// threshold are dropped before formatting.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// SetOutput redirects where records are written; used by tests to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetCallerInfo toggles appending the immediate caller frame to each record,
// resolved via go-stack/stack.
func SetCallerInfo(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	callers = enabled
}

func write(lvl Level, baseCtx []interface{}, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > minLevel {
		return
	}

	line := fmt.Sprintf("%s [%s] %s", time.Now().UTC().Format(time.RFC3339Nano), colorLevel(lvl), msg)
	all := make([]interface{}, 0, len(baseCtx)+len(ctx))
	all = append(all, baseCtx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	if callers {
		line += fmt.Sprintf(" caller=%+v", stack.Caller(3))
	}
	fmt.Fprintln(out, line)
}

func colorLevel(lvl Level) string {
	s := lvl.String()
	if !colorized {
		return s
	}
	switch lvl {
	case LvlCrit, LvlError:
		return aurora.Red(s).String()
	case LvlWarn:
		return aurora.Yellow(s).String()
	case LvlDebug, LvlTrace:
		return aurora.Gray(12, s).String()
	default:
		return aurora.Cyan(s).String()
	}
}
