package logger

import (
	"fmt"
	"io"
	"log"
)

type Logger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
	traceLogger *log.Logger
}

func output(l *log.Logger, s string) {
	if l != nil {
		_ = l.Output(3, s)
	}
}

func (l *Logger) Error(v ...any) { output(l.errorLogger, fmt.Sprintln(v...)) }
func (l *Logger) Warn(v ...any)  { output(l.warnLogger, fmt.Sprintln(v...)) }
func (l *Logger) Info(v ...any)  { output(l.infoLogger, fmt.Sprintln(v...)) }
func (l *Logger) Debug(v ...any) { output(l.debugLogger, fmt.Sprintln(v...)) }

func (l *Logger) Errorf(format string, v ...any) { output(l.errorLogger, fmt.Sprintf(format, v...)) }
func (l *Logger) Warnf(format string, v ...any)  { output(l.warnLogger, fmt.Sprintf(format, v...)) }
func (l *Logger) Infof(format string, v ...any)  { output(l.infoLogger, fmt.Sprintf(format, v...)) }
func (l *Logger) Debugf(format string, v ...any) { output(l.debugLogger, fmt.Sprintf(format, v...)) }
func (l *Logger) Tracef(format string, v ...any) { output(l.traceLogger, fmt.Sprintf(format, v...)) }

// NewLogger enables every level up to and including level. Nothing is written
// for LevelOff.
func NewLogger(level Level, out io.Writer) *Logger {
	flag := log.LstdFlags | log.Lshortfile
	newLevelLogger := func(l Level, prefix string) *log.Logger {
		if level < l {
			return nil
		}
		return log.New(out, prefix, flag)
	}
	return &Logger{
		errorLogger: newLevelLogger(LevelError, "ERROR:"),
		warnLogger:  newLevelLogger(LevelWarn, "WARN :"),
		infoLogger:  newLevelLogger(LevelInfo, "INFO :"),
		debugLogger: newLevelLogger(LevelDebug, "DEBUG:"),
		traceLogger: newLevelLogger(LevelTrace, "TRACE:"),
	}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewLogger(LevelOff, io.Discard)
}
