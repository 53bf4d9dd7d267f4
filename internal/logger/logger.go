package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Logger interface {
	SetLevel(level string)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

//--------------------------------------------------------------------------------------------------

var _ Logger = (*noOpLogger)(nil)

type noOpLogger struct{}

func NoOp() Logger {
	return &noOpLogger{}
}

func (n *noOpLogger) SetLevel(_ string)        {}
func (n *noOpLogger) Debug(_ string, _ ...any) {}
func (n *noOpLogger) Info(_ string, _ ...any)  {}
func (n *noOpLogger) Error(_ string, _ ...any) {}

//--------------------------------------------------------------------------------------------------

const (
	levelDebug = iota
	levelInfo
	levelError
)

func parseLevel(level string) (int, bool) {
	switch level {
	case "debug":
		return levelDebug, true
	case "info":
		return levelInfo, true
	case "error":
		return levelError, true
	}
	return 0, false
}

var _ Logger = (*fileLogger)(nil)

type fileLogger struct {
	mux   sync.Mutex
	level int
	out   io.Writer
}

// New returns a logger writing one JSON object per line to out. The TUI owns
// the terminal, so logs go to a file (or any other writer) instead of stderr.
func New(out io.Writer) Logger {
	return &fileLogger{level: levelError, out: out}
}

// NewFile opens (or creates) path in append mode and returns a logger writing
// to it.
func NewFile(path string) (Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening log file: %w", err)
	}
	return New(f), f, nil
}

func (l *fileLogger) SetLevel(level string) {
	parsed, ok := parseLevel(level)
	if !ok {
		panic(fmt.Sprintf("invalid log level: %s", level))
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	l.level = parsed
}

func (l *fileLogger) Debug(msg string, args ...any) { l.log(levelDebug, "debug", msg, args...) }
func (l *fileLogger) Info(msg string, args ...any)  { l.log(levelInfo, "info", msg, args...) }
func (l *fileLogger) Error(msg string, args ...any) { l.log(levelError, "error", msg, args...) }

type logLine struct {
	Ts      string `json:"ts"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (l *fileLogger) log(level int, name string, msg string, args ...any) {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.out == nil || level < l.level {
		return
	}
	line, err := json.Marshal(logLine{
		Ts:      time.Now().Format(time.RFC3339),
		Level:   name,
		Message: fmt.Sprintf(msg, args...),
	})
	if err != nil {
		panic(fmt.Sprintf("error marshalling log line: %v", err))
	}
	if _, err := l.out.Write(append(line, '\n')); err != nil {
		panic(fmt.Sprintf("error writing log line: %v", err))
	}
}
