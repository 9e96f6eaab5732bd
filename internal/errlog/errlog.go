// Package errlog appends failures to a daily JSON-lines file under the data
// directory. Writing never fails the caller: problems go to slog instead.
package errlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kalambet/tfmt/internal/apperr"
)

// Entry is one line of the error log.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Command   string         `json:"command,omitempty"`
	Code      apperr.Code    `json:"code"`
	Message   string         `json:"message"`
	Details   any            `json:"details,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Stack     string         `json:"stack,omitempty"`
}

// Logger writes entries to <dir>/error-YYYY-MM-DD.log. A nil *Logger
// discards everything.
type Logger struct {
	dir string
	log *slog.Logger
	now func() time.Time

	mu sync.Mutex
}

// New returns a Logger writing into dir, which is created on first write.
func New(dir string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{dir: dir, log: logger, now: time.Now}
}

// Path returns the file entries written at t go to.
func (l *Logger) Path(t time.Time) string {
	return filepath.Join(l.dir, "error-"+t.Format(time.DateOnly)+".log")
}

// Log records a failed command. A stack captured by Recover moves from the
// error's context into the entry's stack field.
func (l *Logger) Log(command string, e *apperr.Error) {
	if l == nil || e == nil {
		return
	}
	l.log.Error("command failed", "command", command, "code", e.Code, "error", e.Message)

	entry := Entry{
		Command: command,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Context: e.Context,
	}
	if stack, ok := e.Context[stackKey].(string); ok {
		entry.Stack = stack
		entry.Context = without(e.Context, stackKey)
	}
	l.write(entry)
}

// LogAttempt records one failed attempt of an operation run under retry,
// whether or not a later attempt succeeds.
func (l *Logger) LogAttempt(command string, e *apperr.Error, attempt int) {
	if l == nil || e == nil {
		return
	}
	l.log.Warn("attempt failed", "command", command, "attempt", attempt+1, "code", e.Code, "error", e.Message)

	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx["attempt"] = attempt + 1
	l.write(Entry{
		Command: command,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Context: ctx,
	})
}

const stackKey = "stack"

// Recover converts a recovered panic value into UNKNOWN_ERROR carrying the
// current goroutine's stack in its context. It writes nothing; the caller
// logs the returned error once. Call it from a deferred recover.
func (l *Logger) Recover(command string, r any) *apperr.Error {
	e := apperr.Newf(apperr.CodeUnknown, "internal error: %v", r)
	if err, ok := r.(error); ok {
		e.Cause = err
	}
	e.Details = map[string]any{"panic": fmt.Sprint(r)}
	if l == nil {
		return e
	}

	e.Context = map[string]any{stackKey: string(debug.Stack())}
	l.log.Error("handler panicked", "command", command, "panic", r)
	return e
}

func without(m map[string]any, key string) map[string]any {
	if len(m) <= 1 {
		return nil
	}
	out := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func (l *Logger) write(entry Entry) {
	now := l.now()
	entry.Timestamp = now.UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(entry)
	if err != nil {
		// Details or context held something JSON cannot carry.
		entry.Details = fmt.Sprintf("%+v", entry.Details)
		entry.Context = map[string]any{"unencodable": fmt.Sprintf("%+v", entry.Context)}
		if line, err = json.Marshal(entry); err != nil {
			l.log.Warn("error log entry not encodable", "error", err)
			return
		}
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		l.log.Warn("cannot create error log directory", "dir", l.dir, "error", err)
		return
	}
	f, err := os.OpenFile(l.Path(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		l.log.Warn("cannot open error log", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		l.log.Warn("cannot write error log", "error", err)
	}
}
