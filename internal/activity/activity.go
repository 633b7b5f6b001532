// Package activity implements the Activity Logger: an append-only
// audit trail every other component writes to (spec.md §4.8). Writes
// never block producers — a full in-memory buffer drops its oldest
// unflushed entry and counts the drop, exactly like the rule engine's
// execution log, both built on internal/ttlcache's Ring[T].
package activity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/ttlcache"
)

// Kind classifies one log entry, matching spec.md §4.8's record list.
type Kind string

const (
	KindSessionStart  Kind = "session_start"
	KindSessionStop   Kind = "session_stop"
	KindPrompt        Kind = "prompt"
	KindToolCall      Kind = "tool_call"
	KindLLMCall       Kind = "llm_call"
	KindWorkflowEvent Kind = "workflow_event"
	KindError         Kind = "error"
)

// Entry is one buffered record.
type Entry struct {
	Kind    Kind
	At      time.Time
	Summary string
	Details map[string]string
}

// Logger buffers Entry values in a bounded ring and flushes them to one
// Markdown file per session on a fixed cadence and on Close. Reaching
// the ring's capacity does not trigger a flush: a full ring drops its
// oldest unflushed entry instead.
type Logger struct {
	ring          *ttlcache.Ring[Entry]
	sessionID     string
	path          string
	flushInterval int64 // nanoseconds, read-only after construction

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer

	log    *zap.SugaredLogger
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open creates a session log under logDir, named after sessionID (a new
// uuid when empty) and the current UTC second and appended to if that
// exact file already exists, and starts its background flush loop. bufferSize caps the in-memory ring; flushInterval controls the
// background flush cadence.
func Open(logDir, sessionID string, bufferSize int, flushInterval time.Duration, log *zap.SugaredLogger) (*Logger, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("activity: create log dir: %w", err)
	}

	fileName := fmt.Sprintf("%s-%s.md", sessionID, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(logDir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("activity: open session log: %w", err)
	}

	l := &Logger{
		ring:          ttlcache.NewRing[Entry](bufferSize),
		sessionID:     sessionID,
		path:          path,
		flushInterval: int64(flushInterval),
		file:          f,
		writer:        bufio.NewWriter(f),
		log:           log,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if _, err := fmt.Fprintf(l.writer, "# Session %s\n\nStarted: %s\n\n", sessionID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		f.Close()
		return nil, fmt.Errorf("activity: write session header: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("activity: flush session header: %w", err)
	}

	l.Record(KindSessionStart, "session started", map[string]string{"sessionId": sessionID})

	go l.run(time.Duration(l.flushInterval))
	return l, nil
}

// SessionID reports the session this logger is writing for.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Path reports the Markdown file this logger is writing to.
func (l *Logger) Path() string {
	return l.path
}

// Dropped reports how many buffered entries were evicted before they
// could be flushed.
func (l *Logger) Dropped() uint64 {
	return l.ring.Dropped()
}

// Record buffers one entry. Never blocks: a full ring drops its oldest
// unflushed entry rather than stalling the caller.
func (l *Logger) Record(kind Kind, summary string, details map[string]string) {
	l.ring.Push(Entry{Kind: kind, At: time.Now(), Summary: summary, Details: details})
}

// RecordToolCall logs one MCP tool invocation.
func (l *Logger) RecordToolCall(name string, paramsSummary, resultSummary string, d time.Duration) {
	l.Record(KindToolCall, fmt.Sprintf("tool_call %s", name), map[string]string{
		"params":     paramsSummary,
		"result":     resultSummary,
		"durationMs": fmt.Sprintf("%d", d.Milliseconds()),
	})
}

// RecordLLMCall logs one Anthropic request/response pair, truncated to
// an excerpt by the caller before it reaches here.
func (l *Logger) RecordLLMCall(model, promptExcerpt, responseExcerpt string, d time.Duration) {
	l.Record(KindLLMCall, fmt.Sprintf("llm_call %s", model), map[string]string{
		"prompt":     promptExcerpt,
		"response":   responseExcerpt,
		"durationMs": fmt.Sprintf("%d", d.Milliseconds()),
	})
}

// RecordWorkflowEvent logs a workflow run's state transition.
func (l *Logger) RecordWorkflowEvent(runID, workflowID, status string) {
	l.Record(KindWorkflowEvent, fmt.Sprintf("workflow %s -> %s", workflowID, status), map[string]string{
		"runId":  runID,
		"status": status,
	})
}

// RecordError logs a component error with an optional stack trace.
func (l *Logger) RecordError(message, stack string) {
	l.Record(KindError, message, map[string]string{"stack": stack})
}

// RecordPrompt logs a user prompt.
func (l *Logger) RecordPrompt(text string) {
	l.Record(KindPrompt, text, nil)
}

func (l *Logger) run(flushInterval time.Duration) {
	defer close(l.doneCh)
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := l.flush(); err != nil && l.log != nil {
				l.log.Warnw("activity: flush failed", "error", err)
			}
		case <-l.stopCh:
			return
		}
	}
}

// flush drains the ring and appends its entries to the session file as
// Markdown sections, oldest first.
func (l *Logger) flush() error {
	entries := l.ring.Drain()
	if len(entries) == 0 {
		return nil
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range entries {
		if _, err := fmt.Fprintf(l.writer, "## %s — %s\n\n%s\n\n", e.Kind, e.At.UTC().Format(time.RFC3339Nano), e.Summary); err != nil {
			return err
		}
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(l.writer, "- **%s**: %s\n", k, e.Details[k]); err != nil {
				return err
			}
		}
		if len(e.Details) > 0 {
			if _, err := l.writer.WriteString("\n"); err != nil {
				return err
			}
		}
	}
	return l.writer.Flush()
}

// Close stops the flush loop, drains any remaining buffered entries,
// records the session's stop, and closes the file.
func (l *Logger) Close() error {
	close(l.stopCh)
	<-l.doneCh

	l.Record(KindSessionStop, "session stopped", map[string]string{"sessionId": l.sessionID})
	if err := l.flush(); err != nil && l.log != nil {
		l.log.Warnw("activity: final flush failed", "error", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
