// Package eventlog is the session's append-only observability stream.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/joescharf/cloudvoice/internal/models"
)

// DefaultCapacity is the number of entries kept in memory.
const DefaultCapacity = 500

// Sink receives every recorded entry on a background goroutine.
type Sink interface {
	WriteEntries(entries []models.LogEntry) error
}

// Log is a bounded ring of entries. Record never blocks and never fails;
// the oldest entries are evicted once capacity is reached.
type Log struct {
	mu       sync.Mutex
	buf      []models.LogEntry
	start    int
	size     int
	total    int
	last     time.Time
	now      func() time.Time
	observer func(models.LogEntry)

	sink     Sink
	sinkCh   chan models.LogEntry
	sinkDone chan struct{}
	dropped  int
	sinkErr  error
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithObserver registers a callback run synchronously for each entry.
// It must not call back into the Log.
func WithObserver(fn func(models.LogEntry)) Option {
	return func(l *Log) { l.observer = fn }
}

// WithSink archives entries through a buffered queue of the given depth.
// Entries that do not fit are counted by Dropped.
func WithSink(s Sink, depth int) Option {
	return func(l *Log) {
		if depth <= 0 {
			depth = 256
		}
		l.sink = s
		l.sinkCh = make(chan models.LogEntry, depth)
		l.sinkDone = make(chan struct{})
	}
}

// New creates a Log holding at most capacity entries.
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		buf: make([]models.LogEntry, capacity),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink != nil {
		go l.drain(l.sinkCh)
	}
	return l
}

// Record appends an entry and returns it.
func (l *Log) Record(source models.LogSource, message string, status models.LogStatus) models.LogEntry {
	l.mu.Lock()
	ts := l.now()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts

	entry := models.LogEntry{
		ID:        models.NewID(),
		Timestamp: ts,
		Source:    source,
		Message:   message,
		Status:    status,
	}

	idx := (l.start + l.size) % len(l.buf)
	l.buf[idx] = entry
	if l.size < len(l.buf) {
		l.size++
	} else {
		l.start = (l.start + 1) % len(l.buf)
	}
	l.total++

	if l.sinkCh != nil {
		select {
		case l.sinkCh <- entry:
		default:
			l.dropped++
		}
	}
	observer := l.observer
	l.mu.Unlock()

	if observer != nil {
		observer(entry)
	}
	return entry
}

// Recordf is Record with a format string.
func (l *Log) Recordf(source models.LogSource, status models.LogStatus, format string, a ...any) models.LogEntry {
	return l.Record(source, fmt.Sprintf(format, a...), status)
}

// Entries returns the retained entries, oldest first.
func (l *Log) Entries() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.LogEntry, l.size)
	for i := range l.size {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Tail returns the newest n retained entries, oldest first.
func (l *Log) Tail(n int) []models.LogEntry {
	entries := l.Entries()
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// Len is the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Total is the number of entries ever recorded, including evicted ones.
func (l *Log) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Dropped is the number of entries that never reached the sink.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close flushes queued entries to the sink and stops the writer. Entries
// recorded after Close stay in memory only.
func (l *Log) Close() error {
	l.mu.Lock()
	ch := l.sinkCh
	l.sinkCh = nil
	l.mu.Unlock()

	if ch == nil {
		return nil
	}
	close(ch)
	<-l.sinkDone

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinkErr
}

func (l *Log) drain(ch <-chan models.LogEntry) {
	defer close(l.sinkDone)

	for entry := range ch {
		batch := []models.LogEntry{entry}
	more:
		for {
			select {
			case next, ok := <-ch:
				if !ok {
					break more
				}
				batch = append(batch, next)
			default:
				break more
			}
		}
		if err := l.sink.WriteEntries(batch); err != nil {
			l.mu.Lock()
			if l.sinkErr == nil {
				l.sinkErr = fmt.Errorf("archive log entries: %w", err)
			}
			l.dropped += len(batch)
			l.mu.Unlock()
		}
	}
}
