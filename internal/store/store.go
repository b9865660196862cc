package store

import (
	"context"
	"time"

	"github.com/joescharf/cloudvoice/internal/models"
)

// LogListFilter specifies filters for listing archived log entries.
type LogListFilter struct {
	SessionID string
	Source    models.LogSource
	Status    models.LogStatus
	Limit     int
}

// Store archives session summaries and event-log entries. Conversation
// messages are never stored.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *models.SessionRecord) error
	EndSession(ctx context.Context, id string, messageCount int) error
	GetSession(ctx context.Context, id string) (*models.SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*models.SessionRecord, error)

	// Log entries
	AppendLogEntries(ctx context.Context, sessionID string, entries []models.LogEntry) error
	ListLogEntries(ctx context.Context, filter LogListFilter) ([]models.LogEntry, error)
	PruneLogEntries(ctx context.Context, before time.Time) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ArchiveSink writes event-log batches for one session.
type ArchiveSink struct {
	Store     Store
	SessionID string
}

// WriteEntries appends entries to the session's archive.
func (a ArchiveSink) WriteEntries(entries []models.LogEntry) error {
	return a.Store.AppendLogEntries(context.Background(), a.SessionID, entries)
}
