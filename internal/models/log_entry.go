package models

import "time"

// LogSource names the subsystem an event-log entry is attributed to.
type LogSource string

const (
	LogSourceMCP    LogSource = "MCP"
	LogSourceLLM    LogSource = "LLM"
	LogSourceRAG    LogSource = "RAG"
	LogSourceSystem LogSource = "SYSTEM"
)

// LogStatus is the severity of an event-log entry.
type LogStatus string

const (
	LogStatusInfo    LogStatus = "info"
	LogStatusSuccess LogStatus = "success"
	LogStatusWarning LogStatus = "warning"
)

// LogEntry is one observability event. Entries are append-only.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    LogSource `json:"source"`
	Message   string    `json:"message"`
	Status    LogStatus `json:"status"`
}
