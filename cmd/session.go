package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/joescharf/cloudvoice/internal/agentclient"
	"github.com/joescharf/cloudvoice/internal/conversation"
	"github.com/joescharf/cloudvoice/internal/eventlog"
	"github.com/joescharf/cloudvoice/internal/models"
	"github.com/joescharf/cloudvoice/internal/output"
	"github.com/joescharf/cloudvoice/internal/speech"
	"github.com/joescharf/cloudvoice/internal/store"
)

// chatSession wires one conversation: speech adapters, the agent client,
// the event log and its optional archive.
type chatSession struct {
	orch    *conversation.Orchestrator
	log     *eventlog.Log
	speaker *speech.OutputAdapter
	capture *speech.CaptureAdapter

	store  store.Store
	record *models.SessionRecord
}

// newChatSession builds a session from config. client may be nil to use the
// configured agent endpoint.
func newChatSession(ctx context.Context, client conversation.Exchanger) (*chatSession, error) {
	endpoint := viper.GetString("agent.endpoint")
	if client == nil {
		if endpoint == "" {
			return nil, fmt.Errorf("agent.endpoint is not configured")
		}
		client = agentclient.NewClient(endpoint)
	}

	// Empty commands leave the interfaces nil rather than typed-nil pointers.
	var rec speech.Recognizer
	if r := speech.NewCommandRecognizer(viper.GetString("speech.capture_cmd")); r != nil {
		rec = r
	}
	var synth speech.Synthesizer
	if s := speech.NewCommandSynthesizer(viper.GetString("speech.output_cmd")); s != nil {
		synth = s
	}

	s := &chatSession{
		capture: speech.NewCaptureAdapter(rec, viper.GetString("speech.language")),
		speaker: speech.NewOutputAdapter(synth, speech.WithErrorHandler(func(_ string, err error) {
			ui.VerboseLog("speech output failed: %v", err)
		})),
	}

	opts := []eventlog.Option{
		eventlog.WithObserver(func(e models.LogEntry) {
			ui.VerboseLog("%s", output.FormatLogEntry(e))
		}),
	}
	if viper.GetBool("log.archive") && !dryRun {
		if err := s.openArchive(ctx, endpoint); err != nil {
			ui.Warning("Event log archive disabled: %v", err)
		} else {
			opts = append(opts, eventlog.WithSink(store.ArchiveSink{Store: s.store, SessionID: s.record.ID}, 0))
		}
	}

	s.log = eventlog.New(viper.GetInt("log.capacity"), opts...)
	s.orch = conversation.New(s.capture, client, s.speaker, s.log)
	return s, nil
}

func (s *chatSession) openArchive(ctx context.Context, endpoint string) error {
	st, err := getStore()
	if err != nil {
		return err
	}
	rec := &models.SessionRecord{Endpoint: endpoint}
	if err := st.CreateSession(ctx, rec); err != nil {
		return err
	}
	s.store = st
	s.record = rec
	return nil
}

// SessionID returns the archive session ID, or "" when archiving is off.
func (s *chatSession) SessionID() string {
	if s.record == nil {
		return ""
	}
	return s.record.ID
}

// Close stops playback, flushes the event log, ends the archive session and
// releases the database.
func (s *chatSession) Close(ctx context.Context) error {
	s.capture.Stop()
	s.speaker.Close()

	err := s.log.Close()
	if n := s.log.Dropped(); n > 0 {
		ui.Warning("%d event-log entries were not archived", n)
	}
	if s.record != nil {
		if endErr := s.store.EndSession(ctx, s.record.ID, s.orch.Len()); endErr != nil && err == nil {
			err = endErr
		}
		if closeErr := closeStore(); closeErr != nil && err == nil {
			err = closeErr
		}
		s.store = nil
		s.record = nil
	}
	return err
}
