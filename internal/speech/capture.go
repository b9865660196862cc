// Package speech wraps the external speech-to-text and text-to-speech
// capabilities behind injectable interfaces.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrCaptureUnsupported means no recognizer is available for this session.
	ErrCaptureUnsupported = errors.New("speech capture unsupported")
	// ErrCaptureFailed means an attempt ended without a transcript.
	ErrCaptureFailed = errors.New("speech capture failed")
	// ErrCaptureActive means a capture was started while another was running.
	ErrCaptureActive = errors.New("speech capture already in progress")
)

// RecognizerConfig configures a recognizer. Capture is always single-shot,
// so Continuous and InterimResults are forced off by the adapter.
type RecognizerConfig struct {
	Language       string
	Continuous     bool
	InterimResults bool
}

// Recognizer is the external single-utterance recognition capability.
// Recognize blocks until one utterance is transcribed, returning an empty
// string on silence. It must return promptly once ctx is cancelled.
type Recognizer interface {
	Configure(cfg RecognizerConfig) error
	Recognize(ctx context.Context) (string, error)
}

// CaptureAdapter runs at most one recognition attempt at a time.
type CaptureAdapter struct {
	rec     Recognizer
	initErr error

	mu        sync.Mutex
	listening bool
	cancel    context.CancelFunc
}

// NewCaptureAdapter configures rec for single-utterance capture. A nil
// recognizer or a failed configuration leaves the adapter unsupported for
// its whole lifetime.
func NewCaptureAdapter(rec Recognizer, language string) *CaptureAdapter {
	a := &CaptureAdapter{rec: rec}
	if rec == nil {
		a.initErr = ErrCaptureUnsupported
		return a
	}
	cfg := RecognizerConfig{Language: language}
	if err := rec.Configure(cfg); err != nil {
		a.initErr = fmt.Errorf("%w: %w", ErrCaptureUnsupported, err)
	}
	return a
}

// Err returns the initialization failure, or nil if capture is available.
func (a *CaptureAdapter) Err() error { return a.initErr }

// Listening reports whether an attempt is in progress.
func (a *CaptureAdapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Start runs one recognition attempt and returns its transcript.
func (a *CaptureAdapter) Start(ctx context.Context) (string, error) {
	if a.initErr != nil {
		return "", a.initErr
	}

	a.mu.Lock()
	if a.listening {
		a.mu.Unlock()
		return "", ErrCaptureActive
	}
	ctx, cancel := context.WithCancel(ctx)
	a.listening = true
	a.cancel = cancel
	a.mu.Unlock()

	text, err := a.rec.Recognize(ctx)
	stopped := ctx.Err()

	a.mu.Lock()
	a.listening = false
	a.cancel = nil
	a.mu.Unlock()
	cancel()

	switch {
	case stopped != nil:
		return "", fmt.Errorf("%w: %w", ErrCaptureFailed, stopped)
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no speech detected", ErrCaptureFailed)
	}
	return text, nil
}

// Stop cancels the attempt in progress. It reports whether one was running.
func (a *CaptureAdapter) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.listening || a.cancel == nil {
		return false
	}
	a.cancel()
	return true
}
