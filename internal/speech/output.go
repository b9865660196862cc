package speech

import (
	"context"
	"strings"
	"sync"
)

// Synthesizer is the external text-to-speech capability. Speak blocks until
// playback finishes and must stop early when ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// OutputAdapter plays agent text without blocking the caller.
//
// Policy is interrupt-and-replace: a new Speak cancels the utterance still
// playing and starts once it has stopped, so utterances never overlap and
// stale text is never read out after newer text.
type OutputAdapter struct {
	synth   Synthesizer
	onError func(text string, err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// OutputOption configures an OutputAdapter.
type OutputOption func(*OutputAdapter)

// WithErrorHandler is called when playback fails for a reason other than
// being interrupted.
func WithErrorHandler(fn func(text string, err error)) OutputOption {
	return func(o *OutputAdapter) { o.onError = fn }
}

// NewOutputAdapter wraps synth. A nil synth discards all text.
func NewOutputAdapter(synth Synthesizer, opts ...OutputOption) *OutputAdapter {
	o := &OutputAdapter{synth: synth}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enabled reports whether a synthesizer is attached.
func (o *OutputAdapter) Enabled() bool { return o.synth != nil }

// Speak requests playback of text and returns immediately.
func (o *OutputAdapter) Speak(text string) {
	if o.synth == nil || strings.TrimSpace(text) == "" {
		return
	}

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	prev := o.done
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel = cancel
	o.done = done
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer close(done)
		defer cancel()

		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		if err := o.synth.Speak(ctx, text); err != nil && ctx.Err() == nil && o.onError != nil {
			o.onError(text, err)
		}
	}()
}

// Stop interrupts the current utterance, if any.
func (o *OutputAdapter) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Wait blocks until every requested utterance has finished or been interrupted.
func (o *OutputAdapter) Wait() {
	o.wg.Wait()
}

// Close interrupts playback and waits for it to stop.
func (o *OutputAdapter) Close() {
	o.Stop()
	o.Wait()
}
