package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSynth struct {
	mu          sync.Mutex
	started     []string
	finished    []string
	interrupted []string
	hold        chan struct{}
	err         error
}

func (s *recordingSynth) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.started = append(s.started, text)
	hold := s.hold
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			s.mu.Lock()
			s.interrupted = append(s.interrupted, text)
			s.mu.Unlock()
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.finished = append(s.finished, text)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSynth) snapshot() (started, finished, interrupted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...), append([]string(nil), s.finished...), append([]string(nil), s.interrupted...)
}

func TestOutputAdapter_SpeaksText(t *testing.T) {
	synth := &recordingSynth{}
	o := NewOutputAdapter(synth)
	assert.True(t, o.Enabled())

	o.Speak("Here is the footprint")
	o.Wait()

	_, finished, _ := synth.snapshot()
	assert.Equal(t, []string{"Here is the footprint"}, finished)
}

func TestOutputAdapter_SkipsEmptyText(t *testing.T) {
	synth := &recordingSynth{}
	o := NewOutputAdapter(synth)
	o.Speak("")
	o.Speak("   ")
	o.Wait()

	started, _, _ := synth.snapshot()
	assert.Empty(t, started)
}

func TestOutputAdapter_NilSynthIsSilent(t *testing.T) {
	o := NewOutputAdapter(nil)
	assert.False(t, o.Enabled())
	o.Speak("hello")
	o.Close()
}

func TestOutputAdapter_InterruptAndReplace(t *testing.T) {
	synth := &recordingSynth{hold: make(chan struct{})}
	o := NewOutputAdapter(synth)

	o.Speak("first")
	require.Eventually(t, func() bool {
		started, _, _ := synth.snapshot()
		return len(started) == 1
	}, 2*time.Second, 5*time.Millisecond)

	o.Speak("second")
	require.Eventually(t, func() bool {
		started, _, _ := synth.snapshot()
		return len(started) == 2
	}, 2*time.Second, 5*time.Millisecond)

	close(synth.hold)
	o.Wait()

	started, finished, interrupted := synth.snapshot()
	assert.Equal(t, []string{"first", "second"}, started)
	assert.Equal(t, []string{"first"}, interrupted)
	assert.Equal(t, []string{"second"}, finished)
}

func TestOutputAdapter_CloseInterrupts(t *testing.T) {
	synth := &recordingSynth{hold: make(chan struct{})}
	o := NewOutputAdapter(synth)
	o.Speak("long answer")

	require.Eventually(t, func() bool {
		started, _, _ := synth.snapshot()
		return len(started) == 1
	}, 2*time.Second, 5*time.Millisecond)

	o.Close()
	_, finished, interrupted := synth.snapshot()
	assert.Empty(t, finished)
	assert.Equal(t, []string{"long answer"}, interrupted)
}

func TestOutputAdapter_ErrorHandler(t *testing.T) {
	synth := &recordingSynth{err: errors.New("no audio device")}
	var mu sync.Mutex
	var gotText string
	var gotErr error
	o := NewOutputAdapter(synth, WithErrorHandler(func(text string, err error) {
		mu.Lock()
		defer mu.Unlock()
		gotText, gotErr = text, err
	}))

	o.Speak("hello")
	o.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", gotText)
	assert.EqualError(t, gotErr, "no audio device")
}
