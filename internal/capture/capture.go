// Package capture turns a streaming recognition service into a
// single-utterance speech capture: each Start listens for exactly one
// finalized utterance (or one error) and then returns to an idle,
// restartable state.
package capture

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/lukasbauer/nela/internal/stt"
)

// ErrUnsupported is yielded when no recognition facility is configured.
var ErrUnsupported = errors.New("speech capture is not supported")

// Result is the single outcome of one capture attempt. Exactly one of
// Text or Err is meaningful.
type Result struct {
	Text string
	Err  error
}

// Dialer opens a live recognition stream. A nil Dialer marks the platform
// facility unavailable; Start then yields ErrUnsupported immediately.
type Dialer func(ctx context.Context) (stt.Stream, error)

// Adapter captures one utterance at a time from a recognition stream.
// Start while a capture is in flight is a no-op that returns the
// in-flight capture's channel.
type Adapter struct {
	dial   Dialer
	logger *log.Logger

	mu      sync.Mutex
	stream  stt.Stream
	cancel  context.CancelFunc
	results chan Result
}

// New creates a capture adapter. dial may be nil when the recognition
// facility is unavailable.
func New(dial Dialer, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{dial: dial, logger: logger}
}

// Start begins listening for one utterance. The returned channel yields at
// most one Result and is then closed; a capture cancelled via Stop closes
// the channel without yielding.
func (a *Adapter) Start(ctx context.Context) <-chan Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.results != nil {
		return a.results
	}

	ch := make(chan Result, 1)
	if a.dial == nil {
		ch <- Result{Err: ErrUnsupported}
		close(ch)
		return ch
	}

	cctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.results = ch

	go a.run(cctx, ch)
	return ch
}

// Stop cancels an in-progress capture with no yield. Safe to call when idle.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Adapter) stopLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.stream = nil
	a.results = nil
}

// Feed forwards microphone audio to the live recognition stream. Audio
// arriving while no capture is active is dropped.
func (a *Adapter) Feed(ctx context.Context, audio []byte) {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Send(ctx, audio); err != nil {
		a.logger.Printf("capture: failed to forward audio: %v", err)
	}
}

func (a *Adapter) run(ctx context.Context, ch chan Result) {
	yielded := false
	defer func() {
		a.mu.Lock()
		if a.results == ch {
			a.stopLocked()
		}
		a.mu.Unlock()
		if !yielded && ctx.Err() == nil {
			// Stream ended without a final result
			ch <- Result{Err: errors.New("recognition stream ended unexpectedly")}
		}
		close(ch)
	}()

	stream, err := a.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			ch <- Result{Err: err}
			yielded = true
		}
		return
	}
	defer stream.Close()

	a.mu.Lock()
	if a.results != ch {
		// Stopped while dialing
		a.mu.Unlock()
		return
	}
	a.stream = stream
	a.mu.Unlock()

	var utterance strings.Builder
	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-stream.Errors():
			if !ok {
				return
			}
			if ctx.Err() == nil {
				ch <- Result{Err: err}
				yielded = true
			}
			return

		case r, ok := <-stream.Results():
			if !ok {
				return
			}
			if r.Final && r.Text != "" {
				if utterance.Len() > 0 {
					utterance.WriteString(" ")
				}
				utterance.WriteString(r.Text)
			}
			// The utterance is complete once the service signals end of
			// speech and we have accumulated some final text.
			if r.SpeechFinal && utterance.Len() > 0 {
				text := strings.TrimSpace(utterance.String())
				if ctx.Err() == nil {
					ch <- Result{Text: text}
					yielded = true
				}
				return
			}
		}
	}
}
