// Package synth is the speech synthesis adapter: it requests synthesized
// audio from a remote service and plays it through a Player, exposing an
// immediately effective Stop. At most one utterance plays at a time;
// starting a new one implicitly stops the previous one.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// Error kinds surfaced to the session controller.
var (
	ErrRequestFailed  = errors.New("synthesis request failed")
	ErrPlaybackFailed = errors.New("synthesis playback failed")
)

// Client requests synthesized audio for text using a credential.
type Client interface {
	Synthesize(ctx context.Context, text, credential string) (io.ReadCloser, error)
}

// Player plays a stream of synthesized audio to completion. Play must stop
// writing promptly once ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio io.Reader) error
}

// Adapter ties the synthesis client to the playback sink. The playback
// handle is owned exclusively by the adapter; callers interact with it
// only through Stop.
type Adapter struct {
	client Client
	player Player
	logger *log.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// New creates a synthesis adapter.
func New(client Client, player Player, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	return &Adapter{client: client, player: player, logger: logger}
}

// Speak requests audio for text and plays it. The returned channel yields
// exactly one value - nil on completed playback, context.Canceled when the
// call was stopped, or an ErrRequestFailed/ErrPlaybackFailed error - and is
// then closed. A Speak while another is in flight stops the previous one
// first (last call wins).
func (a *Adapter) Speak(ctx context.Context, text, credential string) <-chan error {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	if a.cancel != nil {
		a.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := a.speak(sctx, text, credential)

		a.mu.Lock()
		if a.gen == gen && a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.mu.Unlock()

		done <- err
	}()
	return done
}

// Stop immediately halts any in-progress request or playback. Safe to call
// when idle. Late-arriving audio for a stopped call is discarded, never
// played.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Adapter) speak(ctx context.Context, text, credential string) error {
	audio, err := a.client.Synthesize(ctx, text, credential)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		if !errors.Is(err, ErrRequestFailed) {
			err = fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
		return err
	}
	defer audio.Close()

	// The request may have been superseded while in flight; a stale
	// response must never reach the player.
	if ctx.Err() != nil {
		return context.Canceled
	}

	if err := a.player.Play(ctx, audio); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}
	if ctx.Err() != nil {
		return context.Canceled
	}
	return nil
}
