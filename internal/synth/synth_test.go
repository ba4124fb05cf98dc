package synth

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu    sync.Mutex
	audio string
	err   error
	block chan struct{} // when set, Synthesize waits for it (or ctx)
	calls int
}

func (f *fakeClient) Synthesize(ctx context.Context, text, credential string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls++
	audio, err, block := f.audio, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(audio)), nil
}

type fakePlayer struct {
	mu     sync.Mutex
	played []string
	err    error
	block  chan struct{} // when set, Play waits for it (or ctx)
}

func (f *fakePlayer) Play(ctx context.Context, audio io.Reader) error {
	data, _ := io.ReadAll(audio)
	f.mu.Lock()
	f.played = append(f.played, string(data))
	err, block := f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakePlayer) playedAudio() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.played))
	copy(out, f.played)
	return out
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for synthesis settlement")
		return nil
	}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSpeakPlaysAudioAndSettlesNil(t *testing.T) {
	player := &fakePlayer{}
	a := New(&fakeClient{audio: "mp3-bytes"}, player, discardLogger())

	done := a.Speak(context.Background(), "hello", "key")

	if err := recvErr(t, done); err != nil {
		t.Fatalf("settlement = %v, want nil", err)
	}
	if played := player.playedAudio(); len(played) != 1 || played[0] != "mp3-bytes" {
		t.Errorf("played = %v, want the synthesized audio", played)
	}
	if _, ok := <-done; ok {
		t.Error("channel yielded more than one value")
	}
}

func TestStopSettlesAsCanceled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	player := &fakePlayer{}
	a := New(&fakeClient{block: block}, player, discardLogger())

	done := a.Speak(context.Background(), "hello", "key")
	a.Stop()

	if err := recvErr(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("settlement = %v, want context.Canceled", err)
	}
	if played := player.playedAudio(); len(played) != 0 {
		t.Errorf("played = %v, want none (stopped before audio arrived)", played)
	}
}

func TestStopDuringPlaybackSettlesAsCanceled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	player := &fakePlayer{block: block}
	a := New(&fakeClient{audio: "x"}, player, discardLogger())

	done := a.Speak(context.Background(), "hello", "key")

	// Wait for playback to begin, then stop it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(player.playedAudio()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	a.Stop()

	if err := recvErr(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("settlement = %v, want context.Canceled", err)
	}
}

func TestSecondSpeakStopsFirst(t *testing.T) {
	block := make(chan struct{})
	player := &fakePlayer{}
	a := New(&fakeClient{block: block, audio: "x"}, player, discardLogger())

	first := a.Speak(context.Background(), "one", "key")
	second := a.Speak(context.Background(), "two", "key")

	if err := recvErr(t, first); !errors.Is(err, context.Canceled) {
		t.Errorf("first settlement = %v, want context.Canceled", err)
	}

	// Releasing the block lets the second call finish normally.
	close(block)
	if err := recvErr(t, second); err != nil {
		t.Errorf("second settlement = %v, want nil", err)
	}
}

func TestRequestFailureSettlesAsErrRequestFailed(t *testing.T) {
	a := New(&fakeClient{err: errors.New("boom")}, &fakePlayer{}, discardLogger())

	done := a.Speak(context.Background(), "hello", "key")

	if err := recvErr(t, done); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("settlement = %v, want ErrRequestFailed", err)
	}
}

func TestPlaybackFailureSettlesAsErrPlaybackFailed(t *testing.T) {
	player := &fakePlayer{err: errors.New("sink gone")}
	a := New(&fakeClient{audio: "x"}, player, discardLogger())

	done := a.Speak(context.Background(), "hello", "key")

	if err := recvErr(t, done); !errors.Is(err, ErrPlaybackFailed) {
		t.Errorf("settlement = %v, want ErrPlaybackFailed", err)
	}
}

func TestStopWhenIdleIsSafe(t *testing.T) {
	a := New(&fakeClient{audio: "x"}, &fakePlayer{}, discardLogger())

	a.Stop()
	a.Stop()

	done := a.Speak(context.Background(), "hello", "key")
	if err := recvErr(t, done); err != nil {
		t.Errorf("settlement = %v, want nil after idle stops", err)
	}
}
