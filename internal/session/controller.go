package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukasbauer/nela/internal/capture"
	"github.com/lukasbauer/nela/internal/eventlog"
	"github.com/lukasbauer/nela/internal/synth"
)

// DefaultGreeting is appended as the first assistant turn of every session.
const DefaultGreeting = "Hi! I'm Nela. Ask me anything, or tap the microphone to talk to me."

// FailureReply is the assistant turn appended when reply generation fails.
const FailureReply = "Sorry, I'm having trouble answering right now. Please try again in a moment."

const defaultReplyTimeout = 20 * time.Second

// Config wires a Controller to its collaborators. Capture, Synth and
// Replies are required.
type Config struct {
	Capture Capturer
	Synth   Synthesizer
	Replies ReplySource

	// Credential authorizes speech synthesis and gates speech capture.
	// While empty, replies are appended without being spoken and
	// StartCapture surfaces a warning notice instead of listening.
	Credential string

	// Greeting overrides DefaultGreeting when non-empty.
	Greeting string

	// ReplyTimeout bounds a single reply generation call.
	ReplyTimeout time.Duration

	// OnSnapshot is invoked after every observable state change, outside
	// the controller lock. May be nil.
	OnSnapshot func(Snapshot)

	// OnNotice is invoked for transient warnings, outside the controller
	// lock. May be nil.
	OnNotice func(Notice)

	// Events receives diagnostics events. May be nil.
	Events *eventlog.Logger

	Logger *log.Logger
}

// Controller is the session state machine. All exported methods are safe
// for concurrent use; asynchronous completions re-enter the controller
// under its lock and are discarded when their generation tag is stale.
type Controller struct {
	id           string
	capture      Capturer
	synth        Synthesizer
	replies      ReplySource
	greeting     string
	replyTimeout time.Duration
	onSnapshot   func(Snapshot)
	onNotice     func(Notice)
	events       *eventlog.Logger
	logger       *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	transcript []Turn
	activity   Activity
	credential string
	muted      bool
	spoken     bool   // an assistant turn has started speaking at least once
	gen        uint64 // generation tag for capture/synthesis completions
	closed     bool
}

// New creates a session, appends the greeting turn and, when a credential
// is already present and the session is not muted, starts speaking it.
func New(ctx context.Context, cfg Config) *Controller {
	greeting := cfg.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	replyTimeout := cfg.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = defaultReplyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		id:           uuid.NewString(),
		capture:      cfg.Capture,
		synth:        cfg.Synth,
		replies:      cfg.Replies,
		greeting:     greeting,
		replyTimeout: replyTimeout,
		onSnapshot:   cfg.OnSnapshot,
		onNotice:     cfg.OnNotice,
		events:       cfg.Events,
		logger:       logger,
		ctx:          cctx,
		cancel:       cancel,
		activity:     ActivityIdle,
		credential:   strings.TrimSpace(cfg.Credential),
	}

	c.mu.Lock()
	c.appendTurnLocked(SpeakerAssistant, greeting)
	if c.credential != "" && !c.muted {
		c.startSpeakingLocked(greeting)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.events.LogAsync(c.id, eventlog.EventSessionStarted, nil)
	c.emit(snap)
	return c
}

// ID returns the session's unique identifier.
func (c *Controller) ID() string { return c.id }

// Snapshot returns a copy of the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SubmitText accepts typed (or captured) user input. Whitespace-only text
// is a no-op, as is a submission while a reply is already being generated.
// Any in-progress playback or capture is cancelled before the user turn is
// appended.
func (c *Controller) SubmitText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if c.closed || c.activity == ActivityLoading {
		c.mu.Unlock()
		return
	}
	c.preemptSpeechLocked()
	c.appendTurnLocked(SpeakerUser, text)
	c.activity = ActivityLoading
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
	go c.generateReply(text)
}

// StartCapture begins listening for one spoken utterance, preempting any
// in-progress playback. A no-op while already listening or while a reply
// is being generated.
func (c *Controller) StartCapture() {
	c.mu.Lock()
	if c.closed || c.activity == ActivityListening || c.activity == ActivityLoading {
		c.mu.Unlock()
		return
	}
	if c.credential == "" {
		c.mu.Unlock()
		c.notify(Notice{Kind: NoticeCredentialMissing, Message: "Add a credential to enable voice features."})
		return
	}
	c.preemptSpeechLocked()
	gen := c.gen
	c.activity = ActivityListening
	ch := c.capture.Start(c.ctx)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.events.LogAsync(c.id, eventlog.EventCaptureStarted, nil)
	c.emit(snap)

	go func() {
		res, ok := <-ch
		if !ok {
			// Cancelled via Stop; the stopping action already handled state.
			return
		}
		c.captureDone(gen, res)
	}()
}

// StopCapture cancels an in-progress capture. No utterance is yielded and
// no warning is raised.
func (c *Controller) StopCapture() {
	c.mu.Lock()
	if c.closed || c.activity != ActivityListening {
		c.mu.Unlock()
		return
	}
	c.capture.Stop()
	c.gen++
	c.activity = ActivityIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// StopSpeaking cancels any in-progress playback immediately. Safe to call
// in any state.
func (c *Controller) StopSpeaking() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.synth.Stop()
	changed := c.activity == ActivitySpeaking
	if changed {
		// Invalidate only the outstanding synthesis completion; an
		// in-flight capture is unaffected by stopping playback.
		c.gen++
		c.activity = ActivityIdle
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.events.LogAsync(c.id, eventlog.EventPlaybackStopped, nil)
		c.emit(snap)
	}
}

// ToggleMute flips the user's audio-output preference. Muting cancels any
// in-progress playback immediately.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.muted = !c.muted
	muted := c.muted
	if muted {
		c.synth.Stop()
		if c.activity == ActivitySpeaking {
			c.gen++
			c.activity = ActivityIdle
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.events.LogAsync(c.id, eventlog.EventMuteToggled, map[string]any{"muted": muted})
	c.emit(snap)
}

// SetCredential updates the synthesis credential. Setting it while the
// greeting is the only assistant turn and nothing has been spoken yet
// triggers synthesis of the greeting, observing the muting rule. It has no
// retroactive effect on any other past turn.
func (c *Controller) SetCredential(credential string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.credential = strings.TrimSpace(credential)
	if c.credential != "" && !c.spoken && !c.muted &&
		c.activity == ActivityIdle && c.assistantTurnsLocked() == 1 {
		c.startSpeakingLocked(c.greeting)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// Close tears the session down. All in-flight leaf operations are
// cancelled; late completions are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.synth.Stop()
	c.capture.Stop()
	c.mu.Unlock()

	c.cancel()
	c.events.LogAsync(c.id, eventlog.EventSessionEnded, nil)
}

// generateReply resolves the single outstanding reply request. The
// settlement always lands (success or FailureReply) so every accepted user
// turn gains exactly one assistant turn.
func (c *Controller) generateReply(userText string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.replyTimeout)
	defer cancel()

	text, err := c.replies.Generate(ctx, userText)
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil || text == "" {
		if err != nil {
			c.logger.Printf("session %s: reply generation failed: %v", c.id, err)
			c.events.LogAsync(c.id, eventlog.EventReplyFailed, map[string]any{"error": err.Error()})
		}
		text = FailureReply
	}
	c.appendTurnLocked(SpeakerAssistant, text)
	if c.credential != "" && !c.muted {
		c.startSpeakingLocked(text)
	} else {
		c.activity = ActivityIdle
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(snap)
}

// captureDone handles the single yield of a capture attempt.
func (c *Controller) captureDone(gen uint64, res capture.Result) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.activity != ActivityListening {
		// Stale: a newer action superseded this capture.
		c.mu.Unlock()
		return
	}

	if res.Err != nil {
		c.activity = ActivityIdle
		snap := c.snapshotLocked()
		c.mu.Unlock()

		if errors.Is(res.Err, capture.ErrUnsupported) {
			c.events.LogAsync(c.id, eventlog.EventCaptureUnsupported, nil)
			c.notify(Notice{Kind: NoticeCaptureUnsupported, Message: "Speech capture is not supported here."})
		} else {
			c.logger.Printf("session %s: capture failed: %v", c.id, res.Err)
			c.events.LogAsync(c.id, eventlog.EventCaptureError, map[string]any{"error": res.Err.Error()})
			c.notify(Notice{Kind: NoticeCaptureFailed, Message: "Couldn't hear you - please try again."})
		}
		c.emit(snap)
		return
	}

	utterance := strings.TrimSpace(res.Text)
	c.activity = ActivityIdle
	if utterance == "" {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		return
	}
	c.mu.Unlock()

	// The capture settled naturally; the utterance flows through the same
	// path as typed input.
	c.SubmitText(utterance)
}

// speechDone handles the single settlement of a synthesis call.
func (c *Controller) speechDone(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.activity != ActivitySpeaking {
		// Stale: playback was already stopped by a newer action.
		c.mu.Unlock()
		return
	}
	c.activity = ActivityIdle
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Printf("session %s: synthesis failed: %v", c.id, err)
		c.events.LogAsync(c.id, eventlog.EventSynthesisFailed, map[string]any{"error": err.Error()})
		msg := "Couldn't play the reply audio."
		if errors.Is(err, synth.ErrRequestFailed) {
			msg = "Couldn't reach the speech service."
		}
		c.notify(Notice{Kind: NoticeSynthesisFailed, Message: msg})
	}
	c.emit(snap)
}

// preemptSpeechLocked cancels playback - and capture, when listening -
// and invalidates their outstanding completions.
func (c *Controller) preemptSpeechLocked() {
	c.synth.Stop()
	if c.activity == ActivityListening {
		c.capture.Stop()
	}
	c.gen++
}

// startSpeakingLocked begins synthesis of text under the current
// credential and tags the outstanding call with a fresh generation.
func (c *Controller) startSpeakingLocked(text string) {
	c.synth.Stop()
	c.gen++
	gen := c.gen
	c.spoken = true
	c.activity = ActivitySpeaking
	done := c.synth.Speak(c.ctx, text, c.credential)
	c.events.LogAsync(c.id, eventlog.EventSynthesisStarted, nil)

	go func() {
		err, ok := <-done
		if !ok {
			err = context.Canceled
		}
		c.speechDone(gen, err)
	}()
}

func (c *Controller) appendTurnLocked(speaker Speaker, text string) {
	c.transcript = append(c.transcript, Turn{
		Text:      text,
		Speaker:   speaker,
		CreatedAt: time.Now().UTC(),
	})
}

func (c *Controller) assistantTurnsLocked() int {
	n := 0
	for _, t := range c.transcript {
		if t.Speaker == SpeakerAssistant {
			n++
		}
	}
	return n
}

func (c *Controller) snapshotLocked() Snapshot {
	transcript := make([]Turn, len(c.transcript))
	copy(transcript, c.transcript)
	return Snapshot{
		Transcript: transcript,
		Activity:   c.activity,
		Muted:      c.muted,
	}
}

func (c *Controller) emit(snap Snapshot) {
	if c.onSnapshot != nil {
		c.onSnapshot(snap)
	}
}

func (c *Controller) notify(n Notice) {
	if c.onNotice != nil {
		c.onNotice(n)
	}
}
