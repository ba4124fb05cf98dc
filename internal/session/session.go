// Package session owns the conversation state of one widget session and
// arbitrates between speech capture, speech synthesis and reply
// generation so that at most one of listening and speaking is ever
// active.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/lukasbauer/nela/internal/capture"
)

// Activity is the single live activity of a session.
type Activity int

const (
	ActivityIdle Activity = iota
	ActivityListening
	ActivityLoading
	ActivitySpeaking
)

func (a Activity) String() string {
	switch a {
	case ActivityIdle:
		return "idle"
	case ActivityListening:
		return "listening"
	case ActivityLoading:
		return "loading"
	case ActivitySpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the activity as its lowercase name.
func (a Activity) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", a.String())), nil
}

// Speaker identifies who authored a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one message in the transcript. Immutable once appended.
type Turn struct {
	Text      string    `json:"text"`
	Speaker   Speaker   `json:"speaker"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a read-only copy of the session state handed to the
// presentation layer.
type Snapshot struct {
	Transcript []Turn   `json:"transcript"`
	Activity   Activity `json:"activity"`
	Muted      bool     `json:"muted"`
}

// NoticeKind classifies transient warnings surfaced to the presentation
// layer.
type NoticeKind string

const (
	NoticeCaptureUnsupported NoticeKind = "capture_unsupported"
	NoticeCaptureFailed      NoticeKind = "capture_failed"
	NoticeSynthesisFailed    NoticeKind = "synthesis_failed"
	NoticeCredentialMissing  NoticeKind = "credential_missing"
)

// Notice is a transient, toast-style warning. It never changes the
// transcript.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Capturer is the speech capture adapter consumed by the controller.
type Capturer interface {
	// Start begins listening for one utterance. The channel yields at most
	// one result and is then closed; a capture cancelled via Stop closes
	// the channel without yielding.
	Start(ctx context.Context) <-chan capture.Result

	// Stop cancels an in-progress capture with no yield.
	Stop()
}

// Synthesizer is the speech synthesis adapter consumed by the controller.
type Synthesizer interface {
	// Speak requests audio for text and plays it. The channel yields
	// exactly one value - nil on completed playback, or an error - and is
	// then closed.
	Speak(ctx context.Context, text, credential string) <-chan error

	// Stop immediately halts any in-progress request or playback.
	Stop()
}

// ReplySource generates the assistant reply for submitted user text.
type ReplySource interface {
	Generate(ctx context.Context, userText string) (string, error)
}
