package stt

import "context"

// Result is a single recognition result for the audio streamed so far.
type Result struct {
	Text        string  // transcribed text, may be empty on boundary signals
	Confidence  float64 // confidence score (0-1)
	Final       bool    // the segment will not be revised further
	SpeechFinal bool    // the speaker has finished the utterance
}

// Stream is a live recognition stream. Audio pushed via Send is transcribed
// incrementally; results arrive on Results until the stream is closed.
type Stream interface {
	// Send forwards raw audio to the recognition service.
	Send(ctx context.Context, audio []byte) error

	// Results returns the channel that receives recognition results.
	Results() <-chan Result

	// Errors returns the channel that receives stream errors.
	Errors() <-chan error

	// Close shuts the stream down. Safe to call more than once.
	Close() error
}
