package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// DeepgramStream implements Stream using Deepgram's streaming API.
type DeepgramStream struct {
	conn      *websocket.Conn
	results   chan Result
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	wg        sync.WaitGroup // waits for readLoop to finish
}

// DeepgramConfig holds configuration for the Deepgram stream.
type DeepgramConfig struct {
	APIKey      string
	Language    string // e.g., "en"
	Model       string // e.g., "nova-3"
	SampleRate  int    // e.g., 16000 for browser microphone capture
	Encoding    string // e.g., "linear16"
	Channels    int    // e.g., 1 for mono
	Punctuate   bool
	Endpointing int // milliseconds of silence for endpointing, 0 for default
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// DialDeepgram opens a new Deepgram streaming recognition connection.
func DialDeepgram(ctx context.Context, cfg DeepgramConfig) (*DeepgramStream, error) {
	model := cfg.Model
	if model == "" {
		model = "nova-3"
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	url := fmt.Sprintf("%s?model=%s&language=%s&encoding=%s&sample_rate=%d&channels=%d&punctuate=%t",
		deepgramWSURL,
		model,
		language,
		encoding,
		sampleRate,
		channels,
		cfg.Punctuate,
	)

	if cfg.Endpointing > 0 {
		url += fmt.Sprintf("&endpointing=%d", cfg.Endpointing)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	s := &DeepgramStream{
		conn:    conn,
		results: make(chan Result, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// Send forwards raw audio to Deepgram.
func (s *DeepgramStream) Send(_ context.Context, audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("stream is closed")
	default:
	}

	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Results returns the channel for receiving recognition results.
func (s *DeepgramStream) Results() <-chan Result {
	return s.results
}

// Errors returns the channel for receiving errors.
func (s *DeepgramStream) Errors() <-chan error {
	return s.errors
}

// Close closes the Deepgram connection.
func (s *DeepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		// Ask Deepgram to finalize before tearing the socket down
		s.mu.Lock()
		closeMsg := []byte(`{"type": "CloseStream"}`)
		_ = s.conn.WriteMessage(websocket.TextMessage, closeMsg)
		s.mu.Unlock()

		err = s.conn.Close()

		// Wait for readLoop to finish before closing channels
		s.wg.Wait()
		close(s.results)
		close(s.errors)
	})
	return err
}

// readLoop reads responses from Deepgram and sends them to the results channel.
func (s *DeepgramStream) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			case s.errors <- fmt.Errorf("read error: %w", err):
			default:
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Printf("deepgram: failed to parse response: %v", err)
			continue
		}

		if resp.Type != "Results" {
			continue
		}

		// Extract transcript from first alternative (can be empty).
		var transcript string
		var confidence float64
		if len(resp.Channel.Alternatives) > 0 {
			alt := resp.Channel.Alternatives[0]
			transcript = alt.Transcript
			confidence = alt.Confidence
		}

		result := Result{
			Text:        transcript,
			Confidence:  confidence,
			Final:       resp.IsFinal,
			SpeechFinal: resp.SpeechFinal,
		}

		// Empty interim results carry no information
		if result.Text == "" && !result.Final && !result.SpeechFinal {
			continue
		}

		select {
		case <-s.done:
			return
		case s.results <- result:
		}
	}
}
