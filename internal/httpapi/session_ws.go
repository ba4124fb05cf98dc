package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/nela/internal/capture"
	"github.com/lukasbauer/nela/internal/reply"
	"github.com/lukasbauer/nela/internal/session"
	"github.com/lukasbauer/nela/internal/stt"
	"github.com/lukasbauer/nela/internal/synth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is a command from the widget.
type clientFrame struct {
	Type       string `json:"type"` // submit_text, start_capture, stop_capture, stop_speaking, toggle_mute, set_credential, audio
	Text       string `json:"text,omitempty"`
	Credential string `json:"credential,omitempty"`
	Payload    string `json:"payload,omitempty"` // base64 microphone audio
}

// serverFrame is a message to the widget.
type serverFrame struct {
	Type     string            `json:"type"` // snapshot, notice, audio
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Notice   *session.Notice   `json:"notice,omitempty"`
	Payload  string            `json:"payload,omitempty"` // base64 synthesized audio
}

// widgetConn serializes concurrent writes to one widget WebSocket.
type widgetConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *widgetConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// wsPlayer implements synth.Player by pushing base64 audio chunks to the
// widget, which owns the actual audio element. Once ctx is cancelled no
// further chunk is written, so stopping playback is immediate from the
// session's perspective.
type wsPlayer struct {
	conn *widgetConn
}

func (p *wsPlayer) Play(ctx context.Context, audio io.Reader) error {
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := audio.Read(buf)
		if n > 0 {
			frame := serverFrame{
				Type:    "audio",
				Payload: base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if werr := p.conn.writeJSON(frame); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// handleSessionWS runs one widget session over a WebSocket connection.
func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request) {
	if err := r.verifySessionToken(req.URL.Query().Get("token")); err != nil {
		http.Error(w, `{"error": "invalid session token"}`, http.StatusUnauthorized)
		return
	}
	if !r.sessions.Add() {
		http.Error(w, `{"error": "shutting down"}`, http.StatusServiceUnavailable)
		return
	}
	defer r.sessions.Done()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("ws: upgrade failed: %v", err)
		return
	}
	ws := &widgetConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	// Speech capture over Deepgram; a missing API key means the platform
	// facility is unavailable and capture degrades to "unsupported".
	var dial capture.Dialer
	if r.cfg.DeepgramAPIKey != "" {
		dial = func(ctx context.Context) (stt.Stream, error) {
			return stt.DialDeepgram(ctx, stt.DeepgramConfig{
				APIKey:      r.cfg.DeepgramAPIKey,
				Punctuate:   true,
				Endpointing: r.cfg.STTEndpointingMs,
			})
		}
	}
	mic := capture.New(dial, r.logger)

	speaker := synth.New(
		synth.NewElevenLabsClient(synth.ElevenLabsConfig{
			VoiceID:    r.cfg.TTSVoiceID,
			ModelID:    r.cfg.TTSModelID,
			HTTPClient: r.cfg.ProviderHTTPClient,
		}),
		&wsPlayer{conn: ws},
		r.logger,
	)

	var source reply.Source
	if r.cfg.OpenAIAPIKey != "" {
		source = reply.NewOpenAIClient(reply.OpenAIConfig{
			APIKey:     r.cfg.OpenAIAPIKey,
			HTTPClient: r.cfg.ProviderHTTPClient,
		})
	} else {
		source = reply.NewCanned()
	}

	ctrl := session.New(ctx, session.Config{
		Capture:      mic,
		Synth:        speaker,
		Replies:      source,
		Credential:   r.cfg.ElevenLabsAPIKey,
		Greeting:     r.cfg.GreetingText,
		ReplyTimeout: r.cfg.ReplyTimeout,
		OnSnapshot: func(s session.Snapshot) {
			_ = ws.writeJSON(serverFrame{Type: "snapshot", Snapshot: &s})
		},
		OnNotice: func(n session.Notice) {
			_ = ws.writeJSON(serverFrame{Type: "notice", Notice: &n})
		},
		Events: r.eventLog,
		Logger: r.logger,
	})
	defer ctrl.Close()

	r.logger.Printf("ws: session %s started", ctrl.ID())
	defer r.logger.Printf("ws: session %s ended", ctrl.ID())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Printf("ws: session %s read error: %v", ctrl.ID(), err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			r.logger.Printf("ws: session %s bad frame: %v", ctrl.ID(), err)
			continue
		}

		switch frame.Type {
		case "submit_text":
			ctrl.SubmitText(frame.Text)
		case "start_capture":
			ctrl.StartCapture()
		case "stop_capture":
			ctrl.StopCapture()
		case "stop_speaking":
			ctrl.StopSpeaking()
		case "toggle_mute":
			ctrl.ToggleMute()
		case "set_credential":
			ctrl.SetCredential(frame.Credential)
		case "audio":
			audio, err := base64.StdEncoding.DecodeString(frame.Payload)
			if err != nil {
				r.logger.Printf("ws: session %s bad audio payload: %v", ctrl.ID(), err)
				continue
			}
			mic.Feed(ctx, audio)
		default:
			r.logger.Printf("ws: session %s unknown frame type %q", ctrl.ID(), frame.Type)
		}
	}
}
