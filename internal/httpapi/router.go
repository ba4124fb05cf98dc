package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/nela/internal/eventlog"
)

type RouterConfig struct {
	PublicBaseURL string

	// Session token signing
	JWTSecret string
	JWTExpiry time.Duration

	// Voice AI providers
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string // default session credential; widgets may override per session

	// STT settings
	STTEndpointingMs int // Deepgram endpointing in ms (silence threshold)

	// Voice settings
	TTSVoiceID string
	TTSModelID string

	// Conversation settings
	GreetingText string
	ReplyTimeout time.Duration

	// Shared pooled HTTP client for synthesis and reply requests
	ProviderHTTPClient *http.Client
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	eventLog *eventlog.Logger
	sessions *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, eventLog *eventlog.Logger, sessions *SessionRegistry) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		eventLog: eventLog,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Widget session bootstrap (public - the widget has no account)
	r.mux.HandleFunc("POST /session", r.handleCreateSession)

	// Widget session transport (token verified)
	r.mux.HandleFunc("GET /ws", r.handleSessionWS)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleCreateSession mints a short-lived token the widget presents when
// opening its WebSocket.
func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	if r.cfg.JWTSecret == "" {
		r.logger.Printf("session: JWT_SECRET not configured")
		http.Error(w, `{"error": "sessions not configured"}`, http.StatusServiceUnavailable)
		return
	}
	if r.sessions.IsDraining() {
		http.Error(w, `{"error": "shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	token, expiresAt, err := r.mintSessionToken()
	if err != nil {
		captureError(req, err, "session: failed to mint token")
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"ws_url":     wsURLFromPublicBase(r.cfg.PublicBaseURL) + "/ws",
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
