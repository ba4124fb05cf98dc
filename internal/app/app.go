package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/nela/internal/eventlog"
	"github.com/lukasbauer/nela/internal/httpapi"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool // nil when DATABASE_URL is unset
	eventLog   *eventlog.Logger
	httpClient *http.Client // shared pooled client for synthesis and reply providers
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	// The diagnostics event log is optional; the widget runs fine without a
	// database.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		db = pool
	}

	// Shared HTTP client with connection pooling. Keeps TCP connections
	// alive to reduce latency for repeated synthesis and reply calls.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		eventLog:   eventlog.New(db),
		httpClient: httpClient,
	}, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:      a.cfg.PublicBaseURL,
		JWTSecret:          a.cfg.JWTSecret,
		JWTExpiry:          a.cfg.JWTExpiry,
		DeepgramAPIKey:     a.cfg.DeepgramAPIKey,
		OpenAIAPIKey:       a.cfg.OpenAIAPIKey,
		ElevenLabsAPIKey:   a.cfg.ElevenLabsAPIKey,
		STTEndpointingMs:   a.cfg.STTEndpointingMs,
		TTSVoiceID:         a.cfg.TTSVoiceID,
		TTSModelID:         a.cfg.TTSModelID,
		GreetingText:       a.cfg.GreetingText,
		ReplyTimeout:       a.cfg.ReplyTimeout,
		ProviderHTTPClient: a.httpClient,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.eventLog, sessions)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
