// Package server serves the guild dashboard over HTTP: the rendered Shell and
// settings pages, the form endpoints that drive them, and a pass-through to the
// backend for the OAuth flow and stored uploads.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/small-frappuccino/guilddash/pkg/dashboard"
	"github.com/small-frappuccino/guilddash/pkg/log"
	"github.com/small-frappuccino/guilddash/pkg/storage"
)

const (
	defaultMaxFormBytes   = 1 << 20
	defaultMaxUploadBytes = 16 << 20
	recentChangesLimit    = 10
)

// ChangeHistory lists recorded writes for display. It may be nil.
type ChangeHistory interface {
	RecentChanges(ctx context.Context, guildID string, limit int) ([]storage.ChangeRecord, error)
}

// Options configures NewServer.
type Options struct {
	Addr string
	// Backend serves the dashboard's backend calls.
	Backend dashboard.Backend
	// BackendURL is the origin OAuth and upload requests are proxied to.
	BackendURL *url.URL
	// Recorder receives successful writes. May be nil.
	Recorder dashboard.ChangeRecorder
	// History lists recent writes on the dashboard page. May be nil.
	History ChangeHistory
	// SessionTTL is the idle lifetime of a browser session.
	SessionTTL time.Duration
	// CookieSecure marks the session cookie Secure.
	CookieSecure bool
}

// Server hosts the dashboard.
type Server struct {
	addr       string
	backend    dashboard.Backend
	recorder   dashboard.ChangeRecorder
	history    ChangeHistory
	sessions   *Sessions
	pages      *pages
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the dashboard server. It does not listen until Start.
func NewServer(opts Options) (*Server, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("listen address is empty")
	}
	if opts.Backend == nil {
		return nil, errors.New("backend is nil")
	}
	if opts.BackendURL == nil {
		return nil, errors.New("backend URL is nil")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}

	tpl, err := loadPages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		addr:     addr,
		backend:  opts.Backend,
		recorder: opts.Recorder,
		history:  opts.History,
		pages:    tpl,
	}
	s.sessions = NewSessions(opts.SessionTTL, opts.CookieSecure, func(id string) *dashboard.Shell {
		return dashboard.NewShell(s.backend, s.recorder, id)
	})
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(newBackendProxy(opts.BackendURL)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Sessions returns the browser session store.
func (s *Server) Sessions() *Sessions { return s.sessions }

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) routes(proxy http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Handle("/auth/*", proxy)
	r.Get("/api/guilds/{guildID}/uploads/*", proxy.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.sessions.Middleware)

		r.Get("/", s.handleIndex)
		r.Get("/oauth-success", s.handleOAuthSuccess)
		r.Get("/notice/ack", s.handleNoticeAck)
		r.Post("/load", s.handleLoad)
		r.Post("/save", s.handleSave)

		r.Route("/settings", func(r chi.Router) {
			r.Post("/toggle", s.handleToggleSettings)
			r.Post("/save", s.handleSettingsSave)
			r.Post("/upload", s.handleSettingsUpload)
			r.Post("/preview", s.handleSettingsPreview)
			r.Post("/preview/save", s.handleSettingsPreviewSave)
			r.Get("/preview/{previewID}", s.handlePreviewImage)
		})
	})
	return r
}

// Start opens the listening socket and serves in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind dashboard server: %w", err)
	}
	s.listener = ln

	log.ApplicationLogger().Info("Dashboard listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ApplicationLogger().Error("Dashboard server stopped unexpectedly", "err", err)
		}
	}()

	return nil
}

// Stop shuts the server down and closes every browser session.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.sessions.Close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown dashboard server: %w", err)
	}

	log.ApplicationLogger().Info("Dashboard stopped", "addr", s.addr)
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.HTTPLogger().Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
