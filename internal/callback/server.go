// Package callback is the push-mode event source: the platform POSTs
// updates to a webhook instead of the bot long-polling for them. Both
// sources feed the same router. The server also carries the ops surface
// (health, metrics, event tap).
package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vkbox/internal/auth"
	"vkbox/internal/model"
)

// Dispatcher receives verified updates.
type Dispatcher interface {
	Route(ctx context.Context, update *model.Update)
}

// TapHandler serves the websocket event inspector.
type TapHandler interface {
	Handler(w http.ResponseWriter, r *http.Request)
}

// Config is the webhook/ops server configuration.
type Config struct {
	Addr         string
	Secret       string // shared secret the platform sends with each update
	Confirmation string // string returned to the confirmation challenge
	GroupID      int64
}

type Server struct {
	cfg        Config
	dispatcher Dispatcher
	tap        TapHandler
	jwt        *auth.JWTConfig
	registry   *prometheus.Registry
	srv        *http.Server
	log        *zap.Logger
}

func NewServer(cfg Config, d Dispatcher, tap TapHandler, jwtCfg *auth.JWTConfig, registry *prometheus.Registry, log *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		tap:        tap,
		jwt:        jwtCfg,
		registry:   registry,
		log:        log,
	}
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Post("/callback", s.handleCallback)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Ops surface, bearer-protected.
	r.Group(func(r chi.Router) {
		r.Use(s.jwt.Middleware)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
		if s.tap != nil {
			r.Get("/tap", s.tap.Handler)
		}
	})

	return r
}

type callbackEnvelope struct {
	Type    model.UpdateType `json:"type"`
	Object  json.RawMessage  `json:"object"`
	GroupID int64            `json:"group_id"`
	Secret  string           `json:"secret"`
}

// handleCallback verifies and acknowledges one pushed update. The platform
// retries anything that is not a plain "ok", so dispatch happens after the
// response is on its way.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var env callbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if s.cfg.Secret != "" && env.Secret != s.cfg.Secret {
		s.log.Warn("callback secret mismatch", zap.Int64("group_id", env.GroupID))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if env.Type == "confirmation" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(s.cfg.Confirmation))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))

	update := &model.Update{Type: env.Type, Object: env.Object}
	go s.dispatcher.Route(context.WithoutCancel(r.Context()), update)
}

// Start begins serving in the calling goroutine.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}
	s.log.Info("callback server listening", zap.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// requestLogger mirrors the access-log middleware style used elsewhere,
// skipping websocket upgrades which need the raw ResponseWriter.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
