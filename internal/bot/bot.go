// Package bot wires the framework together: API client, state store,
// labeler, router, and one of the two event sources (long polling or
// callback webhook), plus the optional job queue and event tap.
package bot

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vkbox/internal/auth"
	"vkbox/internal/callback"
	"vkbox/internal/config"
	"vkbox/internal/dispatch"
	"vkbox/internal/jobs"
	"vkbox/internal/labeler"
	"vkbox/internal/model"
	"vkbox/internal/pattern"
	"vkbox/internal/polling"
	"vkbox/internal/state"
	"vkbox/internal/tap"
	"vkbox/internal/vkapi"
)

// Bot is the assembled framework instance. Register handlers through
// Labeler (or Load other labelers into it), then call Run once.
type Bot struct {
	API     *vkapi.Client
	Labeler *labeler.Labeler
	States  state.Store
	Matcher *pattern.Matcher
	Jobs    *jobs.Client // nil unless jobs are enabled

	cfg        *config.Config
	log        *zap.Logger
	errors     dispatch.ErrorHandler
	registry   *prometheus.Registry
	jobsServer *jobs.Server
}

type logErrorHandler struct {
	log *zap.Logger
}

func (h *logErrorHandler) Handle(_ context.Context, err error) {
	h.log.Error("unhandled error", zap.Error(err))
}

func New(cfg *config.Config, log *zap.Logger) (*Bot, error) {
	states, err := buildStateStore(cfg)
	if err != nil {
		return nil, err
	}

	matcher := pattern.NewMatcher(128)

	b := &Bot{
		API:      vkapi.NewClient(cfg.Token, cfg.GroupID, log),
		Labeler:  labeler.New(labeler.WithMatcher(matcher)),
		States:   states,
		Matcher:  matcher,
		cfg:      cfg,
		log:      log,
		errors:   &logErrorHandler{log: log},
		registry: prometheus.NewRegistry(),
	}

	if cfg.JobsEnabled {
		b.jobsServer, b.Jobs = jobs.NewServer(cfg.RedisAddr, b.API, log)
	}
	return b, nil
}

func buildStateStore(cfg *config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case "", "memory":
		return state.NewMemoryStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return state.NewRedisStore(rdb, ""), nil
	case "postgres":
		return state.NewPostgresStore(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

// SetErrorHandler replaces the default log-only error handler. Call
// before Run.
func (b *Bot) SetErrorHandler(h dispatch.ErrorHandler) { b.errors = h }

// buildRouter freezes registrations into a router.
func (b *Bot) buildRouter() *dispatch.Router {
	messages := dispatch.NewMessageView(b.States, b.errors, b.log)
	messages.SetReturnHandler(b.sendStringReturn)
	raw := dispatch.NewRawEventView(b.errors, b.log)

	router := dispatch.NewRouter(messages, raw, b.errors, dispatch.NewMetrics(b.registry), b.log)
	b.Labeler.Apply(router)
	return router
}

// sendStringReturn delivers plain string handler returns as replies.
func (b *Bot) sendStringReturn(ctx context.Context, msg *model.Message, response interface{}) error {
	text := ""
	switch v := response.(type) {
	case string:
		text = v
	case fmt.Stringer:
		text = v.String()
	default:
		return nil
	}
	if text == "" {
		return nil
	}
	_, err := b.API.SendMessage(ctx, msg.PeerID, text)
	return err
}

// Run blocks serving events until ctx is cancelled. The event source is
// chosen by configuration; handlers and middlewares must all be
// registered before this point.
func (b *Bot) Run(ctx context.Context) error {
	router := b.buildRouter()

	hub := tap.NewHub(b.log)
	go hub.Run()
	defer hub.Close()
	router.AddTap(hub)

	if b.jobsServer != nil {
		go func() {
			if err := b.jobsServer.Start(); err != nil {
				b.log.Error("job server failed", zap.Error(err))
			}
		}()
		defer b.jobsServer.Stop()
	}

	srv := callback.NewServer(
		callback.Config{
			Addr:         b.cfg.Callback.Addr,
			Secret:       b.cfg.Callback.Secret,
			Confirmation: b.cfg.Callback.Confirmation,
			GroupID:      b.cfg.GroupID,
		},
		router,
		hub,
		auth.NewJWTConfig(b.cfg.OpsSecret),
		b.registry,
		b.log,
	)

	switch b.cfg.Mode {
	case "callback":
		return b.runCallback(ctx, srv)
	default:
		return b.runPolling(ctx, router, srv)
	}
}

// runPolling serves long polling as the event source, with the callback
// server reduced to the ops surface.
func (b *Bot) runPolling(ctx context.Context, router *dispatch.Router, srv *callback.Server) error {
	go func() {
		if err := srv.Start(); err != nil {
			b.log.Error("ops server failed", zap.Error(err))
		}
	}()
	defer srv.Shutdown(context.Background())

	transport := vkapi.NewLongPoll(b.API, b.log, vkapi.WithWait(b.cfg.Wait))
	poller := polling.New(transport, router, b.errors, b.log)

	b.log.Info("starting long polling", zap.Int64("group_id", b.cfg.GroupID))
	return poller.Run(ctx)
}

// runCallback serves the webhook as the event source.
func (b *Bot) runCallback(ctx context.Context, srv *callback.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
