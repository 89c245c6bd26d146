package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"vkbox/internal/bot"
	"vkbox/internal/config"
	"vkbox/internal/dispatch"
	"vkbox/internal/labeler"
	"vkbox/internal/model"
	"vkbox/internal/rules"
	"vkbox/internal/state"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runGooseMigrations(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		os.Exit(0)
	}
	if len(os.Args) > 1 && os.Args[1] != "serve" {
		log.Fatalf("Unknown command: %s (use 'serve' or 'migrate')", os.Args[1])
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("VKBOX_CONFIG"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	b, err := bot.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build bot", zap.Error(err))
	}

	registerHandlers(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down...")
		cancel()
	}()

	if err := b.Run(ctx); err != nil {
		logger.Fatal("Bot stopped with error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}

// registerHandlers holds the demo handler set: a ping command, a greeting
// template, and a two-step survey showing conversation state.
func registerHandlers(b *bot.Bot) {
	on := b.Labeler

	on.Message(true, func(ctx context.Context, dctx *dispatch.Context) (interface{}, error) {
		return "pong", nil
	}, rules.Command("ping"))

	on.Message(true, func(ctx context.Context, dctx *dispatch.Context) (interface{}, error) {
		name, _ := dctx.Vars["name"].(string)
		return "Hi, " + name + "!", nil
	}, rules.Template(b.Matcher, "my name is <name>"))

	surveyStart := rules.StateID{Group: "survey", Name: "age"}

	on.Message(true, func(ctx context.Context, dctx *dispatch.Context) (interface{}, error) {
		peer := dctx.Event.Message.PeerID
		if err := b.States.Set(ctx, peer, state.State{Group: "survey", Name: "age"}); err != nil {
			return nil, err
		}
		return "How old are you?", nil
	}, rules.Command("survey"), rules.StateIs()) // only outside a running survey

	on.Message(true, func(ctx context.Context, dctx *dispatch.Context) (interface{}, error) {
		peer := dctx.Event.Message.PeerID
		if err := b.States.Clear(ctx, peer); err != nil {
			return nil, err
		}
		return "Thanks, noted: " + dctx.Event.Message.Text, nil
	}, rules.StateIs(surveyStart))

	// Shorthand options resolve at registration; a typo in a key fails
	// here, not at dispatch time.
	err := on.MessageOpts(false, func(ctx context.Context, dctx *dispatch.Context) (interface{}, error) {
		return nil, nil
	}, labeler.Options{"attachment": "photo"})
	if err != nil {
		log.Fatalf("Bad handler registration: %v", err)
	}

	on.RawEvent([]string{"group_join"}, true, func(ctx context.Context, dctx *dispatch.Context) (interface{}, error) {
		var obj struct {
			UserID int64 `json:"user_id"`
		}
		if err := json.Unmarshal(dctx.Event.Update.Object, &obj); err != nil {
			return nil, err
		}
		_, err := b.API.SendMessage(ctx, obj.UserID, "Welcome aboard!")
		return nil, err
	})

	on.TextApproximator(func(m *model.Message) string { return strings.TrimSpace(m.Text) })
}
