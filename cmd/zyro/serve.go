package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/zyro/internal/bot"
	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/completion"
	"github.com/stupiduntilnot/zyro/internal/config"
	"github.com/stupiduntilnot/zyro/internal/db"
	"github.com/stupiduntilnot/zyro/internal/discord"
	"github.com/stupiduntilnot/zyro/internal/dummy"
	"github.com/stupiduntilnot/zyro/internal/history"
	"github.com/stupiduntilnot/zyro/internal/logging"
	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/openai"
	"github.com/stupiduntilnot/zyro/internal/telegram"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the chat platform and answer messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing history store")
		}
	}()

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	platform, err := newPlatform(ctx, cfg)
	if err != nil {
		return err
	}

	journal, closeJournal, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer closeJournal()

	log.Info().
		Str("platform", cfg.Platform).
		Str("provider", cfg.Completion.Provider).
		Str("model", cfg.Completion.Model).
		Str("history_backend", cfg.History.Backend).
		Int("history_users", store.Users()).
		Int("history_window", store.Window()).
		Msg("zyro starting")

	b := bot.New(platform, completion.New(provider, store, cfg.Persona), journal, bot.Options{
		Prefix:        cfg.Bot.Prefix,
		TypingDelay:   cfg.Bot.TypingDelay,
		MaxConcurrent: cfg.Bot.MaxConcurrent,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return b.Serve(gctx)
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case s := <-sig:
			log.Info().Str("signal", s.String()).Msg("shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	err = g.Wait()
	journal.Log(0, db.EventProcessStopped, map[string]any{"error": errString(err)})
	return err
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (*history.Store, error) {
	var (
		backend history.Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendFile:
		var fb *history.FileBackend
		if fb, err = history.NewFileBackend(cfg.Path); err == nil {
			log.Debug().Str("path", fb.Path()).Msg("history file")
			backend = fb
		}
	case config.BackendSQLite:
		var database *sql.DB
		database, err = db.OpenDB(cfg.SQLitePath)
		if err == nil {
			if backend, err = history.NewSQLiteBackend(database); err != nil {
				database.Close()
			}
		}
	case config.BackendRedis:
		backend, err = history.NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	default:
		err = errors.Errorf("unknown history backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create history backend")
	}
	return history.Open(ctx, backend, history.Options{Window: cfg.Window})
}

func newProvider(cfg config.Config) (model.Provider, error) {
	switch cfg.Completion.Provider {
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.Dummy.ProviderScript)
	default:
		return openai.NewClient(openai.Options{
			APIKey:      cfg.Completion.APIKey,
			URL:         cfg.Completion.URL,
			Model:       cfg.Completion.Model,
			Temperature: &cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
			Timeout:     cfg.Completion.Timeout,
		}), nil
	}
}

func newPlatform(ctx context.Context, cfg config.Config) (commander.Commander, error) {
	switch cfg.Platform {
	case config.PlatformTelegram:
		c := telegram.NewClient(telegram.Options{
			APIBase:          telegram.APIBaseForToken(cfg.Telegram.APIBase, cfg.Telegram.Token),
			PollTimeout:      cfg.Telegram.PollTimeout,
			PendingWindow:    cfg.Telegram.PendingWindow,
			FailureThreshold: cfg.Telegram.FailureThreshold,
			FailureCooldown:  cfg.Telegram.FailureCooldown,
		})
		// Fail at startup on a bad token rather than in the poll loop.
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case config.PlatformDummy:
		return dummy.NewCommander(cfg.Dummy.Script)
	default:
		return discord.NewClient(cfg.Discord.Token)
	}
}

// openJournal returns a nil journal when the audit log is disabled.
func openJournal(cfg config.Config) (*db.Journal, func(), error) {
	if cfg.Events.DBPath == "" {
		return nil, func() {}, nil
	}
	database, err := db.OpenDB(cfg.Events.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	journal, err := db.StartJournal(database, map[string]any{
		"pid":      os.Getpid(),
		"platform": cfg.Platform,
		"model":    cfg.Completion.Model,
		"history":  cfg.History.Backend,
	})
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return journal, func() { _ = database.Close() }, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
