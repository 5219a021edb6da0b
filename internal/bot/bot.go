// Package bot turns routed chat messages into replies.
package bot

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/completion"
	"github.com/stupiduntilnot/zyro/internal/db"
	"github.com/stupiduntilnot/zyro/internal/history"
	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/router"
)

// Defaults for Options.
const (
	DefaultTypingDelay   = 1200 * time.Millisecond
	DefaultMaxConcurrent = 16
)

// typingRefresh re-sends the indicator before platforms expire it.
const typingRefresh = 8 * time.Second

const maxLoggedInput = 200

// Completer answers user input.
type Completer interface {
	Complete(ctx context.Context, userID, input string) (completion.Reply, error)
}

// Options tunes the bot.
type Options struct {
	Prefix string
	// TypingDelay is waited after showing the typing indicator and before
	// the completion call. Zero disables it.
	TypingDelay   time.Duration
	MaxConcurrent int
}

// Bot handles inbound messages from one platform.
type Bot struct {
	platform  commander.Commander
	completer Completer
	journal   *db.Journal
	opts      Options
}

// New returns a Bot. journal may be nil.
func New(platform commander.Commander, completer Completer, journal *db.Journal, opts Options) *Bot {
	if opts.Prefix == "" {
		opts.Prefix = router.DefaultPrefix
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Bot{platform: platform, completer: completer, journal: journal, opts: opts}
}

// Serve listens until ctx is done, handling up to MaxConcurrent messages at
// once. In-flight handlers finish before Serve returns. Shutdown through ctx
// is not an error.
func (b *Bot) Serve(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(b.opts.MaxConcurrent)
	err := b.platform.Listen(ctx, func(ctx context.Context, msg commander.Message) {
		handlerCtx := context.WithoutCancel(ctx)
		p.Go(func() { b.Handle(handlerCtx, msg) })
	})
	p.Wait()
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// Handle routes and processes one message.
func (b *Bot) Handle(ctx context.Context, msg commander.Message) {
	d := router.New(b.platform.Identity(), b.opts.Prefix).Classify(msg)
	switch d.Kind {
	case router.Conversation:
		b.Converse(ctx, msg, d.Trigger, d.Text)
	case router.Command:
		b.runCommand(ctx, msg, d)
	}
}

// Converse answers text on behalf of msg's author. A bare mention gets a
// prompt for input and no completion call.
func (b *Bot) Converse(ctx context.Context, msg commander.Message, trigger router.Trigger, text string) {
	if text == "" {
		if trigger == router.TriggerMention {
			b.reply(ctx, msg, 0, textPromptForInput)
		}
		return
	}

	exchangeID := uuid.NewString()
	logger := log.With().
		Str("exchange_id", exchangeID).
		Str("user_id", msg.AuthorID).
		Str("channel_id", msg.ChannelID).
		Str("trigger", string(trigger)).
		Logger()
	logger.Debug().Str("input", model.Truncate(text, maxLoggedInput)).Msg("exchange started")
	eventID := b.journal.Log(0, db.EventExchangeStarted, map[string]any{
		"exchange_id": exchangeID,
		"user_id":     msg.AuthorID,
		"channel_id":  msg.ChannelID,
		"trigger":     string(trigger),
	})

	stopTyping := b.keepTyping(ctx, msg.ChannelID, logger)
	if err := sleep(ctx, b.opts.TypingDelay); err != nil {
		stopTyping()
		return
	}
	reply, err := b.completer.Complete(ctx, msg.AuthorID, text)
	stopTyping()

	out := reply.Text
	switch {
	case err == nil:
		b.logCompleted(logger, eventID, reply)
	case errors.Is(err, history.ErrStorage):
		b.logCompleted(logger, eventID, reply)
		logger.Error().Err(err).Msg("history not persisted")
		b.journal.Log(eventID, db.EventHistoryPersistFailed, map[string]any{"error": err.Error()})
	default:
		f := model.AsFailure(err)
		out = failureText(f)
		logger.Warn().Err(err).Str("kind", string(f.Kind)).Dur("latency", reply.Latency).Msg("exchange failed")
		b.journal.Log(eventID, db.EventExchangeFailed, map[string]any{
			"kind":   string(f.Kind),
			"status": f.Status,
			"error":  err.Error(),
		})
	}
	b.reply(ctx, msg, eventID, out)
}

func (b *Bot) logCompleted(logger zerolog.Logger, eventID int64, reply completion.Reply) {
	logger.Info().
		Int("history_len", reply.HistoryLen).
		Int("prompt_tokens", reply.PromptTokens).
		Int("input_tokens", reply.InputTokens).
		Int("output_tokens", reply.OutputTokens).
		Dur("latency", reply.Latency).
		Msg("exchange completed")
	b.journal.Log(eventID, db.EventExchangeCompleted, map[string]any{
		"history_len":   reply.HistoryLen,
		"prompt_tokens": reply.PromptTokens,
		"input_tokens":  reply.InputTokens,
		"output_tokens": reply.OutputTokens,
		"latency_ms":    reply.Latency.Milliseconds(),
	})
}

func (b *Bot) reply(ctx context.Context, msg commander.Message, eventID int64, text string) {
	if err := b.platform.Reply(ctx, msg, text); err != nil {
		log.Error().Err(err).Str("channel_id", msg.ChannelID).Str("message_id", msg.ID).Msg("failed to send reply")
		return
	}
	b.journal.Log(eventID, db.EventReplySent, map[string]any{
		"channel_id": msg.ChannelID,
		"chars":      len([]rune(text)),
	})
}

// keepTyping shows the indicator until the returned func is called.
func (b *Bot) keepTyping(ctx context.Context, channelID string, logger zerolog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			if err := b.platform.Typing(ctx, channelID); err != nil && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("typing indicator failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
