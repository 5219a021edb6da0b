package bot

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/db"
	"github.com/stupiduntilnot/zyro/internal/router"
)

func (b *Bot) runCommand(ctx context.Context, msg commander.Message, d router.Decision) {
	switch d.Command {
	case router.CommandAsk:
		b.ask(ctx, msg, d.Args)
	case router.CommandLock:
		b.setLocked(ctx, msg, d.Args, true)
	case router.CommandUnlock:
		b.setLocked(ctx, msg, d.Args, false)
	}
}

func (b *Bot) ask(ctx context.Context, msg commander.Message, question string) {
	if question == "" {
		b.reply(ctx, msg, 0, usageText(b.opts.Prefix, router.CommandAsk))
		return
	}
	b.reply(ctx, msg, 0, textThinking)
	b.Converse(ctx, msg, router.TriggerAsk, question)
}

func (b *Bot) setLocked(ctx context.Context, msg commander.Message, arg string, locked bool) {
	logger := log.With().
		Str("user_id", msg.AuthorID).
		Str("channel_id", msg.ChannelID).
		Bool("locked", locked).
		Logger()

	allowed, err := b.platform.CanManageChannels(ctx, msg)
	if err != nil {
		logger.Warn().Err(err).Msg("permission check failed")
		b.reply(ctx, msg, 0, errorText(err.Error()))
		return
	}
	if !allowed {
		logger.Info().Msg("channel permission change refused")
		b.reply(ctx, msg, 0, textNoPermission)
		return
	}

	target := msg.ChannelID
	if arg != "" {
		resolved, ok := b.platform.ResolveChannel(arg)
		if !ok {
			b.reply(ctx, msg, 0, unknownChannelText(arg))
			return
		}
		target = resolved
	}

	if err := b.platform.SetSendPermission(ctx, target, !locked); err != nil {
		logger.Error().Err(err).Str("target", target).Msg("failed to change channel permission")
		b.reply(ctx, msg, 0, errorText(err.Error()))
		return
	}

	label := b.platform.ChannelLabel(target)
	eventType, text := db.EventChannelUnlocked, unlockedText(label)
	if locked {
		eventType, text = db.EventChannelLocked, lockedText(label)
	}
	logger.Info().Str("target", target).Msg("channel permission changed")
	eventID := b.journal.Log(0, eventType, map[string]any{
		"channel_id": target,
		"user_id":    msg.AuthorID,
	})
	b.reply(ctx, msg, eventID, text)
}
