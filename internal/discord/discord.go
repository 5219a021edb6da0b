// Package discord attaches the bot to a Discord gateway session.
package discord

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/model"
)

// MaxMessageChars is Discord's message length limit.
const MaxMessageChars = 2000

// Intents requested at identify time. Message content is privileged and must
// be enabled for the application.
const Intents = discordgo.IntentGuilds |
	discordgo.IntentGuildMessages |
	discordgo.IntentDirectMessages |
	discordgo.IntentMessageContent

// api is the subset of the REST surface the bot uses.
type api interface {
	sendReply(channelID, messageID, content string) error
	typing(channelID string) error
	channel(channelID string) (*discordgo.Channel, error)
	setRolePermission(channelID, roleID string, allow, deny int64) error
	userPermissions(userID, channelID string) (int64, error)
}

// Client is a Discord commander.
type Client struct {
	session *discordgo.Session
	rest    api

	mu       sync.RWMutex
	identity commander.Identity
}

// NewClient creates a session for a bot token. No connection is made until
// Listen.
func NewClient(token string) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	s.Identify.Intents = Intents
	return &Client{session: s, rest: sessionAPI{s}}, nil
}

// Identity implements commander.Commander.
func (c *Client) Identity() commander.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) setIdentity(u *discordgo.User) {
	c.mu.Lock()
	c.identity = identityFor(u)
	c.mu.Unlock()
}

func identityFor(u *discordgo.User) commander.Identity {
	return commander.Identity{
		ID:       u.ID,
		Username: u.Username,
		Mentions: []string{"<@" + u.ID + ">", "<@!" + u.ID + ">"},
	}
}

// Listen opens the gateway and delivers messages until ctx is done.
func (c *Client) Listen(ctx context.Context, handle commander.Handler) error {
	removeReady := c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.setIdentity(r.User)
		log.Info().Str("platform", "discord").Str("bot", r.User.Username).Str("bot_id", r.User.ID).Int("guilds", len(r.Guilds)).Msg("bot online")
	})
	defer removeReady()
	removeCreate := c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		id := c.Identity()
		if id.ID == "" || m.Message == nil {
			return
		}
		handle(ctx, convert(m.Message, id.ID))
	})
	defer removeCreate()

	if err := c.session.Open(); err != nil {
		return errors.Wrap(err, "open discord gateway")
	}
	<-ctx.Done()
	if err := c.session.Close(); err != nil {
		log.Warn().Err(err).Msg("closing discord session")
	}
	return ctx.Err()
}

func convert(m *discordgo.Message, botID string) commander.Message {
	msg := commander.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Text:      m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorIsBot = m.Author.Bot
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			msg.MentionsBot = true
			break
		}
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil {
		msg.RepliesToBot = ref.Author.ID == botID
	}
	return msg
}

// Reply implements commander.Commander.
func (c *Client) Reply(_ context.Context, msg commander.Message, text string) error {
	return errors.Wrap(c.rest.sendReply(msg.ChannelID, msg.ID, model.Truncate(text, MaxMessageChars)), "send discord reply")
}

// Typing implements commander.Commander.
func (c *Client) Typing(_ context.Context, channelID string) error {
	return errors.Wrap(c.rest.typing(channelID), "discord typing")
}

// SetSendPermission edits the @everyone overwrite of channelID, keeping every
// other bit of the existing overwrite.
func (c *Client) SetSendPermission(_ context.Context, channelID string, allowed bool) error {
	ch, err := c.rest.channel(channelID)
	if err != nil {
		return errors.Wrapf(err, "fetch channel %s", channelID)
	}
	if ch.GuildID == "" {
		return errors.Errorf("channel %s is not in a server", channelID)
	}
	// The @everyone role shares the guild id.
	roleID := ch.GuildID
	var allow, deny int64
	for _, o := range ch.PermissionOverwrites {
		if o != nil && o.ID == roleID && o.Type == discordgo.PermissionOverwriteTypeRole {
			allow, deny = o.Allow, o.Deny
		}
	}
	if allowed {
		allow |= discordgo.PermissionSendMessages
		deny &^= discordgo.PermissionSendMessages
	} else {
		deny |= discordgo.PermissionSendMessages
		allow &^= discordgo.PermissionSendMessages
	}
	return errors.Wrapf(c.rest.setRolePermission(channelID, roleID, allow, deny), "set permissions on %s", channelID)
}

// CanManageChannels reports whether the author holds Manage Channels (or
// Administrator) in the message's channel.
func (c *Client) CanManageChannels(_ context.Context, msg commander.Message) (bool, error) {
	perms, err := c.rest.userPermissions(msg.AuthorID, msg.ChannelID)
	if err != nil {
		return false, errors.Wrap(err, "resolve member permissions")
	}
	return perms&(discordgo.PermissionManageChannels|discordgo.PermissionAdministrator) != 0, nil
}

// ResolveChannel accepts a channel mention (<#id>) or a bare snowflake.
func (c *Client) ResolveChannel(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if inner, ok := strings.CutPrefix(arg, "<#"); ok {
		arg, ok = strings.CutSuffix(inner, ">")
		if !ok {
			return "", false
		}
	}
	if arg == "" {
		return "", false
	}
	for _, r := range arg {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return arg, true
}

// ChannelLabel renders a channel mention.
func (c *Client) ChannelLabel(channelID string) string {
	return "<#" + channelID + ">"
}

type sessionAPI struct {
	s *discordgo.Session
}

func (a sessionAPI) sendReply(channelID, messageID, content string) error {
	_, err := a.s.ChannelMessageSendReply(channelID, content, &discordgo.MessageReference{
		MessageID: messageID,
		ChannelID: channelID,
	})
	return err
}

func (a sessionAPI) typing(channelID string) error {
	return a.s.ChannelTyping(channelID)
}

func (a sessionAPI) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := a.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return a.s.Channel(channelID)
}

func (a sessionAPI) setRolePermission(channelID, roleID string, allow, deny int64) error {
	return a.s.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, allow, deny)
}

func (a sessionAPI) userPermissions(userID, channelID string) (int64, error) {
	return a.s.UserChannelPermissions(userID, channelID)
}

var _ commander.Commander = (*Client)(nil)
