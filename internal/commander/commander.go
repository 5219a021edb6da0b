package commander

import (
	"context"
	"regexp"
	"strings"
)

// Commander is the chat platform the bot is attached to.
type Commander interface {
	// Identity returns the bot account as seen by the platform. It is only
	// valid after Listen has started.
	Identity() Identity
	// Listen blocks, delivering every inbound message to handle until ctx is
	// cancelled or the connection fails. handle may be called concurrently.
	Listen(ctx context.Context, handle Handler) error
	// Reply posts text in msg's channel as a reply to msg.
	Reply(ctx context.Context, msg Message, text string) error
	// Typing shows the typing indicator in channelID.
	Typing(ctx context.Context, channelID string) error
	// SetSendPermission allows or denies the default role sending messages in
	// channelID.
	SetSendPermission(ctx context.Context, channelID string, allowed bool) error
	// CanManageChannels reports whether msg's author may lock channels.
	CanManageChannels(ctx context.Context, msg Message) (bool, error)
	// ResolveChannel turns a command argument into a channel id.
	ResolveChannel(arg string) (string, bool)
	// ChannelLabel renders channelID for confirmations.
	ChannelLabel(channelID string) string
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg Message)

// Identity describes the bot account.
type Identity struct {
	ID       string
	Username string
	// Mentions are the literal tokens that address the bot in message text.
	Mentions []string
}

// StripMentions removes every mention token of the bot from text, ignoring
// case, and trims the result.
func (id Identity) StripMentions(text string) string {
	for _, m := range id.Mentions {
		if m == "" {
			continue
		}
		text = regexp.MustCompile("(?i)"+regexp.QuoteMeta(m)).ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// Message is a platform-neutral inbound message.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	// AuthorName is used for logs only.
	AuthorName  string
	AuthorIsBot bool
	Text        string
	// MentionsBot is set when the bot account is mentioned.
	MentionsBot bool
	// RepliesToBot is set when the message replies to a message the bot sent.
	RepliesToBot bool
}
