// Package router decides what, if anything, the bot does with an inbound
// message.
package router

import (
	"strings"
	"unicode"

	"github.com/stupiduntilnot/zyro/internal/commander"
)

// DefaultPrefix starts a command.
const DefaultPrefix = "!"

// Kind is the routing outcome.
type Kind int

const (
	Ignore Kind = iota
	Conversation
	Command
)

func (k Kind) String() string {
	switch k {
	case Conversation:
		return "conversation"
	case Command:
		return "command"
	default:
		return "ignore"
	}
}

// Trigger names how a conversation was started.
type Trigger string

const (
	TriggerMention Trigger = "mention"
	TriggerReply   Trigger = "reply"
	TriggerAsk     Trigger = "ask"
)

// Command names.
const (
	CommandAsk    = "ask"
	CommandLock   = "lock"
	CommandUnlock = "unlock"
)

var aliases = map[string]string{
	CommandAsk:    CommandAsk,
	CommandLock:   CommandLock,
	CommandUnlock: CommandUnlock,
	"perguntar":   CommandAsk,
	"bloquear":    CommandLock,
	"desbloquear": CommandUnlock,
}

// Decision is the result of Classify.
type Decision struct {
	Kind    Kind
	Trigger Trigger
	// Text is the conversational input with bot mentions removed. It may be
	// empty for a bare mention.
	Text string
	// Command is the canonical command name and Args its trimmed arguments.
	Command string
	Args    string
}

// Router classifies messages for one bot identity.
type Router struct {
	identity commander.Identity
	prefix   string
}

// New returns a Router. An empty prefix selects DefaultPrefix.
func New(identity commander.Identity, prefix string) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Router{identity: identity, prefix: prefix}
}

// Classify routes msg. Bot-authored messages are always ignored. A recognised
// command wins over a mention or reply in the same message.
func (r *Router) Classify(msg commander.Message) Decision {
	if msg.AuthorIsBot {
		return Decision{Kind: Ignore}
	}

	text := strings.TrimSpace(msg.Text)
	if d, ok := r.parseCommand(text); ok {
		return d
	}

	if msg.MentionsBot {
		stripped := r.identity.StripMentions(text)
		if d, ok := r.parseCommand(stripped); ok {
			return d
		}
		return Decision{Kind: Conversation, Trigger: TriggerMention, Text: stripped}
	}

	if msg.RepliesToBot {
		if text == "" {
			return Decision{Kind: Ignore}
		}
		return Decision{Kind: Conversation, Trigger: TriggerReply, Text: text}
	}

	return Decision{Kind: Ignore}
}

func (r *Router) parseCommand(text string) (Decision, bool) {
	if !strings.HasPrefix(text, r.prefix) {
		return Decision{}, false
	}
	body := strings.TrimPrefix(text, r.prefix)
	name, args := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, args = body[:i], body[i:]
	}
	name = strings.ToLower(name)
	// Telegram addresses commands as name@botname in groups.
	if r.identity.Username != "" {
		name = strings.TrimSuffix(name, "@"+strings.ToLower(r.identity.Username))
	}
	canonical, ok := aliases[name]
	if !ok {
		return Decision{}, false
	}
	return Decision{Kind: Command, Command: canonical, Args: strings.TrimSpace(args)}, true
}
