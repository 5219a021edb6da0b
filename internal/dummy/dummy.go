// Package dummy provides a scripted chat platform and model provider for
// running the bot offline.
//
// Scripts are comma separated actions. The commander understands
// msg:<text> (a mention), reply:<text> (a reply to the bot), raw:<text> (a
// plain message, e.g. a command), msgb64:<base64>, sleep:<ms> and ok (no-op).
// The provider understands ok[:<text>], msg:<text>, msgb64:<base64>,
// sleep:<ms>, api:<status>[:<body>], timeout and err:<detail>.
package dummy

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// Identity of the scripted bot and user.
const (
	BotID     = "0"
	UserID    = "1"
	ChannelID = "dummy"
)

var knownKinds = map[string]bool{
	"ok": true, "err": true, "sleep": true, "msg": true, "msgb64": true,
	"reply": true, "raw": true, "api": true, "timeout": true,
}

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	parts := strings.Split(script, ",")
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		kind, arg, _ := strings.Cut(token, ":")
		if !knownKinds[kind] {
			return nil, errors.Errorf("invalid dummy action: %s", token)
		}
		actions = append(actions, action{kind: kind, arg: arg})
	}
	return actions, nil
}

func sleepMillis(ctx context.Context, arg string) error {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}

func decodeText(a action) (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", errors.Wrap(err, "dummy msgb64 decode failed")
	}
	return string(raw), nil
}

// Sent is one outbound message recorded by Commander.
type Sent struct {
	ReplyTo string
	Text    string
}

// Commander replays a script as inbound messages and records replies.
type Commander struct {
	actions []action

	mu          sync.Mutex
	nextID      int
	sent        []Sent
	locked      map[string]bool
	canManage   bool
	typingCount int
}

// NewCommander parses script. The scripted user may manage channels.
func NewCommander(script string) (*Commander, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &Commander{actions: actions, locked: map[string]bool{}, canManage: true}, nil
}

// Identity implements commander.Commander.
func (c *Commander) Identity() commander.Identity {
	return commander.Identity{ID: BotID, Username: "zyro", Mentions: []string{"@zyro"}}
}

// Listen delivers every scripted message in order, then blocks until ctx is
// done.
func (c *Commander) Listen(ctx context.Context, handle commander.Handler) error {
	log.Info().Str("platform", "dummy").Int("actions", len(c.actions)).Msg("bot online")
	for _, a := range c.actions {
		if ctx.Err() != nil {
			break
		}
		switch a.kind {
		case "sleep":
			_ = sleepMillis(ctx, a.arg)
			continue
		case "err":
			return errors.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
		case "msg", "msgb64", "reply", "raw":
		default:
			continue
		}
		text, err := decodeText(a)
		if err != nil {
			return err
		}
		handle(ctx, c.message(a.kind, text))
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *Commander) message(kind, text string) commander.Message {
	c.mu.Lock()
	c.nextID++
	id := strconv.Itoa(c.nextID)
	c.mu.Unlock()

	msg := commander.Message{ID: id, ChannelID: ChannelID, AuthorID: UserID, AuthorName: "dummy-user", Text: text}
	switch kind {
	case "msg", "msgb64":
		msg.MentionsBot = true
		msg.Text = "@zyro " + text
	case "reply":
		msg.RepliesToBot = true
	}
	return msg
}

// Reply implements commander.Commander.
func (c *Commander) Reply(_ context.Context, msg commander.Message, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, Sent{ReplyTo: msg.ID, Text: text})
	c.mu.Unlock()
	log.Info().Str("reply_to", msg.ID).Str("text", text).Msg("dummy reply")
	return nil
}

// Typing implements commander.Commander.
func (c *Commander) Typing(context.Context, string) error {
	c.mu.Lock()
	c.typingCount++
	c.mu.Unlock()
	return nil
}

// SetSendPermission implements commander.Commander.
func (c *Commander) SetSendPermission(_ context.Context, channelID string, allowed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked[channelID] = !allowed
	return nil
}

// CanManageChannels implements commander.Commander.
func (c *Commander) CanManageChannels(context.Context, commander.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canManage, nil
}

// SetCanManage changes the scripted user's capability.
func (c *Commander) SetCanManage(v bool) {
	c.mu.Lock()
	c.canManage = v
	c.mu.Unlock()
}

// ResolveChannel accepts any non-empty name.
func (c *Commander) ResolveChannel(arg string) (string, bool) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "#")
	return arg, arg != ""
}

// ChannelLabel implements commander.Commander.
func (c *Commander) ChannelLabel(channelID string) string { return "#" + channelID }

// Sent returns the recorded replies.
func (c *Commander) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Locked reports whether channelID is locked.
func (c *Commander) Locked(channelID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked[channelID]
}

// Provider answers from a script. The last action repeats once the script is
// exhausted; an empty script always answers "dummy-ok".
type Provider struct {
	mu      sync.Mutex
	actions []action
	index   int
	calls   int
}

// NewProvider parses script.
func NewProvider(script string) (*Provider, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &Provider{actions: actions}, nil
}

func (p *Provider) next() action {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.actions) == 0 {
		return action{kind: "ok"}
	}
	if p.index >= len(p.actions) {
		return p.actions[len(p.actions)-1]
	}
	a := p.actions[p.index]
	p.index++
	return a
}

// Calls returns how many completions were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// ChatCompletion implements model.Provider.
func (p *Provider) ChatCompletion(ctx context.Context, messages []prompt.Message) (model.CompletionResponse, error) {
	a := p.next()
	resp := model.CompletionResponse{InputTokens: prompt.CountTokens(messages), OutputTokens: 1}
	switch a.kind {
	case "ok":
		resp.Content = emptyAs(a.arg, "dummy-ok")
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return model.CompletionResponse{}, model.Unexpected(err)
		}
		resp.Content = text
	case "sleep":
		if err := sleepMillis(ctx, a.arg); err != nil {
			return model.CompletionResponse{}, model.Timeout(err)
		}
		resp.Content = "dummy-after-sleep"
	case "api":
		status, body, _ := strings.Cut(a.arg, ":")
		code, err := strconv.Atoi(status)
		if err != nil {
			code = 500
		}
		return model.CompletionResponse{}, model.APIError(code, body)
	case "timeout":
		return model.CompletionResponse{}, model.Timeout(context.DeadlineExceeded)
	case "err":
		return model.CompletionResponse{}, model.Unexpected(errors.Errorf("dummy provider error class=%s", emptyAs(a.arg, "provider_api")))
	default:
		resp.Content = "dummy-ok"
	}
	return resp, nil
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

var (
	_ commander.Commander = (*Commander)(nil)
	_ model.Provider      = (*Provider)(nil)
)
