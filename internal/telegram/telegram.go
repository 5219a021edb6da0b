package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/control"
	"github.com/stupiduntilnot/zyro/internal/model"
)

// MaxMessageChars is the outbound clip applied to every message.
const MaxMessageChars = 3900

// DefaultAPIBase is the public Bot API host.
const DefaultAPIBase = "https://api.telegram.org"

// Defaults for Options.
const (
	DefaultPollTimeout   = 30 * time.Second
	DefaultPendingWindow = 10 * time.Minute
)

// Options configures a Client.
type Options struct {
	// APIBase is the bot endpoint including the token, e.g.
	// "https://api.telegram.org/bot<token>".
	APIBase     string
	PollTimeout time.Duration
	// PendingWindow drops messages older than this at startup.
	PendingWindow time.Duration
	// RetryDelay is waited after a failed poll.
	RetryDelay time.Duration
	// FailureThreshold consecutive poll failures pause polling for
	// FailureCooldown.
	FailureThreshold int
	FailureCooldown  time.Duration
}

// Client is a Telegram Bot API commander.
type Client struct {
	apiBase       string
	httpClient    *http.Client
	pollTimeout   time.Duration
	pendingWindow time.Duration
	retryDelay    time.Duration
	circuit       *control.CircuitBreaker

	mu       sync.RWMutex
	identity commander.Identity
	titles   map[string]string
}

// NewClient creates a Telegram client.
func NewClient(opts Options) *Client {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.PendingWindow <= 0 {
		opts.PendingWindow = DefaultPendingWindow
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Client{
		apiBase: strings.TrimSuffix(opts.APIBase, "/"),
		httpClient: &http.Client{
			Timeout: opts.PollTimeout + 20*time.Second,
		},
		pollTimeout:   opts.PollTimeout,
		pendingWindow: opts.PendingWindow,
		retryDelay:    opts.RetryDelay,
		circuit:       control.NewCircuitBreaker(opts.FailureThreshold, opts.FailureCooldown),
		titles:        make(map[string]string),
	}
}

// APIBaseForToken joins a host and a bot token.
func APIBaseForToken(host, token string) string {
	if host == "" {
		host = DefaultAPIBase
	}
	return strings.TrimSuffix(host, "/") + "/bot" + token
}

// response is the generic Telegram API response wrapper.
type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message,omitempty"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type tgChat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Username string `json:"username"`
}

type tgEntity struct {
	Type string  `json:"type"`
	User *tgUser `json:"user,omitempty"`
}

type tgMessage struct {
	MessageID int64      `json:"message_id"`
	From      *tgUser    `json:"from,omitempty"`
	Chat      tgChat     `json:"chat"`
	Date      int64      `json:"date"`
	Text      string     `json:"text"`
	Entities  []tgEntity `json:"entities,omitempty"`
	ReplyTo   *tgMessage `json:"reply_to_message,omitempty"`
}

type tgChatMember struct {
	Status             string `json:"status"`
	CanRestrictMembers bool   `json:"can_restrict_members"`
}

// call posts payload to method and decodes result into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", method)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "create %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "telegram %s request failed", method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s response", method)
	}
	var tgResp response
	if err := json.Unmarshal(raw, &tgResp); err != nil {
		return errors.Wrapf(err, "parse %s response", method)
	}
	if !tgResp.OK {
		return errors.Errorf("telegram %s failed: %d %s", method, tgResp.ErrorCode, tgResp.Description)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(tgResp.Result, out), "parse %s result", method)
}

// getUpdates long-polls for updates starting at offset.
func (c *Client) getUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tgUpdate, error) {
	var updates []tgUpdate
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// Identity implements commander.Commander.
func (c *Client) Identity() commander.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Connect resolves the bot account with getMe.
func (c *Client) Connect(ctx context.Context) error {
	var me tgUser
	if err := c.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return errors.Wrap(err, "telegram auth")
	}
	c.mu.Lock()
	c.identity = commander.Identity{
		ID:       strconv.FormatInt(me.ID, 10),
		Username: me.Username,
		Mentions: []string{"@" + me.Username},
	}
	c.mu.Unlock()
	log.Info().Str("platform", "telegram").Str("bot", me.Username).Int64("bot_id", me.ID).Msg("bot online")
	return nil
}

// Listen implements commander.Commander. It connects first when Connect has
// not been called.
func (c *Client) Listen(ctx context.Context, handle commander.Handler) error {
	if c.Identity().ID == "" {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	cutoff := time.Now().Add(-c.pendingWindow).Unix()
	var offset int64
	for ctx.Err() == nil {
		if wait := c.circuit.Wait(time.Now()); wait > 0 {
			pause(ctx, wait)
			continue
		}
		updates, err := c.getUpdates(ctx, offset, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("getUpdates failed")
			if c.circuit.RecordFailure(err, time.Now()) {
				log.Error().Int("threshold", c.circuit.Threshold).Dur("cooldown", c.circuit.Cooldown).Msg("telegram polling paused")
			}
			pause(ctx, c.retryDelay)
			continue
		}
		if c.circuit.RecordSuccess() {
			log.Info().Msg("telegram polling recovered")
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			if u.Message.Date < cutoff {
				log.Debug().Int64("update_id", u.UpdateID).Msg("dropping stale update")
				continue
			}
			handle(ctx, c.convert(u.Message))
		}
	}
	return ctx.Err()
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Client) convert(m *tgMessage) commander.Message {
	me := c.Identity()
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	if m.Chat.Title != "" {
		c.mu.Lock()
		c.titles[chatID] = m.Chat.Title
		c.mu.Unlock()
	}

	msg := commander.Message{
		ID:        strconv.FormatInt(m.MessageID, 10),
		ChannelID: chatID,
		Text:      m.Text,
	}
	if m.From != nil {
		msg.AuthorID = strconv.FormatInt(m.From.ID, 10)
		msg.AuthorName = m.From.Username
		msg.AuthorIsBot = m.From.IsBot
	}
	// Every message in a private chat is addressed to the bot.
	msg.MentionsBot = m.Chat.Type == "private" || mentions(m, me)
	if m.ReplyTo != nil && m.ReplyTo.From != nil {
		msg.RepliesToBot = strconv.FormatInt(m.ReplyTo.From.ID, 10) == me.ID
	}
	return msg
}

func mentions(m *tgMessage, me commander.Identity) bool {
	for _, e := range m.Entities {
		if e.Type == "text_mention" && e.User != nil && strconv.FormatInt(e.User.ID, 10) == me.ID {
			return true
		}
	}
	if me.Username == "" {
		return false
	}
	return strings.Contains(strings.ToLower(m.Text), "@"+strings.ToLower(me.Username))
}

// Reply implements commander.Commander.
func (c *Client) Reply(ctx context.Context, msg commander.Message, text string) error {
	payload := map[string]any{
		"chat_id": msg.ChannelID,
		"text":    model.Truncate(text, MaxMessageChars),
	}
	if id, err := strconv.ParseInt(msg.ID, 10, 64); err == nil {
		payload["reply_to_message_id"] = id
		payload["allow_sending_without_reply"] = true
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// Typing implements commander.Commander.
func (c *Client) Typing(ctx context.Context, channelID string) error {
	return c.call(ctx, "sendChatAction", map[string]any{"chat_id": channelID, "action": "typing"}, nil)
}

// SetSendPermission implements commander.Commander.
// The chat's current permissions are read first because setChatPermissions
// treats omitted fields as false.
func (c *Client) SetSendPermission(ctx context.Context, channelID string, allowed bool) error {
	var chat struct {
		Permissions map[string]any `json:"permissions"`
	}
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": channelID}, &chat); err != nil {
		return err
	}
	perms := chat.Permissions
	if perms == nil {
		perms = map[string]any{}
	}
	perms["can_send_messages"] = allowed
	return c.call(ctx, "setChatPermissions", map[string]any{
		"chat_id":                          channelID,
		"permissions":                      perms,
		"use_independent_chat_permissions": true,
	}, nil)
}

// CanManageChannels implements commander.Commander. Chat creators and
// administrators that may restrict members qualify.
func (c *Client) CanManageChannels(ctx context.Context, msg commander.Message) (bool, error) {
	var member tgChatMember
	if err := c.call(ctx, "getChatMember", map[string]any{"chat_id": msg.ChannelID, "user_id": msg.AuthorID}, &member); err != nil {
		return false, err
	}
	switch member.Status {
	case "creator":
		return true, nil
	case "administrator":
		return member.CanRestrictMembers, nil
	default:
		return false, nil
	}
}

// ResolveChannel accepts a numeric chat id or a public @username.
func (c *Client) ResolveChannel(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if _, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return arg, true
	}
	if name, ok := strings.CutPrefix(arg, "@"); ok && validUsername(name) {
		return arg, true
	}
	return "", false
}

func validUsername(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r != '_' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// ChannelLabel returns the chat title when it has been seen.
func (c *Client) ChannelLabel(channelID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if title, ok := c.titles[channelID]; ok {
		return strconv.Quote(title)
	}
	return channelID
}

var _ commander.Commander = (*Client)(nil)
