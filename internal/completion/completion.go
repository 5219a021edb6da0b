// Package completion runs one user exchange against the model: read the
// user's window, assemble the prompt, make a single provider call and record
// the exchange on success.
package completion

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/stupiduntilnot/zyro/internal/history"
	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

// DefaultPersona is the fixed system message.
const DefaultPersona = "You are Zyro, a fun and upbeat Discord assistant! 🎉 Keep your answers short and friendly."

// Reply is a successful exchange.
type Reply struct {
	Text         string
	HistoryLen   int
	PromptTokens int
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Client completes user input with their history as context.
type Client struct {
	provider  model.Provider
	store     *history.Store
	assembler prompt.Assembler
	persona   string
}

// New returns a Client. An empty persona selects DefaultPersona.
func New(provider model.Provider, store *history.Store, persona string) *Client {
	if persona == "" {
		persona = DefaultPersona
	}
	return &Client{
		provider:  provider,
		store:     store,
		assembler: &prompt.StandardAssembler{},
		persona:   persona,
	}
}

// Complete makes exactly one provider call for input.
//
// Provider failures are returned as *model.Failure and leave history
// untouched. When the model answered but the exchange could not be persisted
// the Reply is returned together with an error matching history.ErrStorage.
func (c *Client) Complete(ctx context.Context, userID, input string) (Reply, error) {
	past := c.store.Get(userID)
	messages := c.assembler.Assemble(c.persona, past, input)
	reply := Reply{HistoryLen: len(past), PromptTokens: prompt.CountTokens(messages)}

	start := time.Now()
	resp, err := c.provider.ChatCompletion(ctx, messages)
	reply.Latency = time.Since(start)
	if err != nil {
		return Reply{}, model.AsFailure(err)
	}

	reply.Text = resp.Content
	reply.InputTokens = resp.InputTokens
	reply.OutputTokens = resp.OutputTokens

	if err := c.store.AppendExchange(ctx, userID, input, resp.Content); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("exchange not persisted")
		return reply, errors.Wrap(err, "record exchange")
	}
	return reply, nil
}
