package dummy

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/zyro/internal/commander"
	"github.com/stupiduntilnot/zyro/internal/model"
	"github.com/stupiduntilnot/zyro/internal/prompt"
)

var hi = []prompt.Message{{Role: prompt.RoleUser, Content: "hi"}}

func TestNewProvider_InvalidScript(t *testing.T) {
	_, err := NewProvider("boom")
	assert.Error(t, err)
}

func TestProvider_ScriptedResponses(t *testing.T) {
	p, err := NewProvider("err:provider_api,api:503:overloaded,timeout,msg:hello")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.ChatCompletion(ctx, hi)
	assert.Equal(t, model.KindUnexpected, model.AsFailure(err).Kind)

	_, err = p.ChatCompletion(ctx, hi)
	f := model.AsFailure(err)
	assert.Equal(t, model.KindAPIError, f.Kind)
	assert.Equal(t, 503, f.Status)
	assert.Equal(t, "overloaded", f.Body)

	_, err = p.ChatCompletion(ctx, hi)
	assert.True(t, errors.Is(err, model.ErrTimeout))

	for i := 0; i < 2; i++ {
		resp, err := p.ChatCompletion(ctx, hi)
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content, "last action repeats")
	}
	assert.Equal(t, 5, p.Calls())
}

func TestProvider_EmptyScript(t *testing.T) {
	p, err := NewProvider("")
	require.NoError(t, err)
	resp, err := p.ChatCompletion(context.Background(), hi)
	require.NoError(t, err)
	assert.Equal(t, "dummy-ok", resp.Content)
	assert.Positive(t, resp.InputTokens)
}

func TestProvider_SleepHonoursContext(t *testing.T) {
	p, err := NewProvider("sleep:10000")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.ChatCompletion(ctx, hi)
	assert.True(t, errors.Is(err, model.ErrTimeout))
}

func TestCommander_ReplaysScript(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("olá, tudo bem?"))
	c, err := NewCommander("msg:hello,sleep:1,reply:more,raw:!lock,msgb64:" + b64)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var got []commander.Message
	err = c.Listen(ctx, func(_ context.Context, m commander.Message) {
		got = append(got, m)
		if len(got) == 4 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, got, 4)
	assert.True(t, got[0].MentionsBot)
	assert.Equal(t, "hello", c.Identity().StripMentions(got[0].Text))
	assert.True(t, got[1].RepliesToBot)
	assert.Equal(t, "!lock", got[2].Text)
	assert.False(t, got[2].MentionsBot)
	assert.Equal(t, "olá, tudo bem?", c.Identity().StripMentions(got[3].Text))
	assert.Equal(t, UserID, got[0].AuthorID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestCommander_ErrorAction(t *testing.T) {
	c, err := NewCommander("err")
	require.NoError(t, err)
	err = c.Listen(context.Background(), func(context.Context, commander.Message) {})
	assert.ErrorContains(t, err, "command_source_api")
}

func TestCommander_RecordsSideEffects(t *testing.T) {
	c, err := NewCommander("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Reply(ctx, commander.Message{ID: "7"}, "hi"))
	require.NoError(t, c.SetSendPermission(ctx, "general", false))
	assert.Equal(t, []Sent{{ReplyTo: "7", Text: "hi"}}, c.Sent())
	assert.True(t, c.Locked("general"))

	id, ok := c.ResolveChannel("#general")
	assert.True(t, ok)
	assert.Equal(t, "general", id)
	assert.Equal(t, "#general", c.ChannelLabel(id))

	c.SetCanManage(false)
	allowed, err := c.CanManageChannels(ctx, commander.Message{})
	require.NoError(t, err)
	assert.False(t, allowed)
}
