package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleCompressor_Truncate(t *testing.T) {
	c := &SimpleCompressor{MaxMessages: 2}
	msgs := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleUser, Content: "c"},
	}
	result := c.Compress(msgs)
	require.Len(t, result, 2)
	assert.Equal(t, "b", result[0].Content)
	assert.Equal(t, "c", result[1].Content)
}

func TestSimpleCompressor_ResultDoesNotAliasInput(t *testing.T) {
	c := &SimpleCompressor{MaxMessages: 1}
	msgs := []Message{{Content: "a"}, {Content: "b"}}
	result := c.Compress(msgs)
	result[0].Content = "changed"
	assert.Equal(t, "b", msgs[1].Content)
}

func TestSimpleCompressor_NoTruncation(t *testing.T) {
	c := &SimpleCompressor{MaxMessages: 5}
	msgs := []Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "b"},
	}
	assert.Len(t, c.Compress(msgs), 2)
}

func TestSimpleCompressor_EmptyInput(t *testing.T) {
	c := &SimpleCompressor{MaxMessages: 3}
	assert.Empty(t, c.Compress(nil))
}

func TestSimpleCompressor_ZeroMax(t *testing.T) {
	c := &SimpleCompressor{MaxMessages: 0}
	msgs := []Message{{Role: RoleUser, Content: "a"}}
	assert.Len(t, c.Compress(msgs), 1, "no truncation with 0 max")
}
