package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardAssembler_Assemble(t *testing.T) {
	a := &StandardAssembler{}
	history := []Message{
		{Role: RoleUser, Content: "prev question"},
		{Role: RoleAssistant, Content: "prev answer"},
	}
	result := a.Assemble("You are Zyro.", history, "new question")

	require.Len(t, result, 4)
	assert.Equal(t, Message{Role: RoleSystem, Content: "You are Zyro."}, result[0])
	assert.Equal(t, history[0], result[1])
	assert.Equal(t, history[1], result[2])
	assert.Equal(t, Message{Role: RoleUser, Content: "new question"}, result[3])
}

func TestStandardAssembler_EmptyHistory(t *testing.T) {
	a := &StandardAssembler{}
	result := a.Assemble("system", nil, "hello")

	require.Len(t, result, 2)
	assert.Equal(t, RoleSystem, result[0].Role)
	assert.Equal(t, Message{Role: RoleUser, Content: "hello"}, result[1])
}

func TestStandardAssembler_DoesNotMutateHistory(t *testing.T) {
	a := &StandardAssembler{}
	history := make([]Message, 1, 4)
	history[0] = Message{Role: RoleUser, Content: "a"}
	_ = a.Assemble("system", history, "b")

	require.Len(t, history, 1)
	assert.Equal(t, "a", history[0].Content)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleSystem))
	assert.True(t, ValidRole(RoleUser))
	assert.True(t, ValidRole(RoleAssistant))
	assert.False(t, ValidRole("tool"))
	assert.False(t, ValidRole(""))
}
