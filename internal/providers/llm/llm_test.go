package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yoockh/jobdance/internal/models"
)

func msg(role models.MessageRole, text string) models.Message {
	return models.Message{Role: role, Content: text}
}

func TestTurnsOpeningRequest(t *testing.T) {
	got := Turns(nil)
	assert.Equal(t, []Turn{{Text: kickoffTurn}}, got)
}

func TestTurnsPrependsKickoffAndEndsOnUser(t *testing.T) {
	got := Turns([]models.Message{
		msg(models.MessageRoleAssistant, "Tell me about yourself."),
		msg(models.MessageRoleUser, "I am a backend engineer."),
	})
	assert.Equal(t, []Turn{
		{Text: kickoffTurn},
		{Model: true, Text: "Tell me about yourself."},
		{Text: "I am a backend engineer."},
	}, got)
}

func TestTurnsMergesSameSide(t *testing.T) {
	got := Turns([]models.Message{
		msg(models.MessageRoleAssistant, "Q1"),
		msg(models.MessageRoleUser, "A1"),
		msg(models.MessageRoleUser, "Please close the interview."),
	})
	assert.Len(t, got, 3)
	assert.Equal(t, "A1\n\nPlease close the interview.", got[2].Text)
	assert.False(t, got[2].Model)
}

func TestTurnsAppendsContinueAfterAssistant(t *testing.T) {
	got := Turns([]models.Message{
		msg(models.MessageRoleAssistant, "Q1"),
		msg(models.MessageRoleUser, "   "),
	})
	assert.Equal(t, Turn{Text: "Continue."}, got[len(got)-1])
}
