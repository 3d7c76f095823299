package services

import (
	"slices"

	"github.com/MegaGrindStone/datachat/internal/models"
)

// LLMParameters holds the optional sampling parameters shared by the LLM providers. Nil fields keep the
// provider's default.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	Seed        *int     `yaml:"seed"`
	MaxTokens   *int     `yaml:"maxTokens"`
}

const errLoggerKey = "err"

func withSystemPrompt(systemPrompt string, messages []models.LLMMessage) []models.LLMMessage {
	if systemPrompt == "" {
		return messages
	}
	return slices.Insert(slices.Clone(messages), 0, models.LLMMessage{
		Role:    models.LLMRoleSystem,
		Content: systemPrompt,
	})
}
