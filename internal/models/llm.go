package models

import "encoding/json"

// LLMMessage is a single message sent to a language model.
type LLMMessage struct {
	Role    string
	Content string
}

// Tool describes a function a language model may choose to call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Routing is the decision of a language model about a prompt. Tool is empty when the model answered
// directly, in which case Text holds the answer.
type Routing struct {
	Tool string
	Text string
}

const (
	// LLMRoleSystem is the role of a system prompt.
	LLMRoleSystem = "system"
	// LLMRoleUser is the role of a user prompt.
	LLMRoleUser = "user"
)
