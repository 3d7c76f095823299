package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatEntry represents one rendered unit of a conversation. The pair of Role and Kind tags the entry, and
// determines how Content and Caption should be interpreted by a presentation layer.
type ChatEntry struct {
	ID   string
	Role Role
	Kind Kind

	// Content is the human-readable text for KindText and KindPending entries. For KindChart entries it
	// holds the serialized chart specification, passed through untouched to the renderer.
	Content string
	// Caption would be filled if Kind is KindChart.
	Caption string

	Timestamp time.Time
}

// Role represents the side of the conversation an entry belongs to.
type Role string

// Kind represents the type of content an entry carries.
type Kind string

// State represents the request lifecycle of a conversation.
type State int

const (
	// RoleUser represents an entry typed by the user. Entries with this role are always KindText.
	RoleUser Role = "user"
	// RoleBot represents an entry produced by the analysis service or by the client on its behalf.
	RoleBot Role = "bot"

	// KindText represents plain text content.
	KindText Kind = "text"
	// KindChart represents a chart specification with an optional caption.
	KindChart Kind = "chart"
	// KindPending represents the placeholder shown while a request is in flight.
	KindPending Kind = "pending"
)

const (
	// StateIdle means no query request is outstanding.
	StateIdle State = iota
	// StateAwaitingResponse means exactly one query request is outstanding.
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of a conversation's state, handed to presentation layers.
type Snapshot struct {
	Input   string
	History []ChatEntry
	State   State
	// Version grows with every mutation of the conversation, a snapshot with a lower version is stale.
	Version uint64
}

// AwaitingResponse reports whether a query request is outstanding.
func (s Snapshot) AwaitingResponse() bool {
	return s.State == StateAwaitingResponse
}

func newEntry(role Role, kind Kind, content string) ChatEntry {
	return ChatEntry{
		ID:        uuid.New().String(),
		Role:      role,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// UserText creates a user entry with the given text.
func UserText(text string) ChatEntry {
	return newEntry(RoleUser, KindText, text)
}

// BotText creates a bot entry with the given text.
func BotText(text string) ChatEntry {
	return newEntry(RoleBot, KindText, text)
}

// BotChart creates a bot entry carrying a serialized chart specification and its caption. The caller is
// responsible for validating the specification.
func BotChart(spec, caption string) ChatEntry {
	e := newEntry(RoleBot, KindChart, spec)
	e.Caption = caption
	return e
}

// BotPending creates the placeholder entry for an in-flight request.
func BotPending(text string) ChatEntry {
	return newEntry(RoleBot, KindPending, text)
}
