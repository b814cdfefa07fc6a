package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids of optimistic messages that were never committed.
const TempIDPrefix = "temp-"

// Message is a committed conversation message.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	IsUser         bool           `json:"isUser"`
	CreatedAt      time.Time      `json:"createdAt"`
	Action         string         `json:"action,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AttachmentRefs []string       `json:"attachmentRefs,omitempty"`
}

// Draft is what a caller submits to Append. The store assigns ID and CreatedAt.
type Draft struct {
	ConversationID string
	Content        string
	IsUser         bool
	Action         string
	Metadata       map[string]any
	AttachmentRefs []string
}

// Temporary reports whether the message is an uncommitted optimistic copy.
func (m Message) Temporary() bool {
	return IsTemporaryID(m.ID)
}

// IsTemporaryID reports whether id was produced by NewTempID.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewTempID returns an id that can never collide with a server-assigned one.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func newID() string {
	return uuid.NewString()
}

func (d Draft) message(id string, createdAt time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: d.ConversationID,
		Content:        d.Content,
		IsUser:         d.IsUser,
		CreatedAt:      createdAt,
		Action:         d.Action,
		Metadata:       d.Metadata,
		AttachmentRefs: d.AttachmentRefs,
	}
}
