package models

// MessageType discriminates message payloads.
type MessageType string

const (
	TypeText   MessageType = "text"
	TypeImage  MessageType = "image"
	TypeSystem MessageType = "system"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Sender       string      `json:"sender"`
	Recipient    string      `json:"recipient"`
	// Content is the message text, or a reference URL for image messages.
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	// TS is the server-assigned creation timestamp (ns); authoritative
	// ordering key.
	TS     int64  `json:"ts"`
	Status Status `json:"status"`
	// ReadTS is set only when the status becomes read (ns).
	ReadTS int64 `json:"read_ts,omitempty"`
	// DeletedTS marks a soft-deleted message; content holds the fixed
	// placeholder from then on.
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}

// Deleted reports whether the message carries a soft-delete tombstone.
func (m Message) Deleted() bool { return m.DeletedTS != 0 }
