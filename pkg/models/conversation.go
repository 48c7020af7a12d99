package models

// LastMessage is a denormalized summary of the newest message in a
// conversation. It is a cache for list screens, not a source of truth,
// and may briefly lag the message log.
type LastMessage struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	Sender  string      `json:"sender"`
	TS      int64       `json:"ts"`
}

type Conversation struct {
	// ID is deterministic: the two participant ids sorted and joined, so
	// both sides resolve the same conversation regardless of who starts it.
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Type         string   `json:"type"` // "direct"
	// UnreadCount maps participant id -> number of unread inbound messages.
	UnreadCount map[string]int `json:"unread_count"`
	// Archived and Muted are per-participant preferences, never removal.
	Archived map[string]bool `json:"archived,omitempty"`
	Muted    map[string]bool `json:"muted,omitempty"`

	LastMessage   *LastMessage `json:"last_message,omitempty"`
	LastMessageTS int64        `json:"last_message_ts,omitempty"`
	CreatedTS     int64        `json:"created_ts,omitempty"`
	UpdatedTS     int64        `json:"updated_ts,omitempty"`
}

// HasParticipant reports whether user is one of the two participants.
func (c Conversation) HasParticipant(user string) bool {
	for _, p := range c.Participants {
		if p == user {
			return true
		}
	}
	return false
}

// Other returns the participant that is not user. Empty when user is not
// a participant.
func (c Conversation) Other(user string) string {
	for _, p := range c.Participants {
		if p != user {
			return p
		}
	}
	return ""
}

// UserChatRef is the per-user secondary index entry kept under
// userChats/{user}/{conversation} so list-screen listeners subscribe to a
// narrow path instead of scanning all conversations.
type UserChatRef struct {
	LastMessageTS int64  `json:"last_message_ts"`
	LastMessageID string `json:"last_message_id,omitempty"`
}
