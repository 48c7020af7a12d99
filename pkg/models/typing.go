package models

// TypingStatus is an ephemeral per-(conversation, user) flag. Nodes are
// deleted when typing stops or expires, never flagged false in place.
type TypingStatus struct {
	User   string `json:"user"`
	Typing bool   `json:"typing"`
	TS     int64  `json:"ts"`
}
