package chat

import (
	"fmt"
	"sort"
	"strings"

	"eventsnap/pkg/tree"
)

// Tree layout:
//
//	chats/{conversation}/meta              conversation record
//	chats/{conversation}/messages/{id}     message records
//	chats/{conversation}/typing/{user}     ephemeral typing flags
//	userChats/{user}/{conversation}        per-user index for list screens
const (
	chatsRoot     = "chats"
	userChatsRoot = "userChats"
)

// ConversationID derives the deterministic id for a pair of users: both
// ids sorted and joined, so either side resolves the same conversation.
func ConversationID(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids[0] + "_" + ids[1]
}

// splitConversationID recovers the two participants from a deterministic
// id. Only ids whose participants contain no underscore round-trip; the
// bool reports whether the split is unambiguous.
func splitConversationID(id string) (string, string, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func metaPath(cid string) string { return tree.Join(chatsRoot, cid, "meta") }

func messagesPath(cid string) string { return tree.Join(chatsRoot, cid, "messages") }

func messagePath(cid, mid string) string { return tree.Join(chatsRoot, cid, "messages", mid) }

func typingRootPath(cid string) string { return tree.Join(chatsRoot, cid, "typing") }

func typingPath(cid, user string) string { return tree.Join(chatsRoot, cid, "typing", user) }

func userChatsPath(user string) string { return tree.Join(userChatsRoot, user) }

func userChatPath(user, cid string) string { return tree.Join(userChatsRoot, user, cid) }

// messageID builds a sortable id from the server timestamp and a process
// sequence counter, so ids order by creation even when two messages share
// a nanosecond.
func messageID(ts int64, seq uint64) string {
	return fmt.Sprintf("%020d-%06d", ts, seq)
}
