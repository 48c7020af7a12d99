package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/telemetry"
	"eventsnap/pkg/tree"
	"eventsnap/pkg/validation"
)

// Payload is the caller-supplied part of a message. Callers render
// optimistic UI from the same payload before the id arrives, then
// reconcile against the authoritative record.
type Payload struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"type"`
}

// SubscribeOptions tunes a message subscription.
type SubscribeOptions struct {
	// Limit bounds the snapshot to the most recent N messages; the
	// service default applies when zero.
	Limit int
}

// Send validates the payload, appends the message with status sending,
// flips it to sent, and fans the conversation metadata out: last-message
// summary, recipient unread counter and both per-user index entries in a
// single atomic write. The sender's typing flag is cleared in the same
// write — sending a message implies they stopped typing.
func (s *Service) Send(ctx context.Context, cid, sender string, p Payload) (string, error) {
	if p.Type == "" {
		p.Type = models.TypeText
	}
	if sender == "" {
		return "", validationErr(errors.New("sender id is required"))
	}
	if err := validation.CheckContent(p.Type, p.Content, s.opt.Limits); err != nil {
		return "", validationErr(err)
	}

	conv, err := s.loadConversation(ctx, cid)
	if errors.Is(err, ErrNotFound) {
		// lazy creation on first message, when the deterministic id
		// identifies both participants unambiguously
		a, b, ok := splitConversationID(cid)
		if !ok || (sender != a && sender != b) {
			return "", err
		}
		if _, cerr := s.CreateOrGet(ctx, a, b); cerr != nil {
			return "", cerr
		}
		if conv, err = s.loadConversation(ctx, cid); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	if !conv.HasParticipant(sender) {
		return "", fmt.Errorf("%w: %s is not a participant of %s", ErrPermission, sender, cid)
	}
	recipient := conv.Other(sender)

	ts := s.t.Now()
	mid := messageID(ts, atomic.AddUint64(&s.seq, 1))
	msg := models.Message{
		ID:           mid,
		Conversation: cid,
		Sender:       sender,
		Recipient:    recipient,
		Content:      p.Content,
		Type:         p.Type,
		TS:           ts,
		Status:       models.StatusSending,
	}
	// optimistic append; visible to subscribers as "sending"
	if err := s.t.Put(ctx, messagePath(cid, mid), msg); err != nil {
		return "", wrapTree("append message "+mid, err)
	}

	// flip to sent and fan out in one atomic write
	msg.Status = models.StatusSent
	conv.LastMessage = &models.LastMessage{
		ID:      mid,
		Type:    msg.Type,
		Content: displayContent(msg),
		Sender:  sender,
		TS:      ts,
	}
	conv.LastMessageTS = ts
	conv.UpdatedTS = ts
	s.incrementUnread(&conv, recipient)

	ref := models.UserChatRef{LastMessageTS: ts, LastMessageID: mid}
	err = s.t.Update(ctx, map[string]any{
		messagePath(cid, mid):        msg,
		metaPath(cid):                conv,
		userChatPath(sender, cid):    ref,
		userChatPath(recipient, cid): ref,
		typingPath(cid, sender):      nil,
	})
	if err != nil {
		return "", wrapTree("fan out message "+mid, err)
	}
	s.dropTypingTimer(cid, sender)

	telemetry.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
	logger.Info("message_sent", "conversation", cid, "id", mid, "type", msg.Type)
	return mid, nil
}

// ListMessages returns up to limit most recent messages, sorted
// ascending by server timestamp for display.
func (s *Service) ListMessages(ctx context.Context, cid string, limit int) ([]models.Message, error) {
	kids, err := s.t.Children(ctx, messagesPath(cid))
	if err != nil {
		return nil, wrapTree("list messages in "+cid, err)
	}
	return collectMessages(kids, s.pageLimit(limit)), nil
}

// GetMessage returns one message by id.
func (s *Service) GetMessage(ctx context.Context, cid, mid string) (models.Message, error) {
	return s.loadMessage(ctx, cid, mid)
}

// SubscribeMessages watches the conversation's message log. The entire
// current page is re-delivered on every change — the underlying store is
// snapshot-based, not diff-based — sorted ascending by server timestamp
// regardless of write order. Transport errors go to errfn; the watch is
// not retried, callers re-subscribe.
func (s *Service) SubscribeMessages(cid string, opts SubscribeOptions, fn func([]models.Message), errfn func(error)) (tree.CancelFunc, error) {
	limit := s.pageLimit(opts.Limit)
	cancel, err := s.t.Watch(messagesPath(cid), func(snap tree.Snapshot) {
		fn(collectMessages(snap.Children, limit))
	}, func(err error) {
		if errfn != nil {
			errfn(wrapTree("message subscription for "+cid, err))
		}
	})
	if err != nil {
		return nil, wrapTree("subscribe messages in "+cid, err)
	}
	return s.track(cancel), nil
}

// UpdateStatus applies one step of the delivery-status machine. Disallowed
// transitions are silent no-ops: concurrent senders and readers race to
// set overlapping statuses, and losing that race is not an error. Setting
// read stamps the read time and, when user is given, decrements that
// user's unread counter by one.
func (s *Service) UpdateStatus(ctx context.Context, cid, mid string, status models.Status, user string) error {
	if !models.ValidStatus(status) {
		return validationErr(fmt.Errorf("unknown status %q", status))
	}
	msg, err := s.loadMessage(ctx, cid, mid)
	if err != nil {
		return err
	}
	if !models.CanTransition(msg.Status, status) {
		telemetry.StatusNoops.Inc()
		logger.Debug("status_noop", "conversation", cid, "id", mid, "from", msg.Status, "to", status)
		return nil
	}
	msg.Status = status
	updates := map[string]any{}
	if status == models.StatusRead {
		msg.ReadTS = s.t.Now()
		if user != "" {
			conv, cerr := s.loadConversation(ctx, cid)
			if cerr != nil {
				return cerr
			}
			s.decrementUnread(&conv, user)
			updates[metaPath(cid)] = conv
		}
	}
	updates[messagePath(cid, mid)] = msg
	if err := s.t.Update(ctx, updates); err != nil {
		return wrapTree("update status of "+mid, err)
	}
	telemetry.StatusTransitions.WithLabelValues(string(status)).Inc()
	logger.Debug("status_updated", "conversation", cid, "id", mid, "to", status)
	return nil
}

// MarkManyAsRead sets every listed message to read and clobbers the
// user's unread counter to zero in one atomic write. Preferred over
// calling UpdateStatus in a loop: N relative decrements race with
// concurrent inbound sends and can under- or over-count, while the batch
// resets to an absolute zero. Unknown message ids are skipped.
func (s *Service) MarkManyAsRead(ctx context.Context, cid string, mids []string, user string) error {
	if user == "" {
		return validationErr(errors.New("user id is required"))
	}
	conv, err := s.loadConversation(ctx, cid)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(user) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrPermission, user, cid)
	}
	now := s.t.Now()
	updates := map[string]any{}
	for _, mid := range mids {
		msg, merr := s.loadMessage(ctx, cid, mid)
		if merr != nil {
			if errors.Is(merr, ErrNotFound) {
				logger.Warn("mark_read_missing_message", "conversation", cid, "id", mid)
				continue
			}
			return merr
		}
		// failed is terminal; already-read needs no second stamp
		if msg.Status == models.StatusRead || msg.Status == models.StatusFailed {
			continue
		}
		msg.Status = models.StatusRead
		msg.ReadTS = now
		updates[messagePath(cid, mid)] = msg
	}
	s.resetUnread(&conv, user)
	conv.UpdatedTS = now
	updates[metaPath(cid)] = conv
	if err := s.t.Update(ctx, updates); err != nil {
		return wrapTree("mark read in "+cid, err)
	}
	telemetry.StatusTransitions.WithLabelValues(string(models.StatusRead)).Add(float64(len(updates) - 1))
	logger.Info("messages_marked_read", "conversation", cid, "count", len(updates)-1, "user", user)
	return nil
}

// DeleteMessage soft-deletes: the content is replaced with a fixed
// placeholder and the deletion time recorded; the record itself and its
// status survive. Only the sender may delete, and a second delete is a
// no-op.
func (s *Service) DeleteMessage(ctx context.Context, cid, mid, requester string) error {
	msg, err := s.loadMessage(ctx, cid, mid)
	if err != nil {
		return err
	}
	if requester == "" || requester != msg.Sender {
		return fmt.Errorf("%w: only the sender may delete message %s", ErrPermission, mid)
	}
	if msg.Deleted() {
		return nil
	}
	msg.Content = models.DeletedPlaceholder
	msg.DeletedTS = s.t.Now()

	updates := map[string]any{messagePath(cid, mid): msg}
	// keep the denormalized summary consistent when the newest message
	// is the one deleted
	if conv, cerr := s.loadConversation(ctx, cid); cerr == nil &&
		conv.LastMessage != nil && conv.LastMessage.ID == mid {
		conv.LastMessage.Content = models.DeletedPlaceholder
		conv.UpdatedTS = msg.DeletedTS
		updates[metaPath(cid)] = conv
	}
	if err := s.t.Update(ctx, updates); err != nil {
		return wrapTree("delete message "+mid, err)
	}
	telemetry.MessagesDeleted.Inc()
	logger.Info("message_deleted", "conversation", cid, "id", mid)
	return nil
}

func (s *Service) loadMessage(ctx context.Context, cid, mid string) (models.Message, error) {
	var msg models.Message
	data, err := s.t.Get(ctx, messagePath(cid, mid))
	if err != nil {
		return msg, wrapTree("message "+mid, err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: message %s: corrupt record: %v", ErrTransport, mid, err)
	}
	return msg, nil
}

func (s *Service) pageLimit(limit int) int {
	if limit <= 0 {
		return s.opt.PageSize
	}
	return limit
}

// collectMessages decodes a children snapshot into a display-ordered
// page: ascending by server timestamp (ids break ties), trimmed to the
// most recent limit entries.
func collectMessages(kids map[string][]byte, limit int) []models.Message {
	out := make([]models.Message, 0, len(kids))
	for _, raw := range kids {
		var m models.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			logger.Warn("skipping_corrupt_message", "error", err)
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// displayContent renders the last-message summary line.
func displayContent(m models.Message) string {
	if m.Type == models.TypeImage {
		return "Photo"
	}
	return m.Content
}
