package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"chatsync/internal/content"
	"chatsync/internal/models"
)

// View returns a snapshot of the current state.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// Combined returns the history of the selected conversation followed by
// live messages not already in it. Every id appears once.
func (r *Reconciler) Combined() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.combinedLocked()
}

func (r *Reconciler) viewLocked() View {
	return View{
		SelectedID:    r.selectedID,
		SelectedRole:  r.selectedRole,
		Messages:      slices.Clone(r.live),
		Combined:      r.combinedLocked(),
		HistoryLoaded: r.historyLoaded,
		Offline:       r.offline,
		SavedAt:       r.savedAt,
		Typing:        r.typing.Active(),
		LiveUnread:    r.unread.Snapshot(),
		Connected:     r.connected,
		LastError:     r.lastError,
	}
}

func (r *Reconciler) combinedLocked() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(r.historyMsgs)+len(r.live))
	out = append(out, r.historyMsgs...)
	for _, m := range r.live {
		if _, ok := r.historyIDs[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SendMessage emits a chat message. Nothing is inserted locally: the
// message shows up when the server echoes it back.
func (r *Reconciler) SendMessage(toID string, toRole models.Role, text string) error {
	if toID == "" {
		return ErrNoRecipient
	}
	if err := content.ValidateMessage(text); err != nil {
		return err
	}
	return r.emitter.Emit(models.EventSendMessage, models.SendMessagePayload{
		ToID:    toID,
		ToRole:  toRole,
		Message: text,
	})
}

// SendTyping emits a typing signal. Every call emits; throttling is left
// to the caller.
func (r *Reconciler) SendTyping(toID string, toRole models.Role) error {
	if toID == "" {
		return ErrNoRecipient
	}
	return r.emitter.Emit(models.EventTyping, models.TypingPayload{
		FromID: r.cfg.LocalID,
		ToID:   toID,
		ToRole: toRole,
	})
}

func (r *Reconciler) SendReadReceipt(senderID, receiverID string, toRole models.Role) error {
	if senderID == "" {
		return ErrNoRecipient
	}
	return r.emitter.Emit(models.EventReadMessage, models.ReadMessagePayload{
		SenderID:   senderID,
		ReceiverID: receiverID,
		ToRole:     toRole,
	})
}

// emit is used from inside Dispatch where failures are only logged.
func (r *Reconciler) emit(event models.EventName, payload any) {
	if err := r.emitter.Emit(event, payload); err != nil {
		slog.Warn("failed to emit event", "event", event, "error", err)
	}
}

// History returns the history of id without selecting it: no read
// receipt is sent and the view is left alone.
func (r *Reconciler) History(ctx context.Context, id string) ([]models.ChatMessage, error) {
	msgs, err := r.history.Get(ctx, id, func(ctx context.Context) ([]models.ChatMessage, error) {
		return r.backend.History(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return normalize(msgs), nil
}

// Inbox returns the chatted counterparts matching search. Unread counts
// are the server count plus live increments, and 0 for the selected
// counterpart.
func (r *Reconciler) Inbox(ctx context.Context, search string) ([]models.Counterpart, error) {
	list, err := r.counterparts.Get(ctx, search, func(ctx context.Context) ([]models.Counterpart, error) {
		r.mu.Lock()
		gen := r.inboxGen
		r.mu.Unlock()

		list, err := r.backend.Counterparts(ctx, search)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(list))
		for _, c := range list {
			ids = append(ids, c.ID)
		}
		r.Dispatch(CounterpartsLoaded{IDs: ids, Generation: gen})
		return list, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load counterparts: %w", err)
	}

	r.mu.Lock()
	live := r.unread.Snapshot()
	selected := r.selectedID
	r.mu.Unlock()

	out := slices.Clone(list)
	for i := range out {
		if out[i].ID == selected {
			out[i].UnreadCount = 0
			continue
		}
		out[i].UnreadCount += live[out[i].ID]
	}
	return out, nil
}

// LiveUnread returns the live unread increments per counterpart.
func (r *Reconciler) LiveUnread() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread.Snapshot()
}

// UnreadTotal returns the server's aggregate unread count.
func (r *Reconciler) UnreadTotal(ctx context.Context) (int, error) {
	n, err := r.unreadTotal.Get(ctx, unreadTotalKey, r.backend.UnreadCount)
	if err != nil {
		return 0, fmt.Errorf("failed to load unread count: %w", err)
	}
	return n, nil
}

func (r *Reconciler) ClearUnreadTotal(ctx context.Context) error {
	if err := r.backend.ClearUnreadCount(ctx); err != nil {
		return fmt.Errorf("failed to clear unread count: %w", err)
	}
	r.unreadTotal.Invalidate(unreadTotalKey)
	return nil
}
