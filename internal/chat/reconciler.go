package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/content"
	"chatsync/internal/models"
	"chatsync/internal/notify"
	"chatsync/internal/observability"
	"chatsync/internal/presence"
)

var (
	ErrEmptyMessage = content.ErrEmptyMessage
	ErrNoRecipient  = errors.New("recipient is required")
)

const unreadTotalKey = "total"

// Emitter sends one socket event. It must not block.
type Emitter interface {
	Emit(event models.EventName, payload any) error
}

// Backend is the REST side of the chat server.
type Backend interface {
	History(ctx context.Context, counterpartID string) ([]models.ChatMessage, error)
	Counterparts(ctx context.Context, search string) ([]models.Counterpart, error)
	UnreadCount(ctx context.Context) (int, error)
	ClearUnreadCount(ctx context.Context) error
}

// SnapshotStore keeps the last loaded history per counterpart.
type SnapshotStore interface {
	SaveHistory(counterpartID string, messages []models.ChatMessage) error
	LoadHistory(counterpartID string) ([]models.ChatMessage, time.Time, error)
}

type Config struct {
	LocalID     string
	TypingDecay time.Duration
	CacheTTL    time.Duration
}

// View is a snapshot of the reconciler state for rendering.
type View struct {
	SelectedID    string
	SelectedRole  models.Role
	Messages      []models.ChatMessage // live buffer
	Combined      []models.ChatMessage
	HistoryLoaded bool
	Offline       bool      // history comes from the local snapshot
	SavedAt       time.Time // when that snapshot was saved, if Offline
	Typing        bool
	LiveUnread    map[string]int
	Connected     bool
	LastError     string
}

// Reconciler merges fetched history with the live event stream of one
// session into a single ordered, deduplicated view of the selected
// conversation, and tracks unread counts and typing for the session.
//
// All state is guarded by mu and changed only inside Dispatch.
type Reconciler struct {
	cfg      Config
	ctx      context.Context
	emitter  Emitter
	backend  Backend
	store    SnapshotStore
	notifier notify.Notifier

	history      *cache.Query[[]models.ChatMessage]
	counterparts *cache.Query[[]models.Counterpart]
	unreadTotal  *cache.Query[int]

	mu            sync.Mutex
	selectedID    string
	selectedRole  models.Role
	generation    uint64
	inboxGen      uint64
	historyMsgs   []models.ChatMessage
	historyIDs    map[string]struct{}
	historyLoaded bool
	offline       bool
	savedAt       time.Time
	live          []models.ChatMessage
	liveIDs       map[string]struct{}
	unread        *presence.Unread
	typing        *presence.TypingTracker
	connected     bool
	lastError     string
	observers     []func(View)
	pending       []View
	delivering    bool

	fetches sync.WaitGroup
}

// NewReconciler returns a reconciler bound to ctx: background fetches and
// cache cleanup stop when ctx is done. store may be nil.
func NewReconciler(ctx context.Context, cfg Config, emitter Emitter, backend Backend, store SnapshotStore, notifier notify.Notifier) *Reconciler {
	if notifier == nil {
		notifier = notify.Discard
	}
	r := &Reconciler{
		cfg:          cfg,
		ctx:          ctx,
		emitter:      emitter,
		backend:      backend,
		store:        store,
		notifier:     notifier,
		history:      cache.NewQuery[[]models.ChatMessage](ctx, cfg.CacheTTL),
		counterparts: cache.NewQuery[[]models.Counterpart](ctx, cfg.CacheTTL),
		unreadTotal:  cache.NewQuery[int](ctx, cfg.CacheTTL),
		historyIDs:   make(map[string]struct{}),
		liveIDs:      make(map[string]struct{}),
		unread:       presence.NewUnread(),
	}
	r.typing = presence.NewTypingTracker(cfg.TypingDecay, func(gen uint64) {
		r.Dispatch(TypingExpired{Generation: gen})
	})
	return r
}

// OnChange registers an observer called with a fresh View after every
// dispatch that changed the state. Observers run outside the state lock,
// one view at a time and in the order the changes were applied. An
// observer may call Dispatch; the resulting view is delivered after it
// returns.
func (r *Reconciler) OnChange(fn func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Select is shorthand for Dispatch(Selected{...}).
func (r *Reconciler) Select(id string, role models.Role) {
	r.Dispatch(Selected{ID: id, Role: role})
}

// Dispatch applies ev to the state. Events are applied one at a time in
// the order Dispatch is called.
func (r *Reconciler) Dispatch(ev Event) {
	r.mu.Lock()
	changed, warnings := r.apply(ev)
	if changed && len(r.observers) > 0 {
		r.pending = append(r.pending, r.viewLocked())
	}
	r.mu.Unlock()

	for _, w := range warnings {
		r.notifier.Warn(w)
	}
	r.deliver()
}

// deliver hands queued views to the observers. Only one goroutine
// delivers at a time; a caller that finds delivery in progress leaves its
// view in the queue for the active deliverer.
func (r *Reconciler) deliver() {
	r.mu.Lock()
	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true

	// A panicking observer must not leave delivery stuck.
	drained := false
	defer func() {
		if !drained {
			r.mu.Lock()
			r.delivering = false
			r.mu.Unlock()
		}
	}()

	for len(r.pending) > 0 {
		view := r.pending[0]
		r.pending = r.pending[1:]
		observers := slices.Clone(r.observers)
		r.mu.Unlock()

		for _, fn := range observers {
			fn(view)
		}
		r.mu.Lock()
	}
	r.delivering = false
	drained = true
	r.mu.Unlock()
}

// apply mutates the state for ev. It reports whether anything visible
// changed, plus user notifications to deliver after the lock is released.
func (r *Reconciler) apply(ev Event) (bool, []string) {
	switch e := ev.(type) {
	case Selected:
		return r.applySelected(e), nil
	case HistoryLoaded:
		return r.applyHistoryLoaded(e), nil
	case HistoryFailed:
		return r.applyHistoryFailed(e)
	case MessageReceived:
		return r.applyMessage(e.Message), nil
	case TypingReceived:
		if e.FromID == r.cfg.LocalID {
			return false, nil
		}
		return r.typing.Observe(e.FromID, r.selectedID), nil
	case TypingExpired:
		return r.typing.Expire(e.Generation), nil
	case ReadReceiptReceived:
		return r.applyReadReceipt(e), nil
	case CounterpartsLoaded:
		if e.Generation != r.inboxGen {
			return false, nil
		}
		changed := false
		for _, id := range e.IDs {
			if r.unread.Get(id) > 0 {
				r.unread.Clear(id)
				changed = true
			}
		}
		return changed, nil
	case ConnectionChanged:
		return r.applyConnection(e.Connected), nil
	case ConnectionError:
		slog.Warn("socket error", "message", e.Message)
		r.lastError = e.Message
		return true, nil
	default:
		slog.Error("unknown chat event", "type", fmt.Sprintf("%T", ev))
		return false, nil
	}
}

func (r *Reconciler) applySelected(e Selected) bool {
	if e.ID == r.selectedID {
		return false
	}

	r.selectedID = e.ID
	r.selectedRole = e.Role
	r.generation++
	r.historyMsgs = nil
	r.historyIDs = make(map[string]struct{})
	r.historyLoaded = false
	r.offline = false
	r.savedAt = time.Time{}
	r.live = nil
	r.liveIDs = make(map[string]struct{})
	r.typing.Reset()
	r.invalidateInbox()

	if e.ID == "" {
		return true
	}

	r.unread.Clear(e.ID)
	r.emit(models.EventReadMessage, models.ReadMessagePayload{
		SenderID:   e.ID,
		ReceiverID: r.cfg.LocalID,
		ToRole:     e.Role,
	})
	r.unreadTotal.Invalidate(unreadTotalKey)

	r.history.Invalidate(e.ID)
	r.fetchHistory(e.ID, r.generation)
	return true
}

func (r *Reconciler) applyHistoryLoaded(e HistoryLoaded) bool {
	if e.CounterpartID != r.selectedID || e.Generation != r.generation {
		slog.Debug("discarding stale history",
			"counterpart", e.CounterpartID,
			"selected", r.selectedID)
		observability.IncDropped("stale_history")
		return false
	}
	r.commitHistory(e.Messages)
	r.offline = false
	r.savedAt = time.Time{}
	return true
}

func (r *Reconciler) applyHistoryFailed(e HistoryFailed) (bool, []string) {
	if e.CounterpartID != r.selectedID || e.Generation != r.generation {
		observability.IncDropped("stale_history")
		return false, nil
	}

	slog.Error("failed to load chat history", "counterpart", e.CounterpartID, "error", e.Err)
	warning := "Failed to load chat history"
	if e.Fallback == nil {
		return false, []string{warning}
	}

	r.commitHistory(e.Fallback)
	r.offline = true
	r.savedAt = e.SavedAt
	return true, []string{warning + ", showing saved copy"}
}

// commitHistory replaces the history with msgs ordered by timestamp.
func (r *Reconciler) commitHistory(msgs []models.ChatMessage) {
	r.historyMsgs = normalize(msgs)
	r.historyIDs = make(map[string]struct{}, len(r.historyMsgs))
	for _, m := range r.historyMsgs {
		r.historyIDs[m.ID] = struct{}{}
	}
	r.historyLoaded = true
}

// normalize returns msgs sorted by timestamp keeping the first copy of
// every id.
func normalize(msgs []models.ChatMessage) []models.ChatMessage {
	sorted := slices.Clone(msgs)
	slices.SortStableFunc(sorted, func(a, b models.ChatMessage) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	seen := make(map[string]struct{}, len(sorted))
	out := make([]models.ChatMessage, 0, len(sorted))
	for _, m := range sorted {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (r *Reconciler) applyMessage(m models.ChatMessage) bool {
	if err := validateMessage(m); err != nil {
		slog.Warn("dropping malformed message", "id", m.ID, "error", err)
		observability.IncDropped("malformed_message")
		return false
	}

	own := m.FromID == r.cfg.LocalID
	counterpart := m.Counterpart(r.cfg.LocalID)

	if counterpart == r.selectedID {
		if _, ok := r.liveIDs[m.ID]; ok {
			return false
		}
		r.liveIDs[m.ID] = struct{}{}
		r.live = append(r.live, m)
		r.invalidateInbox()
		return true
	}

	r.invalidateInbox()
	if own {
		return false
	}
	r.unread.Inc(counterpart)
	r.unreadTotal.Invalidate(unreadTotalKey)
	return true
}

// invalidateInbox drops the cached counterparts lists. Lists already in
// flight are still returned to their callers but no longer reset live
// counters.
func (r *Reconciler) invalidateInbox() {
	r.inboxGen++
	r.counterparts.InvalidateAll()
}

func (r *Reconciler) applyReadReceipt(e ReadReceiptReceived) bool {
	if e.WithUserID == "" || e.WithUserID != r.selectedID {
		return false
	}

	r.unread.Clear(e.WithUserID)
	markRead(r.historyMsgs, r.cfg.LocalID, e.WithUserID)
	markRead(r.live, r.cfg.LocalID, e.WithUserID)
	r.unreadTotal.Invalidate(unreadTotalKey)
	return true
}

func markRead(msgs []models.ChatMessage, fromID, toID string) {
	for i := range msgs {
		if msgs[i].FromID == fromID && msgs[i].ToID == toID {
			msgs[i].IsRead = true
		}
	}
}

// applyConnection records the socket state. Coming back online refetches
// the selected history, since events sent while offline were missed.
func (r *Reconciler) applyConnection(connected bool) bool {
	if connected == r.connected {
		return false
	}
	r.connected = connected
	if !connected {
		return true
	}

	r.lastError = ""
	if r.selectedID != "" {
		r.generation++
		r.history.Invalidate(r.selectedID)
		r.fetchHistory(r.selectedID, r.generation)
	}
	return true
}

// fetchHistory loads the history of id in the background. The fetch is
// never cancelled by a switch; its result is checked against the
// selection when it is dispatched back.
func (r *Reconciler) fetchHistory(id string, gen uint64) {
	r.fetches.Add(1)
	go func() {
		defer r.fetches.Done()

		msgs, err := r.history.Get(r.ctx, id, func(ctx context.Context) ([]models.ChatMessage, error) {
			return r.backend.History(ctx, id)
		})
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			observability.IncHistoryFetch("error")
			fallback, savedAt := r.loadSnapshot(id)
			r.Dispatch(HistoryFailed{
				CounterpartID: id,
				Generation:    gen,
				Err:           err,
				Fallback:      fallback,
				SavedAt:       savedAt,
			})
			return
		}

		observability.IncHistoryFetch("ok")
		r.saveSnapshot(id, msgs)
		r.Dispatch(HistoryLoaded{CounterpartID: id, Generation: gen, Messages: msgs})
	}()
}

func (r *Reconciler) loadSnapshot(id string) ([]models.ChatMessage, time.Time) {
	if r.store == nil {
		return nil, time.Time{}
	}
	msgs, savedAt, err := r.store.LoadHistory(id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("failed to load history snapshot", "counterpart", id, "error", err)
		}
		return nil, time.Time{}
	}
	return msgs, savedAt
}

func (r *Reconciler) saveSnapshot(id string, msgs []models.ChatMessage) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveHistory(id, msgs); err != nil {
		slog.Error("failed to save history snapshot", "counterpart", id, "error", err)
	}
}

// Wait blocks until all background history fetches have finished.
func (r *Reconciler) Wait() {
	r.fetches.Wait()
}

// Close stops the typing timer and waits for background fetches.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.typing.Reset()
	r.mu.Unlock()
	r.Wait()
}

func validateMessage(m models.ChatMessage) error {
	switch {
	case m.ID == "":
		return errors.New("missing id")
	case m.FromID == "":
		return errors.New("missing fromId")
	case m.ToID == "":
		return errors.New("missing toId")
	case strings.TrimSpace(m.Message) == "":
		return errors.New("empty message")
	}
	return nil
}
