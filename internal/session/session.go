// Package session owns one authenticated chat session: its socket, REST
// client, local snapshot store and reconciler. A session is created after
// login and disposed on logout; nothing here is process-global.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/chat"
	"chatsync/internal/config"
	"chatsync/internal/debounce"
	"chatsync/internal/models"
	"chatsync/internal/notify"
	"chatsync/internal/observability"
	"chatsync/internal/storage"
	"chatsync/internal/ws"

	"github.com/google/uuid"
)

type Options struct {
	Dialer      ws.Dialer
	Notifier    notify.Notifier
	HTTPClient  *http.Client
	TypingDecay time.Duration
	SearchDelay time.Duration
}

// SearchResult is delivered after a debounced counterpart search ran.
type SearchResult struct {
	Term         string
	Counterparts []models.Counterpart
	Err          error
}

type Session struct {
	ID string

	cfg      *config.Config
	ctx      context.Context
	cancel   context.CancelFunc
	notifier notify.Notifier
	socket   *ws.Manager
	store    *storage.BboltStorage
	chat     *chat.Reconciler
	search   *debounce.Value[string]

	mu            sync.Mutex
	searchHandler func(SearchResult)
	closed        bool
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Dialer == nil {
		opts.Dialer = ws.NewGorillaDialer(cfg.HTTPTimeout)
	}

	var (
		store     *storage.BboltStorage
		snapshots chat.SnapshotStore
	)
	if cfg.DBFile != "" {
		var err error
		store, err = storage.NewBboltStorage(cfg.DBFile)
		if err != nil {
			return nil, err
		}
		snapshots = store
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:       uuid.NewString(),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		notifier: opts.Notifier,
		store:    store,
	}

	client := api.New(api.Config{
		BaseURL:    cfg.APIURL,
		Token:      cfg.Token,
		Timeout:    cfg.HTTPTimeout,
		HTTPClient: opts.HTTPClient,
	})

	s.socket = ws.NewManager(ws.Config{
		URL:                  cfg.SocketURL,
		Token:                cfg.Token,
		MaxReconnectAttempts: cfg.MaxReconnect,
	}, opts.Dialer, opts.Notifier)

	s.chat = chat.NewReconciler(ctx, chat.Config{
		LocalID:     cfg.UserID,
		TypingDecay: opts.TypingDecay,
		CacheTTL:    cfg.HistoryTTL,
	}, s.socket, client, snapshots, opts.Notifier)

	s.search = debounce.New(opts.SearchDelay, s.runSearch)
	s.subscribe()

	slog.Info("session created", "session", s.ID, "user", cfg.UserID, "role", cfg.Role)
	return s, nil
}

// subscribe routes socket events into the reconciler.
func (s *Session) subscribe() {
	s.socket.On(models.EventReceiveMessage, func(data json.RawMessage) {
		var msg models.ChatMessage
		if !decode(models.EventReceiveMessage, data, &msg) {
			return
		}
		s.chat.Dispatch(chat.MessageReceived{Message: msg})
	})
	s.socket.On(models.EventTyping, func(data json.RawMessage) {
		var p models.TypingPayload
		if !decode(models.EventTyping, data, &p) {
			return
		}
		s.chat.Dispatch(chat.TypingReceived{FromID: p.FromID, ToID: p.ToID})
	})
	s.socket.On(models.EventMessageRead, func(data json.RawMessage) {
		var p models.MessageReadPayload
		if !decode(models.EventMessageRead, data, &p) {
			return
		}
		s.chat.Dispatch(chat.ReadReceiptReceived{WithUserID: p.WithUserID})
	})
	s.socket.On(models.EventConnectError, func(data json.RawMessage) {
		var p models.ConnectErrorPayload
		_ = json.Unmarshal(data, &p)
		s.chat.Dispatch(chat.ConnectionError{Message: p.Message})
	})
	s.socket.OnState(func(state ws.State) {
		s.chat.Dispatch(chat.ConnectionChanged{Connected: state == ws.StateConnected})
	})
}

func decode(event models.EventName, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("dropping malformed event", "event", event, "error", err)
		observability.IncDropped("malformed_payload")
		return false
	}
	return true
}

// Start opens the socket. A failure is reported to the user and returned;
// REST-backed features keep working without it.
func (s *Session) Start() error {
	if err := s.socket.Connect(s.ctx); err != nil {
		return fmt.Errorf("failed to connect chat socket: %w", err)
	}
	return nil
}

func (s *Session) Chat() *chat.Reconciler {
	return s.chat
}

func (s *Session) Config() *config.Config {
	return s.cfg
}

func (s *Session) Connected() bool {
	return s.socket.Connected()
}

// OnSearchResults sets the receiver of debounced search results.
func (s *Session) OnSearchResults(fn func(SearchResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchHandler = fn
}

// Search schedules a counterpart search. Only the last term typed within
// the debounce delay is sent to the server.
func (s *Session) Search(term string) {
	s.search.Set(term)
}

func (s *Session) runSearch(term string) {
	list, err := s.chat.Inbox(s.ctx, term)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("counterpart search failed", "term", term, "error", err)
		s.notifier.Warn("Search failed")
	}

	s.mu.Lock()
	handler := s.searchHandler
	s.mu.Unlock()
	if handler != nil {
		handler(SearchResult{Term: term, Counterparts: list, Err: err})
	}
}

// Close tears the session down and keeps the local snapshots.
func (s *Session) Close() error {
	return s.close(false)
}

// Logout tears the session down and removes the local snapshots.
func (s *Session) Logout() error {
	return s.close(true)
}

func (s *Session) close(wipe bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.search.Stop()
	s.cancel()
	s.socket.Disconnect()
	s.chat.Close()

	if s.store == nil {
		return nil
	}

	var errs []error
	if wipe {
		if err := s.store.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear snapshots: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close snapshot store: %w", err))
	}
	slog.Info("session closed", "session", s.ID, "logout", wipe)
	return errors.Join(errs...)
}
