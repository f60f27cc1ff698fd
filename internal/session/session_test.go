package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/internal/notify"
	"chatsync/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal booking API: chat REST endpoints plus a socket
// that echoes sent messages back as receive_message.
type fakeServer struct {
	*httptest.Server

	push chan models.Envelope

	mu       sync.Mutex
	searches []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{push: make(chan models.Envelope, 10)}

	history := []models.ChatMessage{
		{ID: "h1", FromID: "vendor123", FromRole: models.RoleVendor, ToID: "u1", ToRole: models.RoleUser, Message: "Welcome!", Timestamp: 1},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chat/history/{id}", func(w http.ResponseWriter, r *http.Request) {
		data := []models.ChatMessage{}
		if r.PathValue("id") == "vendor123" {
			data = history
		}
		writeJSON(w, map[string]any{"success": true, "data": data})
	})
	mux.HandleFunc("GET /api/chat/counterparts", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.searches = append(fs.searches, r.URL.Query().Get("search"))
		fs.mu.Unlock()
		writeJSON(w, map[string]any{"success": true, "data": []models.Counterpart{
			{ID: "vendor123", Role: models.RoleVendor, Name: "Grand Hotel", UnreadCount: 1},
		}})
	})
	mux.HandleFunc("GET /api/chat/unread-count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": true, "data": map[string]int{"count": 4}})
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/socket", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var env models.Envelope
				if err := conn.ReadJSON(&env); err != nil {
					return
				}
				if env.Event != models.EventSendMessage {
					continue
				}
				var p models.SendMessagePayload
				if err := json.Unmarshal(env.Data, &p); err != nil {
					continue
				}
				data, _ := json.Marshal(models.ChatMessage{
					ID: "echo-" + env.ID, FromID: "u1", FromRole: models.RoleUser,
					ToID: p.ToID, ToRole: p.ToRole, Message: p.Message, Timestamp: time.Now().UnixMilli(),
				})
				fs.push <- models.Envelope{Event: models.EventReceiveMessage, Data: data}
			}
		}()

		for {
			select {
			case env := <-fs.push:
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) pushEvent(t *testing.T, event models.EventName, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	fs.push <- models.Envelope{Event: event, Data: data}
}

func (fs *fakeServer) searchTerms() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string{}, fs.searches...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(fs *fakeServer, dbFile string) *config.Config {
	return &config.Config{
		APIURL:       fs.URL + "/api",
		SocketURL:    "ws" + strings.TrimPrefix(fs.URL, "http") + "/socket",
		Token:        "secret",
		UserID:       "u1",
		Role:         models.RoleUser,
		DBFile:       dbFile,
		LogLevel:     "info",
		HTTPTimeout:  time.Second,
		HistoryTTL:   time.Minute,
		MaxReconnect: 2,
	}
}

func TestSession(t *testing.T) {
	fs := newFakeServer(t)
	dbFile := filepath.Join(t.TempDir(), "chatsync.db")

	s, err := New(t.Context(), testConfig(fs, dbFile), Options{SearchDelay: 20 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.Chat().View().Connected }, time.Second, 5*time.Millisecond)

	r := s.Chat()

	t.Run("SelectLoadsHistory", func(t *testing.T) {
		r.Select("vendor123", models.RoleVendor)
		require.Eventually(t, func() bool { return r.View().HistoryLoaded }, time.Second, 5*time.Millisecond)
		assert.Equal(t, "h1", r.Combined()[0].ID)
	})

	t.Run("SendIsRenderedFromEcho", func(t *testing.T) {
		require.NoError(t, r.SendMessage("vendor123", models.RoleVendor, "Is late checkout possible?"))
		require.Eventually(t, func() bool { return len(r.Combined()) == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, "Is late checkout possible?", r.Combined()[1].Message)
		assert.Empty(t, r.LiveUnread())
	})

	t.Run("OtherConversationCountsUnread", func(t *testing.T) {
		fs.pushEvent(t, models.EventReceiveMessage, models.ChatMessage{
			ID: "x1", FromID: "vendor456", FromRole: models.RoleVendor, ToID: "u1", ToRole: models.RoleUser, Message: "hey", Timestamp: 5,
		})
		require.Eventually(t, func() bool { return r.LiveUnread()["vendor456"] == 1 }, time.Second, 5*time.Millisecond)
		assert.Len(t, r.Combined(), 2)
	})

	t.Run("Typing", func(t *testing.T) {
		fs.pushEvent(t, models.EventTyping, models.TypingPayload{FromID: "vendor123", ToID: "u1", ToRole: models.RoleUser})
		require.Eventually(t, func() bool { return r.View().Typing }, time.Second, 5*time.Millisecond)
	})

	t.Run("MalformedPayloadIgnored", func(t *testing.T) {
		fs.push <- models.Envelope{Event: models.EventReceiveMessage, Data: json.RawMessage(`"not a message"`)}
		fs.pushEvent(t, models.EventMessageRead, models.MessageReadPayload{WithUserID: "vendor123"})
		require.Eventually(t, func() bool {
			for _, m := range r.Combined() {
				if m.FromID == "u1" && !m.IsRead {
					return false
				}
			}
			return true
		}, time.Second, 5*time.Millisecond)
		assert.True(t, s.Connected())
	})

	t.Run("UnreadTotal", func(t *testing.T) {
		total, err := r.UnreadTotal(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 4, total)
	})

	t.Run("DebouncedSearch", func(t *testing.T) {
		results := make(chan SearchResult, 5)
		s.OnSearchResults(func(res SearchResult) { results <- res })

		s.Search("g")
		s.Search("gr")
		s.Search("grand")

		select {
		case res := <-results:
			require.NoError(t, res.Err)
			assert.Equal(t, "grand", res.Term)
			require.Len(t, res.Counterparts, 1)
			assert.Equal(t, 0, res.Counterparts[0].UnreadCount, "selected counterpart shows no unread")
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for search results")
		}
		assert.Equal(t, []string{"grand"}, fs.searchTerms())
	})

	require.NoError(t, s.Logout())
	assert.False(t, s.Connected())
	require.NoError(t, s.Logout(), "second logout is a no-op")

	store, err := storage.NewBboltStorage(dbFile)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	_, _, err = store.LoadHistory("vendor123")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "logout removes snapshots")
}

func TestSessionCloseKeepsSnapshots(t *testing.T) {
	fs := newFakeServer(t)
	dbFile := filepath.Join(t.TempDir(), "chatsync.db")

	s, err := New(t.Context(), testConfig(fs, dbFile), Options{})
	require.NoError(t, err)

	r := s.Chat()
	r.Select("vendor123", models.RoleVendor)
	require.Eventually(t, func() bool { return r.View().HistoryLoaded }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	store, err := storage.NewBboltStorage(dbFile)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	msgs, savedAt, err := store.LoadHistory("vendor123")
	require.NoError(t, err)
	assert.Equal(t, "h1", msgs[0].ID)
	assert.WithinDuration(t, time.Now(), savedAt, time.Minute)
}

func TestSessionStartFails(t *testing.T) {
	fs := newFakeServer(t)
	cfg := testConfig(fs, "")
	cfg.Token = "wrong"

	var mu sync.Mutex
	var warnings []string
	s, err := New(t.Context(), cfg, Options{Notifier: notify.Func(func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, msg)
	})})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.Error(t, s.Start())
	assert.False(t, s.Connected())
	assert.Contains(t, s.Chat().View().LastError, "status 401")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, warnings, cfg.MaxReconnect)
}
