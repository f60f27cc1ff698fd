package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/notify"
	"chatsync/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotConnected   = errors.New("socket not connected")
	ErrSendBufferFull = errors.New("socket send buffer full")
)

const (
	DefaultMaxReconnectAttempts = 5
	defaultSendBuffer           = 64
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

type Config struct {
	URL                  string
	Token                string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	SendBuffer           int
}

func (c *Config) defaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
}

// Manager owns the single bidirectional event channel of a session.
// It is created at session start and disposed with Disconnect on logout.
type Manager struct {
	cfg      Config
	dialer   Dialer
	notifier notify.Notifier

	mu          sync.Mutex
	state       State
	send        chan models.Envelope
	cancel      context.CancelFunc
	done        chan struct{}
	intentional bool

	handlersMu    sync.RWMutex
	handlers      map[models.EventName][]Handler
	stateHandlers []func(State)
}

func NewManager(cfg Config, dialer Dialer, notifier notify.Notifier) *Manager {
	cfg.defaults()
	if notifier == nil {
		notifier = notify.Discard
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		notifier: notifier,
		state:    StateDisconnected,
		handlers: make(map[models.EventName][]Handler),
	}
}

// On adds a subscriber for an inbound event. Subscribers run on the read
// pump in delivery order.
func (m *Manager) On(event models.EventName, h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[event] = append(m.handlers[event], h)
}

// OnState adds a subscriber for connection state changes.
func (m *Manager) OnState(h func(State)) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.stateHandlers = append(m.stateHandlers, h)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Connect opens the connection unless one is already live or being opened,
// in which case it returns nil without dialing. ctx bounds the lifetime of
// the connection, including later reconnects.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.intentional = false
	lifeCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.notifyState(StateConnecting)

	conn, err := m.dial(lifeCtx)
	if err != nil {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.mu.Unlock()
		close(done)
		m.setState(StateDisconnected)
		return err
	}

	send := m.attach()
	go m.run(lifeCtx, cancel, conn, send, done)
	return nil
}

// Disconnect closes the channel and waits for the pumps to stop.
// Safe to call when nothing is connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.intentional = true
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done
}

// Emit sends one event without waiting for any acknowledgement.
// Nothing is queued while disconnected: the event is dropped and
// ErrNotConnected returned.
func (m *Manager) Emit(event models.EventName, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	m.mu.Lock()
	send := m.send
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || send == nil {
		observability.IncEventEmitted(string(event), "not_connected")
		return ErrNotConnected
	}

	env := models.Envelope{Event: event, Data: data, ID: uuid.NewString()}
	select {
	case send <- env:
		observability.IncEventEmitted(string(event), "ok")
		return nil
	default:
		observability.IncEventEmitted(string(event), "buffer_full")
		return ErrSendBufferFull
	}
}

func (m *Manager) header() http.Header {
	h := http.Header{}
	if m.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+m.cfg.Token)
		h.Set("Cookie", (&http.Cookie{Name: "token", Value: m.cfg.Token}).String())
	}
	return h
}

// dial tries up to MaxReconnectAttempts times with capped exponential
// backoff. Every failed attempt is reported as a connect_error.
func (m *Manager) dial(ctx context.Context) (Conn, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.ReconnectBaseDelay
	eb.MaxInterval = m.cfg.ReconnectMaxDelay
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(eb, uint64(m.cfg.MaxReconnectAttempts-1)),
		ctx,
	)

	var (
		conn    Conn
		attempt int
	)
	err := backoff.Retry(func() error {
		if attempt > 0 {
			observability.IncReconnect()
		}
		attempt++

		c, err := m.dialer.Dial(ctx, m.cfg.URL, m.header())
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			m.reportError(err)
			return err
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", m.cfg.URL, attempt, err)
	}
	return conn, nil
}

// attach installs a fresh send buffer for a newly dialed connection.
func (m *Manager) attach() chan models.Envelope {
	send := make(chan models.Envelope, m.cfg.SendBuffer)
	m.mu.Lock()
	m.send = send
	m.mu.Unlock()
	m.setState(StateConnected)
	return send
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, conn Conn, send chan models.Envelope, done chan struct{}) {
	defer close(done)
	defer func() {
		cancel()
		m.mu.Lock()
		m.cancel = nil
		m.send = nil
		m.mu.Unlock()
		m.setState(StateDisconnected)
	}()

	for {
		err := m.handle(ctx, conn, send)

		m.mu.Lock()
		intentional := m.intentional
		m.send = nil
		m.mu.Unlock()
		if intentional || ctx.Err() != nil {
			return
		}

		slog.Warn("socket connection lost", "error", err)
		m.reportError(fmt.Errorf("connection lost: %w", err))
		m.setState(StateReconnecting)

		conn, err = m.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("socket reconnect failed", "error", err)
			}
			return
		}
		send = m.attach()
	}
}

// handle pumps one connection until it fails or ctx is cancelled.
func (m *Manager) handle(ctx context.Context, conn Conn, send chan models.Envelope) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.readLoop(conn)
	})
	g.Go(func() error {
		return m.writeLoop(gCtx, conn, send)
	})
	g.Go(func() error {
		<-gCtx.Done()
		_ = conn.Close()
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			observability.IncDropped("malformed_frame")
			slog.Warn("dropping malformed socket frame", "error", err)
			continue
		}
		if env.Event == "" {
			observability.IncDropped("missing_event")
			continue
		}

		observability.IncEventReceived(string(env.Event))
		if env.Event == models.EventConnectError {
			var p models.ConnectErrorPayload
			_ = json.Unmarshal(env.Data, &p)
			m.notifier.Warn("Chat connection error: " + p.Message)
		}
		m.dispatch(env.Event, env.Data)
	}
}

func (m *Manager) writeLoop(ctx context.Context, conn Conn, send chan models.Envelope) error {
	for {
		select {
		case env := <-send:
			if err := conn.WriteJSON(env); err != nil {
				return fmt.Errorf("write %s: %w", env.Event, err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) dispatch(event models.EventName, data json.RawMessage) {
	m.handlersMu.RLock()
	handlers := append([]Handler{}, m.handlers[event]...)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("socket handler panicked", "event", event, "panic", r)
				}
			}()
			h(data)
		}()
	}
}

// reportError surfaces a transport failure to the user and to connect_error
// subscribers.
func (m *Manager) reportError(err error) {
	m.notifier.Warn("Chat connection error: " + err.Error())
	data, _ := json.Marshal(models.ConnectErrorPayload{Message: err.Error()})
	m.dispatch(models.EventConnectError, data)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()
	m.notifyState(s)
}

func (m *Manager) notifyState(s State) {
	observability.SetConnected(s == StateConnected)

	m.handlersMu.RLock()
	handlers := append([]func(State){}, m.stateHandlers...)
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}
