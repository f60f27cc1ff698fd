package chat

import (
	"time"

	"chatsync/internal/models"
)

// Event is one input of the reconciler. Every state change goes through
// Reconciler.Dispatch with one of the types below.
type Event interface {
	event()
}

// Selected switches the viewed conversation. An empty ID clears the view.
type Selected struct {
	ID   string
	Role models.Role
}

// HistoryLoaded carries the result of a history fetch started for
// CounterpartID under Generation.
type HistoryLoaded struct {
	CounterpartID string
	Generation    uint64
	Messages      []models.ChatMessage
}

// HistoryFailed reports a failed history fetch. Fallback holds the local
// snapshot of the conversation, if one exists, saved at SavedAt.
type HistoryFailed struct {
	CounterpartID string
	Generation    uint64
	Err           error
	Fallback      []models.ChatMessage
	SavedAt       time.Time
}

type MessageReceived struct {
	Message models.ChatMessage
}

type TypingReceived struct {
	FromID string
	ToID   string
}

// TypingExpired is delivered by the typing decay timer.
type TypingExpired struct {
	Generation uint64
}

// ReadReceiptReceived means WithUserID has read the local participant's
// messages.
type ReadReceiptReceived struct {
	WithUserID string
}

// CounterpartsLoaded is dispatched after a fresh counterparts list arrived
// from the server. The server counts now include the live increments of
// the listed counterparts, unless a message arrived while the list was in
// flight; Generation tells the two apart.
type CounterpartsLoaded struct {
	IDs        []string
	Generation uint64
}

type ConnectionChanged struct {
	Connected bool
}

type ConnectionError struct {
	Message string
}

func (Selected) event()            {}
func (HistoryLoaded) event()       {}
func (HistoryFailed) event()       {}
func (MessageReceived) event()     {}
func (TypingReceived) event()      {}
func (TypingExpired) event()       {}
func (ReadReceiptReceived) event() {}
func (CounterpartsLoaded) event()  {}
func (ConnectionChanged) event()   {}
func (ConnectionError) event()     {}
