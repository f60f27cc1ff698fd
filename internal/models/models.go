package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

type Role string

const (
	RoleUser   Role = "user"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleVendor, RoleAdmin:
		return true
	}
	return false
}

// ChatMessage is a single message as the server reports it.
// ID is assigned by the server and is the deduplication key.
type ChatMessage struct {
	ID        string `json:"id"`
	FromID    string `json:"fromId"`
	FromRole  Role   `json:"fromRole"`
	ToID      string `json:"toId"`
	ToRole    Role   `json:"toRole"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	IsRead    bool   `json:"isRead"`
}

// UnmarshalJSON accepts createdAt as an alias of timestamp, which some
// endpoints send instead. Either may be Unix milliseconds or an RFC 3339
// string.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias ChatMessage
	aux := struct {
		*alias
		Timestamp json.RawMessage `json:"timestamp"`
		CreatedAt json.RawMessage `json:"createdAt"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts, err := parseMillis(aux.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	if ts == 0 {
		if ts, err = parseMillis(aux.CreatedAt); err != nil {
			return fmt.Errorf("invalid createdAt: %w", err)
		}
	}
	m.Timestamp = ts
	return nil
}

// parseMillis reads a JSON number of Unix milliseconds or an RFC 3339
// string. Missing and null values are 0.
func parseMillis(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	if raw[0] != '"' {
		var ms float64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return 0, err
		}
		return int64(ms), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// Counterpart returns the id of the other participant relative to localID.
func (m ChatMessage) Counterpart(localID string) string {
	if m.FromID == localID {
		return m.ToID
	}
	return m.FromID
}

// Counterpart is an entry of the chatted-counterparts list.
type Counterpart struct {
	ID            string `json:"id"`
	Role          Role   `json:"role"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
	LastMessage   string `json:"lastMessage,omitempty"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"`
	UnreadCount   int    `json:"unreadCount"`
}

func (c *Counterpart) UnmarshalJSON(data []byte) error {
	type alias Counterpart
	aux := struct {
		*alias
		LastMessageAt json.RawMessage `json:"lastMessageAt"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	at, err := parseMillis(aux.LastMessageAt)
	if err != nil {
		return fmt.Errorf("invalid lastMessageAt: %w", err)
	}
	c.LastMessageAt = at
	return nil
}

type EventName string

const (
	// Outbound
	EventSendMessage EventName = "send_message"
	EventTyping      EventName = "typing"
	EventReadMessage EventName = "read_message"

	// Inbound
	EventReceiveMessage EventName = "receive_message"
	EventMessageRead    EventName = "message_read"
	EventConnectError   EventName = "connect_error"
)

// Envelope is the wire frame for every socket event in both directions.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

type SendMessagePayload struct {
	ToID    string `json:"toId"`
	ToRole  Role   `json:"toRole"`
	Message string `json:"message"`
}

type TypingPayload struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	ToRole Role   `json:"toRole"`
}

type ReadMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	ToRole     Role   `json:"toRole"`
}

type MessageReadPayload struct {
	WithUserID string `json:"withUserId"`
}

type ConnectErrorPayload struct {
	Message string `json:"message"`
}
