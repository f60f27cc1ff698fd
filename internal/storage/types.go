package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBMessage is one message of a history snapshot. Pos keeps the order the
// server returned.
type DBMessage struct {
	Pos       uint64 `msgpack:"pos"`
	ID        string `msgpack:"id"`
	FromID    string `msgpack:"fromId"`
	FromRole  string `msgpack:"fromRole"`
	ToID      string `msgpack:"toId"`
	ToRole    string `msgpack:"toRole"`
	Message   string `msgpack:"message"`
	Timestamp int64  `msgpack:"timestamp"`
	IsRead    bool   `msgpack:"isRead"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Pos)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBSnapshot describes when a counterpart's history was last saved.
type DBSnapshot struct {
	CounterpartID string `msgpack:"counterpartId"`
	SavedAt       int64  `msgpack:"savedAt"`
	Count         int    `msgpack:"count"`
}

func (s *DBSnapshot) Key() []byte {
	return []byte(s.CounterpartID)
}

func (s *DBSnapshot) MarshalBinary() (data []byte, err error) {
	type alias DBSnapshot
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSnapshot) UnmarshalBinary(data []byte) error {
	type alias DBSnapshot
	return msgpack.Unmarshal(data, (*alias)(s))
}

var (
	_ Storeable = (*DBMessage)(nil)
	_ Storeable = (*DBSnapshot)(nil)
)
