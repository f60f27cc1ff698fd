package storage

import (
	"errors"
	"fmt"
	"time"

	"chatsync/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketMessages  = []byte("messages")
	bucketSnapshots = []byte("snapshots")
)

var ErrNotFound = models.ErrNotFound

// BboltStorage keeps the last fetched history of every counterpart so the
// client has something to show when a refetch fails.
type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveHistory replaces the stored history of counterpartID.
func (s *BboltStorage) SaveHistory(counterpartID string, messages []models.ChatMessage) error {
	if counterpartID == "" {
		return errors.New("history missing counterpartID")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		mainMsgBucket := tx.Bucket(bucketMessages)
		key := []byte(counterpartID)

		if mainMsgBucket.Bucket(key) != nil {
			if err := mainMsgBucket.DeleteBucket(key); err != nil {
				return fmt.Errorf("failed to drop old snapshot: %w", err)
			}
		}
		chatBucket, err := mainMsgBucket.CreateBucket(key)
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		for i, m := range messages {
			dbMessage := DBMessage{
				Pos:       uint64(i),
				ID:        m.ID,
				FromID:    m.FromID,
				FromRole:  string(m.FromRole),
				ToID:      m.ToID,
				ToRole:    string(m.ToRole),
				Message:   m.Message,
				Timestamp: m.Timestamp,
				IsRead:    m.IsRead,
			}
			data, err := dbMessage.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := chatBucket.Put(dbMessage.Key(), data); err != nil {
				return fmt.Errorf("failed to put message: %w", err)
			}
		}

		snapshot := DBSnapshot{
			CounterpartID: counterpartID,
			SavedAt:       s.now().Unix(),
			Count:         len(messages),
		}
		data, err := snapshot.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Put(snapshot.Key(), data)
	})
}

// LoadHistory returns the stored history of counterpartID in the order it
// was saved and the time it was saved, or ErrNotFound when nothing was
// ever saved.
func (s *BboltStorage) LoadHistory(counterpartID string) ([]models.ChatMessage, time.Time, error) {
	var (
		messages []models.ChatMessage
		snapshot DBSnapshot
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(counterpartID))
		if chatBucket == nil {
			return ErrNotFound
		}
		if data := tx.Bucket(bucketSnapshots).Get([]byte(counterpartID)); data != nil {
			if err := snapshot.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to read snapshot info: %w", err)
			}
		}

		messages = make([]models.ChatMessage, 0, snapshot.Count)
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.ChatMessage{
				ID:        dbMsg.ID,
				FromID:    dbMsg.FromID,
				FromRole:  models.Role(dbMsg.FromRole),
				ToID:      dbMsg.ToID,
				ToRole:    models.Role(dbMsg.ToRole),
				Message:   dbMsg.Message,
				Timestamp: dbMsg.Timestamp,
				IsRead:    dbMsg.IsRead,
			})
			return nil
		})
	})
	if err != nil {
		return nil, time.Time{}, err
	}

	var savedAt time.Time
	if snapshot.SavedAt != 0 {
		savedAt = time.Unix(snapshot.SavedAt, 0)
	}
	return messages, savedAt, nil
}

// Clear removes every snapshot. Called on logout.
func (s *BboltStorage) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketSnapshots} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
