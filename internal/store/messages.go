// Package store persists messages and call sessions in BadgerDB, the embedded
// document store behind the realtime core. Records are JSON documents; keys
// embed a zero-padded creation timestamp so a prefix scan yields them in
// chronological order without a secondary index.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/model/chat"
)

type MessageStore struct {
	db       *badger.DB
	log      *slog.Logger
	pageSize int
}

func NewMessageStore(db *badger.DB, log *slog.Logger, pageSize int) *MessageStore {
	return &MessageStore{db: db, log: log, pageSize: pageSize}
}

// messageKey is "msg:{conversation}:{timestamp_padded}:{uuid}":
//  1. the 19-digit zero padding makes lexicographic order chronological;
//  2. the uuid suffix disambiguates two messages in the same nanosecond.
func messageKey(conversationID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", conversationID, at.UnixNano(), id))
}

// refKey maps a message id to its primary key for point lookups.
func refKey(id string) []byte {
	return []byte("msgref:" + id)
}

// Append validates the participant pair, resolves the conversation id, stamps
// server-side creation time and persists the message with status sent.
func (m *MessageStore) Append(msg chat.Message) (chat.Message, error) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return chat.Message{}, fmt.Errorf("sender and receiver are required: %w", apperr.ErrValidation)
	}
	if msg.SenderID == msg.ReceiverID {
		return chat.Message{}, fmt.Errorf("sender and receiver must differ: %w", apperr.ErrValidation)
	}

	now := time.Now().UTC()
	msg.ID = uuid.NewString()
	msg.ConversationID = chat.ConversationID(msg.SenderID, msg.ReceiverID)
	msg.Status = chat.StatusSent
	msg.ReadAt = nil
	msg.CreatedAt = now
	msg.UpdatedAt = now

	data, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, err
	}
	key := messageKey(msg.ConversationID, msg.CreatedAt, msg.ID)

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(refKey(msg.ID), key)
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// Get returns the message by id.
func (m *MessageStore) Get(messageID string) (chat.Message, error) {
	var msg chat.Message
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		msg, _, err = m.load(txn, messageID)
		return err
	})
	return msg, err
}

// AdvanceStatus moves the message forward in sent < delivered < read.
// A request at or below the current status is an idempotent no-op; the ladder
// never regresses. An unknown status fails with ErrInvalidTransition.
func (m *MessageStore) AdvanceStatus(messageID string, status chat.Status) (chat.Message, error) {
	if !status.Known() {
		return chat.Message{}, fmt.Errorf("status %q: %w", status, apperr.ErrInvalidTransition)
	}

	var msg chat.Message
	err := m.db.Update(func(txn *badger.Txn) error {
		var key []byte
		var err error
		msg, key, err = m.load(txn, messageID)
		if err != nil {
			return err
		}
		if msg.Status.AtOrPast(status) {
			return nil
		}
		msg.Status = status
		msg.UpdatedAt = time.Now().UTC()
		if status == chat.StatusRead {
			at := msg.UpdatedAt
			msg.ReadAt = &at
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	return msg, err
}

// ListByConversation pages through a conversation newest first. The returned
// cursor is the opaque key remainder of the last row; passing it back resumes
// the scan, nil cursor means the page was not full.
func (m *MessageStore) ListByConversation(conversationID string, cursor *string) ([]chat.Message, *string, error) {
	prefixStr := "msg:" + conversationID + ":"
	prefix := []byte(prefixStr)

	var raws [][]byte
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			// Seek past every possible timestamp, then walk backwards.
			seekKey = append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		} else {
			seekKey = append(append([]byte{}, prefix...), []byte(*cursor)...)
		}
		it.Seek(seekKey)

		// A cursor points at the last row of the previous page; skip it.
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(raws) == m.pageSize {
				return nil
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			if err := item.Value(func(value []byte) error {
				raws = append(raws, append([]byte{}, value...))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		var msg chat.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, nil, err
		}
		messages = append(messages, msg)
	}
	if len(messages) < m.pageSize {
		return messages, nil, nil
	}
	return messages, &lastKey, nil
}

// Delete hard-deletes the message. Only the sender may remove it.
func (m *MessageStore) Delete(messageID, requesterID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		msg, key, err := m.load(txn, messageID)
		if err != nil {
			return err
		}
		if msg.SenderID != requesterID {
			return fmt.Errorf("only the sender may delete message %s: %w", messageID, apperr.ErrForbidden)
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(refKey(messageID))
	})
}

// load resolves the ref key and returns the message plus its primary key.
func (m *MessageStore) load(txn *badger.Txn, messageID string) (chat.Message, []byte, error) {
	refItem, err := txn.Get(refKey(messageID))
	if err == badger.ErrKeyNotFound {
		return chat.Message{}, nil, fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, nil, err
	}
	key, err := refItem.ValueCopy(nil)
	if err != nil {
		return chat.Message{}, nil, err
	}

	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return chat.Message{}, nil, fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, nil, err
	}
	var msg chat.Message
	if err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &msg)
	}); err != nil {
		return chat.Message{}, nil, err
	}
	return msg, key, nil
}
