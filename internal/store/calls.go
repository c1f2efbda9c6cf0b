package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/model/call"
)

type CallStore struct {
	db       *badger.DB
	log      *slog.Logger
	pageSize int
}

func NewCallStore(db *badger.DB, log *slog.Logger, pageSize int) *CallStore {
	return &CallStore{db: db, log: log, pageSize: pageSize}
}

func callKey(sessionID string) []byte {
	return []byte("call:" + sessionID)
}

// callIdxKey gives each participant a chronological view of their sessions.
func callIdxKey(userID string, at time.Time, sessionID string) []byte {
	return []byte(fmt.Sprintf("callidx:%s:%019d:%s", userID, at.UnixNano(), sessionID))
}

// activePairKey guards the one-non-terminal-session-per-pair invariant. The
// pair is unordered, so the key uses the sorted ids.
func activePairKey(a, b string) []byte {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	return []byte("callactive:" + lo + ":" + hi)
}

// Create persists a fresh session and claims the pair's active slot. Fails
// with ErrAlreadyActive while a non-terminal session exists for the same pair.
func (c *CallStore) Create(sess call.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	pairKey := activePairKey(sess.PatientID, sess.ClinicianID)

	return c.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(pairKey)
		if err == nil {
			return fmt.Errorf("pair %s/%s: %w", sess.PatientID, sess.ClinicianID, apperr.ErrAlreadyActive)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(callKey(sess.ID), data); err != nil {
			return err
		}
		if err := txn.Set(callIdxKey(sess.PatientID, sess.StartedAt, sess.ID), []byte(sess.ID)); err != nil {
			return err
		}
		if err := txn.Set(callIdxKey(sess.ClinicianID, sess.StartedAt, sess.ID), []byte(sess.ID)); err != nil {
			return err
		}
		return txn.Set(pairKey, []byte(sess.ID))
	})
}

// Get returns the session by id.
func (c *CallStore) Get(sessionID string) (call.Session, error) {
	var sess call.Session
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(callKey(sessionID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("session %s: %w", sessionID, apperr.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &sess)
		})
	})
	return sess, err
}

// Update rewrites the session record. A terminal session releases the pair's
// active slot so a new call can be placed.
func (c *CallStore) Update(sess call.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(callKey(sess.ID), data); err != nil {
			return err
		}
		if sess.Status.Terminal() {
			return txn.Delete(activePairKey(sess.PatientID, sess.ClinicianID))
		}
		return nil
	})
}

// ListByParticipant pages through a user's call history newest first.
func (c *CallStore) ListByParticipant(userID string, cursor *string) ([]call.Session, *string, error) {
	prefixStr := "callidx:" + userID + ":"
	prefix := []byte(prefixStr)

	var ids []string
	var lastKey string
	err := c.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		if cursor == nil {
			seekKey = append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		} else {
			seekKey = append(append([]byte{}, prefix...), []byte(*cursor)...)
		}
		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(ids) == c.pageSize {
				return nil
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefixStr):])
			if err := item.Value(func(value []byte) error {
				ids = append(ids, string(value))
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

	sessions := make([]call.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := c.Get(id)
		if err != nil {
			return nil, nil, err
		}
		sessions = append(sessions, sess)
	}
	if len(sessions) < c.pageSize {
		return sessions, nil, nil
	}
	return sessions, &lastKey, nil
}

// ActiveSessions returns every session still holding a pair's active slot.
// Used at startup to reap sessions orphaned by a previous process.
func (c *CallStore) ActiveSessions() ([]call.Session, error) {
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("callactive:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(value []byte) error {
				ids = append(ids, string(value))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]call.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := c.Get(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
