// Package badgerstore keeps the message log in an embedded BadgerDB instance.
// Users, rooms and groups stay in the relational store; only AppendMessage
// and History are served from here.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/channel"
	"github.com/vovakirdan/groupchat-server/internal/store"
)

const sequenceKey = "seq:messages"

// MessageStore implements store.MessageStore on top of BadgerDB.
type MessageStore struct {
	db  *badger.DB
	seq *badger.Sequence

	mu   sync.Mutex
	last map[channel.Key]time.Time
}

var _ store.MessageStore = (*MessageStore)(nil)

// record is the on-disk value of one message.
type record struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	At         time.Time `json:"at"`
}

// New opens (or creates) a Badger database at path.
func New(path string, logger *zerolog.Logger) (*MessageStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(newLogAdapter(logger))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open sequence: %w", err)
	}

	return &MessageStore{
		db:   db,
		seq:  seq,
		last: make(map[channel.Key]time.Time),
	}, nil
}

// Close releases the id sequence and closes the database.
func (m *MessageStore) Close() error {
	seqErr := m.seq.Release()
	dbErr := m.db.Close()
	return errors.Join(seqErr, dbErr)
}

// prefix returns "msg:{kind}:{id}:". Kind is part of the key so rooms and
// groups with the same id never share a log.
func prefix(key channel.Key) []byte {
	return []byte(fmt.Sprintf("msg:%s:%d:", key.Kind, key.ID))
}

// messageKey is formatted as "msg:{kind}:{id}:{unix_nano_padded}:{seq_padded}"
// so that a prefix scan yields messages in chronological order; the sequence
// keeps append order between messages stamped with the same microsecond.
func messageKey(key channel.Key, at time.Time, id int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%d:%019d:%019d", key.Kind, key.ID, at.UnixNano(), id))
}

// AppendMessage persists a message and assigns its timestamp.
func (m *MessageStore) AppendMessage(ctx context.Context, key channel.Key, sender *store.User, body string) (*store.Message, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("unsupported channel %s", key)
	}
	if sender == nil {
		return nil, errors.New("append message: nil sender")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	last, err := m.lastStamp(key)
	if err != nil {
		return nil, err
	}

	id, err := m.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("next message id: %w", err)
	}

	rec := record{
		// Badger sequences start at zero, SQL ids at one.
		ID:         int64(id) + 1,
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Body:       body,
		At:         store.NextStamp(time.Now(), last),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	if err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(key, rec.At, rec.ID), value)
	}); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	m.last[key] = rec.At

	return rec.toMessage(key), nil
}

// lastStamp returns the newest timestamp of a channel. Callers hold m.mu.
func (m *MessageStore) lastStamp(key channel.Key) (time.Time, error) {
	if at, ok := m.last[key]; ok {
		return at, nil
	}

	var at time.Time
	err := m.db.View(func(txn *badger.Txn) error {
		msgs, err := scan(txn, key, 1, true)
		if err != nil {
			return err
		}
		if len(msgs) == 1 {
			at = msgs[0].At
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("load last message: %w", err)
	}
	m.last[key] = at
	return at, nil
}

// History returns the channel's messages in chronological order.
func (m *MessageStore) History(ctx context.Context, key channel.Key, limit int) ([]*store.Message, error) {
	if !key.Valid() {
		return nil, fmt.Errorf("unsupported channel %s", key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []record
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		records, err = scan(txn, key, limit, limit > 0)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	if limit > 0 {
		for i := 0; i < len(records)/2; i++ {
			records[i], records[len(records)-1-i] = records[len(records)-1-i], records[i]
		}
	}

	messages := make([]*store.Message, 0, len(records))
	for _, rec := range records {
		messages = append(messages, rec.toMessage(key))
	}
	return messages, nil
}

// scan walks the channel prefix. With reverse set it starts from the newest
// message; limit <= 0 reads everything.
func scan(txn *badger.Txn, key channel.Key, limit int, reverse bool) ([]record, error) {
	p := prefix(key)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := p
	if reverse {
		seek = append(append([]byte{}, p...), 0xff)
	}

	var records []record
	for it.Seek(seek); it.ValidForPrefix(p); it.Next() {
		if limit > 0 && len(records) == limit {
			break
		}
		var rec record
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r record) toMessage(key channel.Key) *store.Message {
	return &store.Message{
		ID:         r.ID,
		Channel:    key,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Body:       r.Body,
		CreatedAt:  r.At.UTC(),
	}
}

// logAdapter routes badger's internal logging into zerolog.
type logAdapter struct {
	log *zerolog.Logger
}

func newLogAdapter(logger *zerolog.Logger) badger.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "badger").Logger()
	return &logAdapter{log: &l}
}

func (a *logAdapter) Errorf(format string, args ...any) {
	a.log.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *logAdapter) Warningf(format string, args ...any) {
	a.log.Warn().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *logAdapter) Infof(format string, args ...any) {
	a.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *logAdapter) Debugf(format string, args ...any) {
	a.log.Trace().Msg(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
