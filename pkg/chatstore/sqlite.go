package chatstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps the message cache across client restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ MessageStore = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile derives a DSN with sane defaults for a local cache file.
func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000", nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			room_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			author_id INTEGER NOT NULL,
			author_name TEXT NOT NULL,
			body TEXT NOT NULL,
			sent_at_ms INTEGER NOT NULL,
			PRIMARY KEY (room_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_room ON messages(room_id, sent_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, msg Message) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("sqlite store: db is nil")
	}
	if msg.ID == "" {
		return false, errors.New("sqlite store: message id is empty")
	}
	if msg.RoomID == "" {
		return false, errors.New("sqlite store: room id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (room_id, message_id, author_id, author_name, body, sent_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.RoomID, msg.ID, msg.AuthorID, msg.AuthorName, msg.Body, sentAt.UnixMilli())
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: append")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "sqlite store: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, roomID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, author_id, author_name, body, sent_at_ms
		 FROM messages WHERE room_id = ? ORDER BY sent_at_ms ASC, message_id ASC`, roomID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query messages")
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		var sentAtMs int64
		if err := rows.Scan(&m.ID, &m.AuthorID, &m.AuthorName, &m.Body, &sentAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan message")
		}
		m.RoomID = roomID
		m.SentAt = time.UnixMilli(sentAtMs)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastMessage(ctx context.Context, roomID string) (Message, bool, error) {
	if s == nil || s.db == nil {
		return Message{}, false, errors.New("sqlite store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, author_id, author_name, body, sent_at_ms
		 FROM messages WHERE room_id = ? ORDER BY sent_at_ms DESC, message_id DESC LIMIT 1`, roomID)
	var m Message
	var sentAtMs int64
	switch err := row.Scan(&m.ID, &m.AuthorID, &m.AuthorName, &m.Body, &sentAtMs); {
	case err == sql.ErrNoRows:
		return Message{}, false, nil
	case err != nil:
		return Message{}, false, errors.Wrap(err, "sqlite store: last message")
	}
	m.RoomID = roomID
	m.SentAt = time.UnixMilli(sentAtMs)
	return m, true, nil
}
