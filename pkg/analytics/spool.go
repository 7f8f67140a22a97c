package analytics

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/telemetry"
)

const spoolSchema = `
CREATE TABLE IF NOT EXISTS spooled_events (
	id          TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spooled_events_enqueued ON spooled_events(enqueued_at);
`

// Spool is a SQLite-backed buffer holding analytics events that could not
// be delivered. Events survive process restarts and are replayed in
// enqueue order. The spool is bounded; when full, the oldest events are
// evicted first.
type Spool struct {
	db        *sql.DB
	maxEvents int
	mu        sync.Mutex
}

// OpenSpool opens (or creates) a spool database at path.
func OpenSpool(path string, maxEvents int) (*Spool, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		// Spooled events can carry user identifiers; keep the directory private.
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "creating spool directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "opening spool database")
	}

	// WAL allows the flusher to read while Track keeps writing.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "enabling WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "setting busy timeout")
	}

	if _, err := db.Exec(spoolSchema); err != nil {
		db.Close()
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "creating spool schema")
	}

	if maxEvents <= 0 {
		maxEvents = 10000
	}

	return &Spool{db: db, maxEvents: maxEvents}, nil
}

// Enqueue stores an event for later delivery, evicting the oldest events
// when the spool is at capacity.
func (s *Spool) Enqueue(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "marshaling event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "starting transaction")
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM spooled_events").Scan(&count); err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolRead, "counting spooled events")
	}
	if count >= s.maxEvents {
		evict := count - s.maxEvents + 1
		_, err := tx.Exec(`DELETE FROM spooled_events WHERE id IN (
			SELECT id FROM spooled_events ORDER BY enqueued_at ASC LIMIT ?)`, evict)
		if err != nil {
			return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "evicting old events")
		}
	}

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO spooled_events (id, payload, enqueued_at) VALUES (?, ?, ?)",
		event.ID, payload, event.Timestamp.UnixNano(),
	)
	if err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "inserting event")
	}

	if err := tx.Commit(); err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "committing event")
	}

	s.updateGauge()
	return nil
}

// Peek returns up to limit spooled events in enqueue order without
// removing them. Rows whose payload no longer decodes are deleted, so
// they cannot wedge the flusher or count as pending forever.
func (s *Spool) Peek(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id, payload FROM spooled_events ORDER BY enqueued_at ASC LIMIT ?", limit)
	if err != nil {
		return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolRead, "reading spooled events")
	}
	defer rows.Close()

	var events []Event
	var corrupt []string
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolRead, "scanning spooled event")
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			corrupt = append(corrupt, id)
			continue
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return events, err
	}
	rows.Close()

	if len(corrupt) > 0 {
		if err := s.remove(corrupt); err != nil {
			return events, err
		}
	}
	return events, nil
}

// Remove deletes delivered events by ID.
func (s *Spool) Remove(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(ids)
}

// remove deletes events by ID. Callers must hold s.mu.
func (s *Spool) remove(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "starting transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM spooled_events WHERE id = ?")
	if err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "preparing delete")
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, fmt.Sprintf("deleting event %s", id))
		}
	}

	if err := tx.Commit(); err != nil {
		return sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolWrite, "committing deletes")
	}

	s.updateGauge()
	return nil
}

// Count returns the number of pending events.
func (s *Spool) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count()
}

func (s *Spool) count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM spooled_events").Scan(&count)
	if err != nil {
		return 0, sdkerrors.Wrap(err, sdkerrors.ErrCodeSpoolRead, "counting spooled events")
	}
	return count, nil
}

func (s *Spool) updateGauge() {
	if count, err := s.count(); err == nil {
		telemetry.SpooledEvents.Set(float64(count))
	}
}

// Close closes the spool database.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
