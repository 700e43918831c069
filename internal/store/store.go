package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("archive not found")

const currentSchemaVersion = 1

// Store keeps named session archives: a snapshot of a room's committed
// operation sequence saved on request. Live room state is never
// persisted; rooms always boot empty and an archive only comes back
// through an explicit restore.
type Store struct {
	*sql.DB
}

func Open(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(4) // SQLite is single-writer; more connections just contend
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db}, nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS archives (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			name TEXT NOT NULL,
			ops TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_archives_room_id ON archives(room_id);
		CREATE INDEX IF NOT EXISTS idx_archives_created_at ON archives(created_at);
	`); err != nil {
		return err
	}
	if _, err := tx.Exec("PRAGMA user_version = 1"); err != nil {
		return err
	}
	return tx.Commit()
}

// Archive is one saved session snapshot. Ops holds the JSON-encoded
// committed operation sequence exactly as exported.
type Archive struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	Name      string          `json:"name"`
	Ops       json.RawMessage `json:"ops,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (s *Store) SaveArchive(id, roomID, name string, ops []byte) error {
	_, err := s.Exec(
		"INSERT INTO archives (id, room_id, name, ops, created_at) VALUES (?, ?, ?, ?, ?)",
		id, roomID, name, string(ops), time.Now(),
	)
	return err
}

func (s *Store) GetArchive(id string) (*Archive, error) {
	var a Archive
	var ops string
	err := s.QueryRow(
		"SELECT id, room_id, name, ops, created_at FROM archives WHERE id = ?", id,
	).Scan(&a.ID, &a.RoomID, &a.Name, &ops, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Ops = json.RawMessage(ops)
	return &a, nil
}

// ListArchives returns a room's archives newest first, without the op
// payloads.
func (s *Store) ListArchives(roomID string) ([]Archive, error) {
	rows, err := s.Query(
		"SELECT id, room_id, name, created_at FROM archives WHERE room_id = ? ORDER BY created_at DESC", roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	archives := []Archive{}
	for rows.Next() {
		var a Archive
		if err := rows.Scan(&a.ID, &a.RoomID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// PruneArchives deletes archives older than maxAge and reports how many
// went.
func (s *Store) PruneArchives(maxAge time.Duration) (int64, error) {
	result, err := s.Exec("DELETE FROM archives WHERE created_at < ?", time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
