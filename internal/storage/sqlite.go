package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tazhate/tododav/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER UNIQUE NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'owner',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		// Snapshot of the last fetch, single row
		`CREATE TABLE IF NOT EXISTS cache_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			fetched_at DATETIME NOT NULL,
			selection TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS cache_items (
			position INTEGER PRIMARY KEY,
			uid TEXT NOT NULL,
			contents TEXT NOT NULL DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0,
			calendar TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			etag TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_items_uid ON cache_items(uid)`,
		// Digest opt-out per user
		`ALTER TABLE users ADD COLUMN digest INTEGER NOT NULL DEFAULT 1`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

func (s *Storage) CreateUser(u *domain.User) error {
	res, err := s.db.Exec(
		`INSERT INTO users (telegram_id, name, role, digest) VALUES (?, ?, ?, ?)`,
		u.TelegramID, u.Name, u.Role, u.Digest,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetUserByTelegramID(telegramID int64) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT id, telegram_id, name, role, digest, created_at FROM users WHERE telegram_id = ?`,
		telegramID,
	).Scan(&u.ID, &u.TelegramID, &u.Name, &u.Role, &u.Digest, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users
func (s *Storage) ListUsers() ([]*domain.User, error) {
	rows, err := s.db.Query(`SELECT id, telegram_id, name, role, digest, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Name, &u.Role, &u.Digest, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserDigest turns the morning digest on or off
func (s *Storage) SetUserDigest(telegramID int64, enabled bool) error {
	_, err := s.db.Exec(`UPDATE users SET digest = ? WHERE telegram_id = ?`, enabled, telegramID)
	return err
}

// === Cache ===

// CachedTodo is one persisted cache entry with the object it was built from
type CachedTodo struct {
	UID       string
	Contents  string
	Completed bool
	Calendar  string
	Location  string
	ETag      string
	Data      string
}

// CacheSnapshot is the persisted form of the last fetch
type CacheSnapshot struct {
	FetchedAt time.Time
	Selection string
	Items     []CachedTodo
}

// SaveCache replaces the stored snapshot
func (s *Storage) SaveCache(snap *CacheSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cache_items`); err != nil {
		return fmt.Errorf("clear cache items: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO cache_meta (id, fetched_at, selection) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET fetched_at = excluded.fetched_at, selection = excluded.selection`,
		snap.FetchedAt.UTC(), snap.Selection,
	); err != nil {
		return fmt.Errorf("save cache meta: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO cache_items (position, uid, contents, completed, calendar, location, etag, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, it := range snap.Items {
		if _, err := stmt.Exec(i, it.UID, it.Contents, it.Completed, it.Calendar, it.Location, it.ETag, it.Data); err != nil {
			return fmt.Errorf("save cache item %s: %w", it.UID, err)
		}
	}

	return tx.Commit()
}

// LoadCache returns the stored snapshot, or nil if nothing was saved yet
func (s *Storage) LoadCache() (*CacheSnapshot, error) {
	snap := &CacheSnapshot{}
	err := s.db.QueryRow(`SELECT fetched_at, selection FROM cache_meta WHERE id = 1`).
		Scan(&snap.FetchedAt, &snap.Selection)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cache meta: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT uid, contents, completed, calendar, location, etag, data
		 FROM cache_items ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("load cache items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it CachedTodo
		if err := rows.Scan(&it.UID, &it.Contents, &it.Completed, &it.Calendar, &it.Location, &it.ETag, &it.Data); err != nil {
			return nil, err
		}
		snap.Items = append(snap.Items, it)
	}
	return snap, rows.Err()
}

// ClearCache drops the stored snapshot
func (s *Storage) ClearCache() error {
	if _, err := s.db.Exec(`DELETE FROM cache_items`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM cache_meta`)
	return err
}
