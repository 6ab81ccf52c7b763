package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens the storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT,
			key TEXT,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStorage) Open(name string) (Cache, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return sqliteCache{name: name, s: s}, nil
}

func (s *SQLiteStorage) Has(name string) (bool, error) {
	var found int
	err := s.db.QueryRow("SELECT 1 FROM generations WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM generations ORDER BY created_at, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	name string
	s    *SQLiteStorage
}

func (c sqliteCache) Name() string {
	return c.name
}

func (c sqliteCache) Get(key string) ([]byte, bool, error) {
	var bytes []byte
	err := c.s.db.QueryRow("SELECT bytes FROM entries WHERE generation = ? AND key = ?", c.name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (c sqliteCache) Put(key string, bytes []byte) error {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	now := time.Now().Unix()
	tx, err := c.s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)", c.name, now); err != nil {
		return err
	}
	_, err = tx.Exec("INSERT OR REPLACE INTO entries (generation, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		c.name, key, now, bytes)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (c sqliteCache) Keys() ([]string, error) {
	rows, err := c.s.db.Query("SELECT key FROM entries WHERE generation = ? ORDER BY key", c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (c sqliteCache) Purge(key string) error {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	_, err := c.s.db.Exec("DELETE FROM entries WHERE generation = ? AND key = ?", c.name, key)
	return err
}
