// Package probecache remembers audio file properties between library loads.
//
// Entries are keyed by path and invalidated when the file's size or
// modification time changes.
package probecache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwbudde/algo-sampler/audiofile"
)

type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open probe cache: %w", err)
	}
	// One connection keeps concurrent probe workers from tripping over
	// sqlite's writer lock.
	db.SetMaxOpenConns(1)
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func createTables(db *sql.DB) error {
	const probes = `
    CREATE TABLE IF NOT EXISTS probes (
        path TEXT PRIMARY KEY,
        size INTEGER NOT NULL,
        modtime INTEGER NOT NULL,
        samplerate REAL NOT NULL,
        channels INTEGER NOT NULL,
        frames INTEGER NOT NULL
    );
    `
	if _, err := db.Exec(probes); err != nil {
		return fmt.Errorf("create probes table: %w", err)
	}
	return nil
}

// Lookup returns the cached Info for path if size and modTime still match.
func (c *Cache) Lookup(path string, size int64, modTime time.Time) (audiofile.Info, bool, error) {
	var (
		info        audiofile.Info
		cachedSize  int64
		cachedModNs int64
	)
	row := c.db.QueryRow("SELECT size, modtime, samplerate, channels, frames FROM probes WHERE path = ?", path)
	err := row.Scan(&cachedSize, &cachedModNs, &info.SampleRate, &info.Channels, &info.TotalFrames)
	if errors.Is(err, sql.ErrNoRows) {
		return audiofile.Info{}, false, nil
	}
	if err != nil {
		return audiofile.Info{}, false, fmt.Errorf("probe cache lookup %s: %w", path, err)
	}
	if cachedSize != size || cachedModNs != modTime.UnixNano() {
		return audiofile.Info{}, false, nil
	}
	return info, true, nil
}

// Store records info for path.
func (c *Cache) Store(path string, size int64, modTime time.Time, info audiofile.Info) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO probes (path, size, modtime, samplerate, channels, frames) VALUES (?, ?, ?, ?, ?, ?)",
		path, size, modTime.UnixNano(), info.SampleRate, info.Channels, info.TotalFrames,
	)
	if err != nil {
		return fmt.Errorf("probe cache store %s: %w", path, err)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM probes").Scan(&n); err != nil {
		return 0, fmt.Errorf("probe cache count: %w", err)
	}
	return n, nil
}
