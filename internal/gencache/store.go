package gencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
)

// Store persists cache entries. Entries are inserted and deleted, never updated.
type Store interface {
	Insert(ctx context.Context, entry models.CacheEntry) error
	// GetByExactHash returns every entry with the hash, newest first.
	GetByExactHash(ctx context.Context, hash string) ([]models.CacheEntry, error)
	Get(ctx context.Context, id string) (models.CacheEntry, bool, error)
	All(ctx context.Context) ([]models.CacheEntry, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
	// Expired returns up to limit IDs of entries expired at now, oldest first.
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// SQLiteStore keeps cache entries in a SQLite table with the prompt embedding as a BLOB.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// StoreOption configures a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithStoreLogger sets the logger used for corrupt-row warnings.
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens or creates the cache database at dbPath.
func NewSQLiteStore(dbPath string, opts ...StoreOption) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		id TEXT PRIMARY KEY,
		exact_hash TEXT NOT NULL,
		embedding BLOB,
		system_prompt TEXT,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		temperature REAL NOT NULL,
		model_name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		ttl_seconds INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_exact_hash ON cache_entries(exact_hash);
	CREATE INDEX IF NOT EXISTS idx_cache_created_at ON cache_entries(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	s := &SQLiteStore{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

const entryColumns = `id, exact_hash, embedding, system_prompt, prompt, response, temperature, model_name, created_at, ttl_seconds`

// Insert adds entry. An existing ID is an error.
func (s *SQLiteStore) Insert(ctx context.Context, e models.CacheEntry) error {
	var blob []byte
	if len(e.Embedding) > 0 {
		blob = vector.Encode(e.Embedding)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ExactHash, blob, e.SystemPrompt, e.Prompt, e.Response, e.Temperature, e.ModelName,
		e.CreatedAt.UnixNano(), e.TTLSeconds)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByExactHash(ctx context.Context, hash string) ([]models.CacheEntry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM cache_entries WHERE exact_hash = ? ORDER BY created_at DESC, id`, hash)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.CacheEntry, bool, error) {
	entries, err := s.query(ctx, `SELECT `+entryColumns+` FROM cache_entries WHERE id = ?`, id)
	if err != nil || len(entries) == 0 {
		return models.CacheEntry{}, false, err
	}
	return entries[0], true, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]models.CacheEntry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM cache_entries ORDER BY created_at, id`)
}

// Delete removes the entries with the given IDs and returns how many existed.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Expired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM cache_entries WHERE created_at + ttl_seconds * 1000000000 <= ? ORDER BY created_at, id LIMIT ?`,
		now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired cache entries: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// query scans rows into entries. A row whose embedding cannot be decoded keeps its text and loses
// its vector, so it still serves the exact-match tier.
func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]models.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer rows.Close()
	var out []models.CacheEntry
	for rows.Next() {
		var e models.CacheEntry
		var blob []byte
		var system sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &e.ExactHash, &blob, &system, &e.Prompt, &e.Response, &e.Temperature, &e.ModelName, &created, &e.TTLSeconds); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		e.SystemPrompt = system.String
		e.CreatedAt = time.Unix(0, created).UTC()
		if len(blob) > 0 {
			vec, err := vector.Decode(blob)
			if err != nil {
				s.logger.Warn("Dropping corrupt cache embedding", zap.String("id", e.ID), zap.Error(err))
			} else {
				e.Embedding = vec
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
