package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
)

// SQLiteStore implements Store using SQLite, optionally mirroring units into a keyword index.
type SQLiteStore struct {
	db       *sql.DB
	keywords *keyword.UnitIndex
	logger   *zap.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithKeywordIndex mirrors every mutation into idx and enables UnitFilter.Text queries.
func WithKeywordIndex(idx *keyword.UnitIndex) Option {
	return func(s *SQLiteStore) { s.keywords = idx }
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT,
		language TEXT,
		start_line INTEGER,
		end_line INTEGER,
		docstring TEXT,
		content TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_units_file_path ON units(file_path);
	CREATE INDEX IF NOT EXISTS idx_units_kind ON units(kind);
	`
	_, err := db.Exec(schema)
	return err
}

// ReplaceAll deletes every unit and inserts units in one transaction.
func (s *SQLiteStore) ReplaceAll(ctx context.Context, units []models.ExtractedUnit) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM units`); err != nil {
			return fmt.Errorf("clear units: %w", err)
		}
		return insertUnits(ctx, tx, units)
	})
	if err != nil {
		return err
	}
	if s.keywords != nil {
		if err := s.keywords.Reset(ctx); err != nil {
			return fmt.Errorf("reset keyword index: %w", err)
		}
		if err := s.keywords.Index(ctx, units); err != nil {
			return fmt.Errorf("index keywords: %w", err)
		}
	}
	s.debug("store replaced all units", zap.Int("units", len(units)))
	return nil
}

// Append inserts units in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, units []models.ExtractedUnit) error {
	if len(units) == 0 {
		return nil
	}
	if err := s.inTx(ctx, func(tx *sql.Tx) error { return insertUnits(ctx, tx, units) }); err != nil {
		return err
	}
	if s.keywords != nil {
		if err := s.keywords.Index(ctx, units); err != nil {
			return fmt.Errorf("index keywords: %w", err)
		}
	}
	s.debug("store appended units", zap.Int("units", len(units)))
	return nil
}

// DeleteByFile removes every unit whose file path is path.
func (s *SQLiteStore) DeleteByFile(ctx context.Context, path string) (int, error) {
	var ids []string
	if s.keywords != nil {
		var err error
		if ids, err = s.idsForFile(ctx, path); err != nil {
			return 0, err
		}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE file_path = ?`, path)
	if err != nil {
		return 0, fmt.Errorf("delete units for %s: %w", path, err)
	}
	n, _ := res.RowsAffected()
	if s.keywords != nil {
		if err := s.keywords.Delete(ctx, ids); err != nil {
			return int(n), fmt.Errorf("delete keywords for %s: %w", path, err)
		}
	}
	s.debug("store deleted file units", zap.String("path", path), zap.Int64("units", n))
	return int(n), nil
}

// Query returns units matching filter ordered by file path and start line. When filter.Text is set
// and a keyword index is attached, results are restricted to full-text matches in relevance order.
func (s *SQLiteStore) Query(ctx context.Context, filter models.UnitFilter) ([]models.ExtractedUnit, error) {
	var where []string
	var args []interface{}
	if filter.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, filter.FilePath)
	}
	if filter.PathPrefix != "" {
		where = append(where, "file_path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(filter.PathPrefix)+"%")
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	var rank map[string]int
	if filter.Text != "" {
		if s.keywords == nil {
			return nil, fmt.Errorf("text query requires a keyword index")
		}
		ids, err := s.keywords.Search(ctx, filter.Text, 1000)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		rank = make(map[string]int, len(ids))
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			rank[id] = i
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(placeholders, ",")+")")
	}

	q := `SELECT id, file_path, kind, name, language, start_line, end_line, docstring, content, metadata FROM units`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY file_path, start_line, id"
	if filter.Limit > 0 && rank == nil {
		q += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []models.ExtractedUnit
	for rows.Next() {
		var u models.ExtractedUnit
		var name, lang, doc, content, meta sql.NullString
		if err := rows.Scan(&u.ID, &u.FilePath, &u.Kind, &name, &lang, &u.StartLine, &u.EndLine, &doc, &content, &meta); err != nil {
			return nil, err
		}
		u.Name, u.Language, u.Docstring, u.Content = name.String, lang.String, doc.String, content.String
		if meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &u.Metadata)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if rank != nil {
		sortByRank(units, rank)
		if filter.Limit > 0 && len(units) > filter.Limit {
			units = units[:filter.Limit]
		}
	}
	return units, nil
}

// Count returns the total number of units.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) idsForFile(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM units WHERE file_path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("list units for %s: %w", path, err)
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

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) debug(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Debug(msg, fields...)
	}
}

func insertUnits(ctx context.Context, tx *sql.Tx, units []models.ExtractedUnit) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO units (id, file_path, kind, name, language, start_line, end_line, docstring, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, u := range units {
		var meta string
		if len(u.Metadata) > 0 {
			b, err := json.Marshal(u.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %s: %w", u.ID, err)
			}
			meta = string(b)
		}
		if _, err := stmt.ExecContext(ctx, u.ID, u.FilePath, u.Kind, u.Name, u.Language, u.StartLine, u.EndLine, u.Docstring, u.Content, meta, now); err != nil {
			return fmt.Errorf("insert unit %s: %w", u.ID, err)
		}
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func sortByRank(units []models.ExtractedUnit, rank map[string]int) {
	sort.SliceStable(units, func(i, j int) bool { return rank[units[i].ID] < rank[units[j].ID] })
}
