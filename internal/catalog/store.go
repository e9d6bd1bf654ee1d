// Package catalog persists photo records and their embeddings in
// PostgreSQL with the pgvector extension. It also serves as the
// change-detection baseline for the indexer.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mypictures/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDimensionMismatch means the configured embedding width differs
	// from the catalog column. Run `mypictures migrate` to rebuild.
	ErrDimensionMismatch = errors.New("catalog: embedding dimension mismatch")

	ErrNotFound = errors.New("catalog: not found")
)

const deleteChunk = 1000

// Entry is the stored change-detection state of one file.
type Entry struct {
	Size  int64
	Mtime time.Time
	Hash  string
}

// SameStat reports whether size and mtime match st.
func (e Entry) SameStat(st models.FileStat) bool {
	return e.Size == st.Size && e.Mtime.Equal(st.Mtime)
}

type Store struct {
	db       *pgxpool.Pool
	dim      int
	efSearch int
}

// New wraps an open pool. dim is the configured embedding width.
func New(db *pgxpool.Pool, dim, efSearch int) *Store {
	return &Store{db: db, dim: dim, efSearch: efSearch}
}

// Connect opens a pool for connString.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Setup creates the extension, table and indexes if missing. An existing
// ivfflat embedding index is replaced with HNSW.
func (s *Store) Setup(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTableSQL(s.dim)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var def string
	err := s.db.QueryRow(ctx,
		"SELECT indexdef FROM pg_indexes WHERE indexname = $1", embeddingIndex,
	).Scan(&def)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("inspect embedding index: %w", err)
	case !strings.Contains(strings.ToLower(def), "hnsw"):
		logrus.Infof("Replacing embedding index: %s", def)
		if _, err := s.db.Exec(ctx, "DROP INDEX "+embeddingIndex); err != nil {
			return fmt.Errorf("drop embedding index: %w", err)
		}
	}

	if _, err := s.db.Exec(ctx, createEmbeddingIndexSQL); err != nil {
		return fmt.Errorf("create embedding index: %w", err)
	}
	return s.CheckDimension(ctx)
}

// ColumnDimension returns the declared width of photos.embedding.
func (s *Store) ColumnDimension(ctx context.Context) (int, error) {
	var typmod int
	err := s.db.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'photos'::regclass AND attname = 'embedding'
	`).Scan(&typmod)
	if err != nil {
		return 0, fmt.Errorf("read embedding column: %w", err)
	}
	return typmod, nil
}

// CheckDimension fails with ErrDimensionMismatch when the catalog column
// was created for a different model.
func (s *Store) CheckDimension(ctx context.Context) error {
	got, err := s.ColumnDimension(ctx)
	if err != nil {
		return err
	}
	if got != s.dim {
		return fmt.Errorf("%w: catalog has vector(%d), model produces %d", ErrDimensionMismatch, got, s.dim)
	}
	return nil
}

// Migrate resizes the embedding column to the configured width. All rows
// are deleted; a full re-index is required afterwards.
func (s *Store) Migrate(ctx context.Context) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP INDEX IF EXISTS "+embeddingIndex); err != nil {
		return 0, fmt.Errorf("drop embedding index: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM photos")
	if err != nil {
		return 0, fmt.Errorf("delete rows: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE photos ALTER COLUMN embedding TYPE vector(%d)", s.dim)); err != nil {
		return 0, fmt.Errorf("resize column: %w", err)
	}
	if _, err := tx.Exec(ctx, createEmbeddingIndexSQL); err != nil {
		return 0, fmt.Errorf("create embedding index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Baseline returns the change-detection state of every stored file.
func (s *Store) Baseline(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT file_path, file_size, file_mtime, file_hash FROM photos`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var (
			path  string
			size  *int64
			mtime *time.Time
			hash  *string
		)
		if err := rows.Scan(&path, &size, &mtime, &hash); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var e Entry
		if size != nil {
			e.Size = *size
		}
		if mtime != nil {
			e.Mtime = mtime.UTC()
		}
		if hash != nil {
			e.Hash = *hash
		}
		out[path] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces p, keyed by file path, in one transaction.
func (s *Store) Upsert(ctx context.Context, p *models.Photo) error {
	if n := len(p.Embedding.Slice()); n != s.dim {
		return fmt.Errorf("%w: got vector of %d, catalog expects %d", ErrDimensionMismatch, n, s.dim)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, upsertSQL,
		p.FilePath, p.FileName, p.FileSize, p.FileHash, p.FileMtime,
		nullInt(p.Width), nullInt(p.Height), nullString(p.Format),
		p.DateTaken,
		nullString(p.CameraMake), nullString(p.CameraModel), nullString(p.LensModel),
		p.ISO, p.Aperture, nullString(p.ShutterSpeed), p.FocalLength, nullString(p.Flash),
		p.GPSLatitude, p.GPSLongitude, p.GPSAltitude,
		p.Embedding,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", p.FilePath, classify(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", p.FilePath, err)
	}
	return nil
}

// TouchMtime records a new size/mtime for a file whose content is
// unchanged.
func (s *Store) TouchMtime(ctx context.Context, path string, st models.FileStat) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE photos
		SET file_size = $2,
		    file_mtime = $3,
		    date_modified = $3
		WHERE file_path = $1
	`, path, st.Size, st.Mtime)
	if err != nil {
		return fmt.Errorf("touch %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("touch %s: %w", path, ErrNotFound)
	}
	return nil
}

// Delete removes the given paths and returns the number of rows deleted.
func (s *Store) Delete(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for start := 0; start < len(paths); start += deleteChunk {
		end := min(start+deleteChunk, len(paths))
		tag, err := tx.Exec(ctx, "DELETE FROM photos WHERE file_path = ANY($1)", paths[start:end])
		if err != nil {
			return 0, fmt.Errorf("delete: %w", err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// Stats summarizes the catalog.
func (s *Store) Stats(ctx context.Context) (models.CatalogStats, error) {
	st := models.CatalogStats{Dimension: s.dim}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(date_taken), MAX(date_indexed) FROM photos
	`).Scan(&st.Photos, &st.WithDateTaken, &st.LastIndexedAt)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// classify maps pgvector's dimension check onto ErrDimensionMismatch.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.Contains(pgErr.Message, "dimensions") {
		return fmt.Errorf("%w: %s", ErrDimensionMismatch, pgErr.Message)
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
