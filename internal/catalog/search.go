package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mypictures/internal/models"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/mod/semver"
)

// iterativeScanSince is the first pgvector release whose HNSW scan can
// keep walking the graph until a filtered query has enough rows.
const iterativeScanSince = "v0.8.0"

// Query is a nearest-neighbour request against the embedding column.
type Query struct {
	Vector []float32
	Limit  int
	After  *time.Time
	Before *time.Time
}

// buildSearchSQL returns the statement and arguments for q. Rows with a
// NULL date_taken fail any date comparison and are therefore excluded
// whenever a bound is set.
func buildSearchSQL(q Query) (string, []any) {
	args := []any{pgvector.NewVector(q.Vector)}
	var where []string

	if q.After != nil {
		args = append(args, *q.After)
		where = append(where, fmt.Sprintf("date_taken >= $%d", len(args)))
	}
	if q.Before != nil {
		args = append(args, *q.Before)
		where = append(where, fmt.Sprintf("date_taken <= $%d", len(args)))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	args = append(args, q.Limit)
	sql := fmt.Sprintf(`
		SELECT file_path, file_name, date_taken, camera_model,
		       gps_latitude, gps_longitude,
		       1 - (embedding <=> $1) AS similarity
		FROM photos
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, whereClause, len(args))

	return sql, args
}

func (q Query) filtered() bool {
	return q.After != nil || q.Before != nil
}

// filterSettings returns the statements that keep a date-filtered search
// from losing rows the approximate index never visited. With iterative
// scans the index keeps searching in distance order; older extensions
// fall back to an exact scan.
func filterSettings(extVersion string) []string {
	if semver.Compare("v"+extVersion, iterativeScanSince) >= 0 {
		return []string{"SET LOCAL hnsw.iterative_scan = strict_order"}
	}
	return []string{"SET LOCAL enable_indexscan = off"}
}

// Search returns up to q.Limit rows ordered by ascending cosine distance.
func (s *Store) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	if len(q.Vector) != s.dim {
		return nil, fmt.Errorf("%w: query vector has %d, catalog expects %d", ErrDimensionMismatch, len(q.Vector), s.dim)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// ef_search below the limit caps how many rows HNSW can return.
	ef := min(max(s.efSearch, q.Limit), 1000)
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	if q.filtered() {
		var version string
		if err := tx.QueryRow(ctx, "SELECT extversion FROM pg_extension WHERE extname = 'vector'").Scan(&version); err != nil {
			return nil, fmt.Errorf("vector extension version: %w", classify(err))
		}
		for _, stmt := range filterSettings(version) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("%s: %w", stmt, err)
			}
		}
	}

	sql, args := buildSearchSQL(q)
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", classify(err))
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var (
			r        models.SearchResult
			fileName *string
		)
		if err := rows.Scan(&r.FilePath, &fileName, &r.DateTaken, &r.CameraModel,
			&r.GPSLatitude, &r.GPSLongitude, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if fileName != nil {
			r.FileName = *fileName
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}
