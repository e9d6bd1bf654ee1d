// Package search answers text queries against the photo catalog.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mypictures/internal/catalog"
	"mypictures/internal/config"
	"mypictures/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

var (
	ErrEmptyQuery = errors.New("search: empty query")
	ErrBadDate    = errors.New("search: invalid date, want YYYY-MM-DD")
)

const dateLayout = "2006-01-02"

type Searcher interface {
	Search(ctx context.Context, q catalog.Query) ([]models.SearchResult, error)
}

type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	searcher Searcher
	embedder TextEmbedder
	cfg      config.SearchConfig
	cache    *lru.Cache[string, []float32]
}

func NewService(s Searcher, e TextEmbedder, cfg config.SearchConfig) (*Service, error) {
	size := cfg.CacheSize
	if size < 1 {
		size = 1
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &Service{searcher: s, embedder: e, cfg: cfg, cache: cache}, nil
}

// Search embeds the query text and returns the nearest photos, most
// similar first. Results below the similarity threshold are dropped
// after the limit is applied, so fewer than limit rows may come back.
func (s *Service) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	after, err := ParseDate(req.After, false)
	if err != nil {
		return nil, err
	}
	before, err := ParseDate(req.Before, true)
	if err != nil {
		return nil, err
	}
	if after != nil && before != nil && after.After(*before) {
		return []models.SearchResult{}, nil
	}

	minSim := s.cfg.MinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	vec, err := s.embed(ctx, s.Expand(query))
	if err != nil {
		return nil, err
	}

	rows, err := s.searcher.Search(ctx, catalog.Query{
		Vector: vec,
		Limit:  s.limit(req.Limit),
		After:  after,
		Before: before,
	})
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}

	return Rank(rows, minSim), nil
}

// Expand prefixes short queries so they read like a caption.
func (s *Service) Expand(query string) string {
	prefix := s.cfg.ShortQueryPrefix
	if prefix == "" || len(strings.Fields(query)) >= s.cfg.ShortQueryWords {
		return query
	}
	if strings.HasPrefix(strings.ToLower(query), strings.ToLower(strings.TrimSpace(prefix))) {
		return query
	}
	return prefix + query
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := s.cache.Get(text); ok {
		logrus.Debugf("Query cache hit: %q", text)
		return vec, nil
	}
	vec, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	s.cache.Add(text, vec)
	return vec, nil
}

func (s *Service) limit(n int) int {
	switch {
	case n <= 0:
		return s.cfg.DefaultLimit
	case s.cfg.MaxLimit > 0 && n > s.cfg.MaxLimit:
		return s.cfg.MaxLimit
	}
	return n
}

// Rank drops rows below minSim and orders the rest by similarity,
// breaking ties by path.
func Rank(rows []models.SearchResult, minSim float64) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		if r.Similarity >= minSim {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].FilePath < out[j].FilePath
	})
	return out
}

// ParseDate parses a YYYY-MM-DD bound in UTC. With endOfDay the last
// representable instant of that day is returned so the bound is
// inclusive. An empty string means no bound.
func ParseDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadDate, s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return &t, nil
}
