package models

import "time"

// SearchRequest is the body of POST /api/search. Dates are YYYY-MM-DD.
type SearchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	After         string   `json:"after,omitempty"`
	Before        string   `json:"before,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	FilePath     string     `json:"file_path"`
	FileName     string     `json:"file_name"`
	DateTaken    *time.Time `json:"date_taken,omitempty"`
	CameraModel  *string    `json:"camera_model,omitempty"`
	GPSLatitude  *float64   `json:"gps_latitude,omitempty"`
	GPSLongitude *float64   `json:"gps_longitude,omitempty"`
	Similarity   float64    `json:"similarity"`
}

// CatalogStats summarizes the catalog for /api/stats.
type CatalogStats struct {
	Photos        int64      `json:"photos"`
	WithDateTaken int64      `json:"with_date_taken"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	Dimension     int        `json:"dimension"`
}
