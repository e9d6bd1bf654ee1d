package models

import (
	"time"

	pgvector "github.com/pgvector/pgvector-go"
)

// Photo is one catalog row. FilePath is the natural key.
type Photo struct {
	FilePath     string          `db:"file_path" json:"file_path"`
	FileName     string          `db:"file_name" json:"file_name"`
	FileSize     int64           `db:"file_size" json:"file_size"`
	FileHash     string          `db:"file_hash" json:"-"`
	FileMtime    time.Time       `db:"file_mtime" json:"file_mtime"`
	Width        int             `db:"width" json:"width,omitempty"`
	Height       int             `db:"height" json:"height,omitempty"`
	Format       string          `db:"format" json:"format,omitempty"`
	DateTaken    *time.Time      `db:"date_taken" json:"date_taken,omitempty"`
	CameraMake   string          `db:"camera_make" json:"camera_make,omitempty"`
	CameraModel  string          `db:"camera_model" json:"camera_model,omitempty"`
	LensModel    string          `db:"lens_model" json:"lens_model,omitempty"`
	ISO          *int            `db:"iso" json:"iso,omitempty"`
	Aperture     *float64        `db:"aperture" json:"aperture,omitempty"`
	ShutterSpeed string          `db:"shutter_speed" json:"shutter_speed,omitempty"`
	FocalLength  *float64        `db:"focal_length" json:"focal_length,omitempty"`
	Flash        string          `db:"flash" json:"flash,omitempty"`
	GPSLatitude  *float64        `db:"gps_latitude" json:"gps_latitude,omitempty"`
	GPSLongitude *float64        `db:"gps_longitude" json:"gps_longitude,omitempty"`
	GPSAltitude  *float64        `db:"gps_altitude" json:"gps_altitude,omitempty"`
	Embedding    pgvector.Vector `db:"embedding" json:"-"`
	IndexedAt    time.Time       `db:"date_indexed" json:"indexed_at"`
}

// FileStat holds the cheap change signals read from the filesystem.
type FileStat struct {
	Size  int64
	Mtime time.Time
}

// SameStat reports whether the stored size and mtime match s.
func (p *Photo) SameStat(s FileStat) bool {
	return p.FileSize == s.Size && p.FileMtime.Equal(s.Mtime)
}
