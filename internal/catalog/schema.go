package catalog

import "fmt"

const embeddingIndex = "photos_embedding_idx"

func createTableSQL(dim int) string {
	return fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS photos (
			id              BIGSERIAL PRIMARY KEY,
			file_path       TEXT UNIQUE NOT NULL,
			file_name       TEXT,
			file_size       BIGINT,
			file_hash       TEXT,
			file_mtime      TIMESTAMPTZ,
			width           INTEGER,
			height          INTEGER,
			format          TEXT,
			date_taken      TIMESTAMPTZ,
			date_modified   TIMESTAMPTZ,
			date_indexed    TIMESTAMPTZ DEFAULT NOW(),
			camera_make     TEXT,
			camera_model    TEXT,
			lens_model      TEXT,
			iso             INTEGER,
			aperture        REAL,
			shutter_speed   TEXT,
			focal_length    REAL,
			flash           TEXT,
			gps_latitude    DOUBLE PRECISION,
			gps_longitude   DOUBLE PRECISION,
			gps_altitude    DOUBLE PRECISION,
			embedding       vector(%d)
		);

		ALTER TABLE photos ADD COLUMN IF NOT EXISTS file_mtime TIMESTAMPTZ;

		CREATE INDEX IF NOT EXISTS photos_hash_idx ON photos (file_hash);
		CREATE INDEX IF NOT EXISTS photos_date_taken_idx ON photos (date_taken);
	`, dim)
}

// HNSW keeps recall high without the training step ivfflat needs.
const createEmbeddingIndexSQL = `
	CREATE INDEX IF NOT EXISTS ` + embeddingIndex + `
		ON photos USING hnsw (embedding vector_cosine_ops)
`

const upsertSQL = `
	INSERT INTO photos (
		file_path, file_name, file_size, file_hash, file_mtime,
		width, height, format,
		date_taken, date_modified, date_indexed,
		camera_make, camera_model, lens_model,
		iso, aperture, shutter_speed, focal_length, flash,
		gps_latitude, gps_longitude, gps_altitude,
		embedding
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, $5, NOW(),
		$10, $11, $12,
		$13, $14, $15, $16, $17,
		$18, $19, $20,
		$21
	)
	ON CONFLICT (file_path) DO UPDATE SET
		file_name     = EXCLUDED.file_name,
		file_size     = EXCLUDED.file_size,
		file_hash     = EXCLUDED.file_hash,
		file_mtime    = EXCLUDED.file_mtime,
		width         = EXCLUDED.width,
		height        = EXCLUDED.height,
		format        = EXCLUDED.format,
		date_taken    = EXCLUDED.date_taken,
		date_modified = EXCLUDED.date_modified,
		date_indexed  = NOW(),
		camera_make   = EXCLUDED.camera_make,
		camera_model  = EXCLUDED.camera_model,
		lens_model    = EXCLUDED.lens_model,
		iso           = EXCLUDED.iso,
		aperture      = EXCLUDED.aperture,
		shutter_speed = EXCLUDED.shutter_speed,
		focal_length  = EXCLUDED.focal_length,
		flash         = EXCLUDED.flash,
		gps_latitude  = EXCLUDED.gps_latitude,
		gps_longitude = EXCLUDED.gps_longitude,
		gps_altitude  = EXCLUDED.gps_altitude,
		embedding     = EXCLUDED.embedding
`
