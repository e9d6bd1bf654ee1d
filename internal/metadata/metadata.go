// Package metadata reads everything the catalog stores about an image
// file without touching the catalog: filesystem stat, content digest,
// header dimensions and EXIF fields.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mypictures/internal/models"
)

// ErrUnsupported is returned by Decode for files no decoder can read.
var ErrUnsupported = errors.New("metadata: unsupported format")

// Metadata is the header and EXIF information of one image.
type Metadata struct {
	Width        int
	Height       int
	Format       string
	DateTaken    *time.Time
	CameraMake   string
	CameraModel  string
	LensModel    string
	ISO          *int
	Aperture     *float64
	ShutterSpeed string
	FocalLength  *float64
	Flash        string
	GPSLatitude  *float64
	GPSLongitude *float64
	GPSAltitude  *float64
}

// Stat returns size and mtime. Mtime is UTC at microsecond precision so
// it compares equal after a round trip through TIMESTAMPTZ.
func Stat(path string) (models.FileStat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.FileStat{}, err
	}
	if !info.Mode().IsRegular() {
		return models.FileStat{}, fmt.Errorf("%s: not a regular file", path)
	}
	return models.FileStat{
		Size:  info.Size(),
		Mtime: NormalizeTime(info.ModTime()),
	}, nil
}

// NormalizeTime truncates t to the precision the catalog keeps.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// HashFile returns the hex SHA-256 of the file content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// formatFromExt is the fallback format name, e.g. "CR3".
func formatFromExt(path string) string {
	return strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))
}
