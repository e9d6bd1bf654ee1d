package metadata

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// previewTags are tried in order when a camera RAW or HEIF file has to be
// decoded through its embedded JPEG.
var previewTags = []string{"JpgFromRaw", "PreviewImage", "LargestImagePreview", "OtherImage", "ThumbnailImage"}

var rawExts = map[string]bool{
	".cr2": true, ".cr3": true, ".nef": true, ".arw": true, ".dng": true,
	".orf": true, ".rw2": true, ".pef": true, ".heic": true, ".heif": true,
}

// Extractor reads image metadata. One exiftool process is kept open for
// the lifetime of the Extractor; without exiftool on PATH only header
// information is returned.
type Extractor struct {
	mu sync.Mutex
	et *exiftool.Exiftool
}

func NewExtractor() *Extractor {
	et, err := exiftool.NewExiftool(exiftool.NoPrintConversion())
	if err != nil {
		logrus.Warnf("exiftool unavailable, EXIF fields will be empty: %v", err)
		return &Extractor{}
	}
	return &Extractor{et: et}
}

// Extract returns header and EXIF metadata for path.
func (x *Extractor) Extract(ctx context.Context, path string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	md := &Metadata{}
	if fields := x.fields(path); fields != nil {
		md = FromFields(fields)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if cfg, format, err := image.DecodeConfig(f); err == nil {
		md.Width, md.Height = cfg.Width, cfg.Height
		md.Format = strings.ToUpper(format)
	}
	if md.Format == "" {
		md.Format = formatFromExt(path)
	}

	return md, nil
}

func (x *Extractor) fields(path string) map[string]interface{} {
	if x.et == nil {
		return nil
	}

	x.mu.Lock()
	infos := x.et.ExtractMetadata(path)
	x.mu.Unlock()

	if len(infos) == 0 {
		return nil
	}
	if infos[0].Err != nil {
		logrus.WithField("path", path).Debugf("exiftool: %v", infos[0].Err)
		return nil
	}
	return infos[0].Fields
}

// Decode returns the pixels of path, oriented per EXIF.
func (x *Extractor) Decode(ctx context.Context, path string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rawExts[strings.ToLower(filepath.Ext(path))] {
		return x.decodePreview(ctx, path)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return img, nil
}

func (x *Extractor) decodePreview(ctx context.Context, path string) (image.Image, error) {
	if x.et == nil {
		return nil, fmt.Errorf("%w: %s needs exiftool", ErrUnsupported, filepath.Ext(path))
	}

	for _, tag := range previewTags {
		out, err := exec.CommandContext(ctx, "exiftool", "-b", "-"+tag, path).Output()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if len(out) == 0 {
			continue
		}
		img, err := imaging.Decode(bytes.NewReader(out), imaging.AutoOrientation(true))
		if err == nil {
			return img, nil
		}
	}

	return nil, fmt.Errorf("%w: no decodable preview in %s", ErrUnsupported, filepath.Base(path))
}

func (x *Extractor) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.et != nil {
		x.et.Close()
		x.et = nil
	}
}
