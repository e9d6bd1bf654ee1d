package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var exifDateLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05.999999999",
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05.999999999Z07:00",
}

// FromFields maps exiftool JSON fields (run with -n, so values are
// numeric where exiftool can make them numeric) onto Metadata.
func FromFields(fields map[string]interface{}) *Metadata {
	md := &Metadata{
		CameraMake:  str(fields, "Make"),
		CameraModel: str(fields, "Model"),
		LensModel:   str(fields, "LensModel"),
	}

	if w, ok := num(fields, "ImageWidth"); ok {
		md.Width = int(w)
	}
	if h, ok := num(fields, "ImageHeight"); ok {
		md.Height = int(h)
	}
	md.Format = strings.ToUpper(str(fields, "FileType"))

	for _, key := range []string{"DateTimeOriginal", "CreateDate"} {
		if t, ok := parseExifDate(str(fields, key)); ok {
			md.DateTaken = &t
			break
		}
	}

	if iso, ok := num(fields, "ISO"); ok {
		v := int(iso)
		md.ISO = &v
	}
	if f, ok := num(fields, "FNumber"); ok && f > 0 {
		md.Aperture = &f
	}
	if fl, ok := num(fields, "FocalLength"); ok && fl > 0 {
		md.FocalLength = &fl
	}
	md.ShutterSpeed = shutterSpeed(fields["ExposureTime"])

	if flash, ok := num(fields, "Flash"); ok {
		if int(flash)&0x1 != 0 {
			md.Flash = "fired"
		} else {
			md.Flash = "not fired"
		}
	}

	md.GPSLatitude = coordinate(fields, "GPSLatitude", "GPSLatitudeRef", "S")
	md.GPSLongitude = coordinate(fields, "GPSLongitude", "GPSLongitudeRef", "W")
	if alt, ok := num(fields, "GPSAltitude"); ok {
		if ref, ok := num(fields, "GPSAltitudeRef"); ok && ref == 1 && alt > 0 {
			alt = -alt
		}
		md.GPSAltitude = &alt
	}

	return md
}

func parseExifDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.Trim(s, "\x00"))
	if s == "" || strings.HasPrefix(s, "0000") {
		return time.Time{}, false
	}
	for _, layout := range exifDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// shutterSpeed renders an exposure time as "1/250" when the numerator
// divides the denominator, otherwise as num/den ("3/10", "2/1").
func shutterSpeed(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		t = strings.TrimSpace(t)
		if n, d, ok := parseRational(t); ok {
			return exposure(n, d)
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return t
		}
		return shutterSpeed(f)
	case float64:
		if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		if n, d, ok := toRational(t); ok {
			return exposure(n, d)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return shutterSpeed(float64(t))
	case int64:
		return shutterSpeed(float64(t))
	}
	return ""
}

func exposure(n, d int64) string {
	if n <= 0 || d <= 0 {
		return ""
	}
	if d%n == 0 {
		return fmt.Sprintf("1/%d", d/n)
	}
	return fmt.Sprintf("%d/%d", n, d)
}

// maxExposureDen bounds the denominator search in toRational.
const maxExposureDen = 100000

// toRational recovers the smallest-denominator fraction within 0.01% of
// f. exiftool's numeric output turns the stored rational into a float.
func toRational(f float64) (int64, int64, bool) {
	for d := int64(1); d <= maxExposureDen; d++ {
		n := math.Round(f * float64(d))
		if n < 1 {
			continue
		}
		if math.Abs(n/float64(d)-f) <= 1e-4*f {
			return int64(n), d, true
		}
	}
	return 0, 0, false
}

func coordinate(fields map[string]interface{}, key, refKey, negRef string) *float64 {
	v, ok := num(fields, key)
	if !ok {
		return nil
	}
	if ref := strings.ToUpper(str(fields, refKey)); strings.HasPrefix(ref, negRef) && v > 0 {
		v = -v
	}
	return &v
}

func str(fields map[string]interface{}, key string) string {
	switch v := fields[key].(type) {
	case string:
		return strings.TrimSpace(strings.Trim(v, "\x00"))
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func num(fields map[string]interface{}, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if n, d, ok := parseRational(s); ok {
			if d == 0 {
				return 0, false
			}
			return float64(n) / float64(d), true
		}
		// exiftool reports e.g. ISO "100 200" for multi-valued tags
		if i := strings.IndexAny(s, " ,"); i > 0 {
			s = s[:i]
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func parseRational(s string) (int64, int64, bool) {
	a, b, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	d, err := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return n, d, true
}
