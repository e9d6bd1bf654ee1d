// Package config loads the mypictures configuration.
//
// Settings come from a YAML file (default ./mypictures.yaml, optional) and
// are then overridden by environment variables, so a deployment can keep
// credentials out of the file:
//
//	DATABASE_URL                          full connection string
//	DB_HOST DB_PORT DB_NAME DB_USER DB_PASSWORD
//	MYPICTURES_SCAN_PATHS                 list separated by os.PathListSeparator
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// DefaultFile is read when no explicit path is given.
const DefaultFile = "mypictures.yaml"

type Config struct {
	ScanPaths   []string       `yaml:"scan_paths"`
	DatabaseURL string         `yaml:"database_url,omitempty"`
	DB          DatabaseConfig `yaml:"db"`
	Model       ModelConfig    `yaml:"model"`
	Index       IndexConfig    `yaml:"index"`
	Search      SearchConfig   `yaml:"search"`
	Server      ServerConfig   `yaml:"server"`
	LogLevel    string         `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
}

// ModelConfig points at the exported CLIP towers.
type ModelConfig struct {
	VisionPath    string `yaml:"vision_path"`
	TextPath      string `yaml:"text_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	ORTLibrary    string `yaml:"ort_library"`

	// Dimension is the embedding width stored in the catalog. Changing it
	// requires `mypictures migrate`.
	Dimension     int `yaml:"dimension"`
	ImageSize     int `yaml:"image_size"`
	ContextLength int `yaml:"context_length"`

	VisionInput  string `yaml:"vision_input"`
	VisionOutput string `yaml:"vision_output"`
	TextOutput   string `yaml:"text_output"`
}

type IndexConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type SearchConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	MaxLimit         int     `yaml:"max_limit"`
	MinSimilarity    float64 `yaml:"min_similarity"`
	ShortQueryWords  int     `yaml:"short_query_words"`
	ShortQueryPrefix string  `yaml:"short_query_prefix"`
	CacheSize        int     `yaml:"cache_size"`
	EfSearch         int     `yaml:"ef_search"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	workers := runtime.NumCPU() * 3 / 4
	if workers < 1 {
		workers = 1
	}
	return &Config{
		ScanPaths: []string{"~/Pictures"},
		DB: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			Name: "mypictures",
			User: "postgres",
		},
		Model: ModelConfig{
			VisionPath:    "./model/vision.onnx",
			TextPath:      "./model/text.onnx",
			TokenizerPath: "./model/tokenizer.json",
			ORTLibrary:    "./model/libonnxruntime.so",
			Dimension:     768,
			ImageSize:     224,
			ContextLength: 77,
			VisionInput:   "pixel_values",
			VisionOutput:  "image_embeds",
			TextOutput:    "text_embeds",
		},
		Index: IndexConfig{
			Workers:   workers,
			QueueSize: 32,
		},
		Search: SearchConfig{
			DefaultLimit:     20,
			MaxLimit:         200,
			MinSimilarity:    0.2,
			ShortQueryWords:  3,
			ShortQueryPrefix: "a photo of ",
			CacheSize:        256,
			EfSearch:         100,
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		LogLevel: "info",
	}
}

// Load reads path (or DefaultFile when path is empty) on top of the
// defaults and applies environment overrides. A missing default file is
// not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.DB.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DB_PORT: %w", err)
		}
		c.DB.Port = port
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DB.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.DB.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DB.Password = v
	}
	if v := os.Getenv("MYPICTURES_SCAN_PATHS"); v != "" {
		c.ScanPaths = filepath.SplitList(v)
	}
	return nil
}

// Validate rejects settings the indexer or search service cannot run with.
func (c *Config) Validate() error {
	if len(c.ScanPaths) == 0 {
		return errors.New("config: no scan_paths")
	}
	if c.Model.Dimension <= 0 {
		return fmt.Errorf("config: model.dimension must be positive, got %d", c.Model.Dimension)
	}
	if c.Model.ImageSize <= 0 || c.Model.ContextLength <= 0 {
		return errors.New("config: model.image_size and model.context_length must be positive")
	}
	if c.Index.Workers < 1 {
		c.Index.Workers = 1
	}
	if c.Index.QueueSize < 1 {
		c.Index.QueueSize = 1
	}
	if c.Search.DefaultLimit <= 0 {
		return errors.New("config: search.default_limit must be positive")
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		c.Search.MaxLimit = c.Search.DefaultLimit
	}
	return nil
}

// ConnString returns DatabaseURL, or builds a URL from the db section.
func (c *Config) ConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:   "/" + c.DB.Name,
	}
	switch {
	case c.DB.User != "" && c.DB.Password != "":
		u.User = url.UserPassword(c.DB.User, c.DB.Password)
	case c.DB.User != "":
		u.User = url.User(c.DB.User)
	}
	return u.String()
}

// ResolvedScanPaths expands "~", makes each path absolute and resolves
// symlinks where the path exists.
func (c *Config) ResolvedScanPaths() ([]string, error) {
	out := make([]string, 0, len(c.ScanPaths))
	for _, p := range c.ScanPaths {
		resolved, err := ExpandPath(p)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// ExpandPath expands a leading "~" and returns a clean absolute path.
func ExpandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", p, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}
