// Package config loads service settings from .env, an optional YAML file and
// the process environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxWindowCap is the largest number of pages one invoice may span.
const MaxWindowCap = 10

// Role names the front-end a config is validated for.
type Role string

const (
	RoleCLI    Role = "cli"
	RoleServer Role = "server"
	RoleWorker Role = "worker"
)

// Classifier backends.
const (
	ClassifierOpenAI    = "openai"
	ClassifierAzure     = "azure"
	ClassifierTesseract = "tesseract"
)

// Record backends.
const (
	RecordsAPI = "api"
	RecordsDB  = "db"
)

// Config holds every setting a pipeline run and its front-ends need.
type Config struct {
	APIURL      string        `yaml:"api_url"`
	OutputDir   string        `yaml:"output_dir"`
	Port        string        `yaml:"port"`
	LogLevel    string        `yaml:"log_level"`
	DebugLog    bool          `yaml:"debug_log"`
	Concurrency int           `yaml:"concurrency"`
	Classifier  Classifier    `yaml:"classifier"`
	Azure       Azure         `yaml:"azure"`
	Storage     Storage       `yaml:"storage"`
	Queue       Queue         `yaml:"queue"`
	Records     Records       `yaml:"records"`
	Segmenter   Segmentation  `yaml:"segmentation"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// Classifier selects and tunes the page classifier.
type Classifier struct {
	Backend       string        `yaml:"backend"`
	OpenAIAPIKey  string        `yaml:"openai_api_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	RPM           int           `yaml:"rpm"`
	Language      string        `yaml:"language"`
}

// Azure holds Computer Vision credentials for the OCR classifier.
type Azure struct {
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
}

// Storage configures the object storage gateway. An empty bucket selects the
// local directory store under LocalDir.
type Storage struct {
	S3Bucket string `yaml:"s3_bucket"`
	LocalDir string `yaml:"local_dir"`
}

// Queue configures the SQS worker.
type Queue struct {
	URL      string        `yaml:"url"`
	WaitTime time.Duration `yaml:"wait_time"`
}

// Records selects where invoice records are persisted.
type Records struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
}

// Segmentation tunes window search and rasterization.
type Segmentation struct {
	MaxWindow int `yaml:"max_window"`
	RenderDPI int `yaml:"render_dpi"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		OutputDir:   "output",
		Port:        "8080",
		LogLevel:    "info",
		Concurrency: 2,
		Classifier: Classifier{
			Backend:  ClassifierOpenAI,
			Model:    "gpt-4o",
			Timeout:  60 * time.Second,
			Language: "eng",
		},
		Storage:     Storage{LocalDir: "uploads"},
		Queue:       Queue{WaitTime: 20 * time.Second},
		Records:     Records{Backend: RecordsAPI},
		Segmenter:   Segmentation{MaxWindow: MaxWindowCap, RenderDPI: 200},
		HTTPTimeout: 30 * time.Second,
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then environment overrides, and normalizes the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.APIURL, "API_URL")
	setString(&c.OutputDir, "OUTPUT_DIR")
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Classifier.Backend, "CLASSIFIER")
	setString(&c.Classifier.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.Classifier.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&c.Classifier.Model, "OPENAI_MODEL")
	setString(&c.Classifier.Language, "OCR_LANGUAGE")
	setString(&c.Azure.Endpoint, "AZURE_VISION_ENDPOINT")
	setString(&c.Azure.Key, "AZURE_VISION_KEY")
	setString(&c.Storage.S3Bucket, "S3_BUCKET_NAME")
	setString(&c.Storage.LocalDir, "UPLOAD_DIR")
	setString(&c.Queue.URL, "SQS_QUEUE_URL")
	setString(&c.Records.Backend, "RECORDS_BACKEND")
	setString(&c.Records.DatabaseURL, "DATABASE_URL")

	var errs []error
	errs = append(errs,
		setBool(&c.DebugLog, "DEBUG_LOG"),
		setInt(&c.Concurrency, "CONCURRENCY"),
		setInt(&c.Classifier.RPM, "ORACLE_RPM"),
		setInt(&c.Segmenter.MaxWindow, "MAX_WINDOW"),
		setInt(&c.Segmenter.RenderDPI, "RENDER_DPI"),
		setDuration(&c.Classifier.Timeout, "ORACLE_TIMEOUT"),
		setDuration(&c.HTTPTimeout, "HTTP_TIMEOUT"),
	)
	return errors.Join(errs...)
}

func (c *Config) normalize() {
	d := Default()
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.Classifier.Backend = strings.ToLower(strings.TrimSpace(c.Classifier.Backend))
	c.Records.Backend = strings.ToLower(strings.TrimSpace(c.Records.Backend))
	if c.Segmenter.MaxWindow <= 0 || c.Segmenter.MaxWindow > MaxWindowCap {
		c.Segmenter.MaxWindow = MaxWindowCap
	}
	if c.Segmenter.RenderDPI <= 0 {
		c.Segmenter.RenderDPI = d.Segmenter.RenderDPI
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = d.Classifier.Timeout
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.Queue.WaitTime <= 0 || c.Queue.WaitTime > 20*time.Second {
		c.Queue.WaitTime = d.Queue.WaitTime
	}
	if c.OutputDir == "" {
		c.OutputDir = d.OutputDir
	}
}

// Validate checks that the settings the given front-end depends on are set.
func (c *Config) Validate(role Role) error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("API_URL is required"))
	}
	switch c.Classifier.Backend {
	case ClassifierOpenAI:
		if c.Classifier.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai classifier"))
		}
	case ClassifierAzure:
		if c.Azure.Endpoint == "" || c.Azure.Key == "" {
			errs = append(errs, errors.New("AZURE_VISION_ENDPOINT and AZURE_VISION_KEY are required for the azure classifier"))
		}
	case ClassifierTesseract:
	default:
		errs = append(errs, fmt.Errorf("unknown classifier %q", c.Classifier.Backend))
	}
	switch c.Records.Backend {
	case RecordsAPI:
	case RecordsDB:
		if c.Records.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the db records backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown records backend %q", c.Records.Backend))
	}
	if role == RoleWorker && c.Queue.URL == "" {
		errs = append(errs, errors.New("SQS_QUEUE_URL is required for the worker"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("config: %s: invalid boolean %q", key, v)
	}
	return nil
}

// setDuration accepts Go durations ("90s") or a bare number of seconds.
func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}
