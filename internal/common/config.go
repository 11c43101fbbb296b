package common

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Sessions   SessionConfig
	Server     ServerConfig
	Local      LocalToolsConfig
	OCR        OCRServiceConfig
	LLM        LLMConfig
	Limits     LimitsConfig
	Extraction ExtractionConfig
	Templates  TemplatesConfig
	Storage    StorageConfig
	Log        LogConfig
}

// DatabaseConfig holds organization database configuration (templates, shortcodes, audit).
// An empty DSN disables every Postgres-backed collaborator.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DSNRedacted returns the DSN with any password masked, for logs and CLI output.
func (d DatabaseConfig) DSNRedacted() string {
	u, err := url.Parse(d.DSN)
	if err != nil || u.User == nil {
		if strings.Contains(d.DSN, "password=") {
			return "(dsn with password)"
		}
		return d.DSN
	}
	return u.Redacted()
}

// SessionConfig holds multi-page session settings
type SessionConfig struct {
	DBPath              string // empty -> in-memory store
	TTL                 time.Duration
	MergedRetention     time.Duration
	SweepSchedule       string
	AutoAcceptThreshold float64
	PartConfidenceFloor float64
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr          string
	GRPCAddr          string
	OCRProbeSchedule  string
	ShutdownTimeout   time.Duration
	SideEffectWorkers int
}

// LocalToolsConfig holds local command-line tool settings
type LocalToolsConfig struct {
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	RenderDPI     int
	MaxPages      int
}

// OCRServiceConfig holds remote OCR microservice settings
type OCRServiceConfig struct {
	BaseURL       string
	APIKey        string
	HealthTimeout time.Duration
	Timeout       time.Duration
}

// LLMConfig holds vision/language model settings
type LLMConfig struct {
	Provider        string // openai | anthropic
	Model           string
	OpenAIKey       string
	OpenAIBaseURL   string
	ImageDetail     string // openai only: high | low | auto
	AnthropicKey    string
	Temperature     float32
	Timeout         time.Duration
	MaxOutputTokens int
}

// LimitsConfig holds admission control and retry settings
type LimitsConfig struct {
	LLMConcurrency    int
	OCRConcurrency    int
	LLMRequestsPerMin int
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
}

// ExtractionConfig holds orchestrator settings
type ExtractionConfig struct {
	MaxUploadBytes    int
	PageConcurrency   int
	ChunkConcurrency  int
	ChunkRowThreshold int
	ChunkMaxRows      int
	ImageTargetBytes  int
	ImageMaxDimension int
	DetectTimeout     time.Duration
	SideEffectTimeout time.Duration
}

// TemplatesConfig holds template descriptor sources
type TemplatesConfig struct {
	File string
}

// StorageConfig holds the best-effort upload store settings
type StorageConfig struct {
	Root string // empty disables storage side effects
}

// LogConfig holds logger settings
type LogConfig struct {
	Format string // json | text
	Level  string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Sessions: SessionConfig{
			DBPath:              getEnv("SESSION_DB_PATH", ""),
			TTL:                 getEnvAsDuration("SESSION_TTL", 30*time.Minute),
			MergedRetention:     getEnvAsDuration("SESSION_MERGED_RETENTION", 0),
			SweepSchedule:       getEnv("SESSION_SWEEP", "@every 5m"),
			AutoAcceptThreshold: getEnvAsFloat64("AUTO_ACCEPT_THRESHOLD", 0.95),
			PartConfidenceFloor: getEnvAsFloat64("AUTO_ACCEPT_PART_FLOOR", 0.7),
		},
		Server: ServerConfig{
			HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:          getEnv("GRPC_ADDR", ":8081"),
			OCRProbeSchedule:  getEnv("OCR_PROBE", "@every 30s"),
			ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
			SideEffectWorkers: getEnvAsInt("SIDE_EFFECT_WORKERS", 4),
		},
		Local: LocalToolsConfig{
			Pdftotext:     getEnv("PDFTOTEXT", "pdftotext"),
			Pdftoppm:      getEnv("PDFTOPPM", "pdftoppm"),
			Tesseract:     getEnv("TESSERACT", "tesseract"),
			TesseractLang: getEnv("TESSERACT_LANG", "eng"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			RenderDPI:     getEnvAsInt("RENDER_DPI", 150),
			MaxPages:      getEnvAsInt("RENDER_MAX_PAGES", 20),
		},
		OCR: OCRServiceConfig{
			BaseURL:       getEnv("OCR_SERVICE_URL", ""),
			APIKey:        getEnv("OCR_SERVICE_KEY", ""),
			HealthTimeout: getEnvAsDuration("OCR_HEALTH_TIMEOUT", 3*time.Second),
			Timeout:       getEnvAsDuration("OCR_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
			Model:           getEnv("LLM_MODEL", ""),
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			ImageDetail:     strings.ToLower(getEnv("OPENAI_IMAGE_DETAIL", "high")),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			Temperature:     getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:         getEnvAsDuration("LLM_TIMEOUT", 90*time.Second),
			MaxOutputTokens: getEnvAsInt("LLM_MAX_TOKENS", 16000),
		},
		Limits: LimitsConfig{
			LLMConcurrency:    getEnvAsInt("LLM_CONCURRENCY", 8),
			OCRConcurrency:    getEnvAsInt("OCR_CONCURRENCY", 4),
			LLMRequestsPerMin: getEnvAsInt("LLM_RPM", 0),
			RetryMaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:    getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 8*time.Second),
		},
		Extraction: ExtractionConfig{
			MaxUploadBytes:    getEnvAsInt("MAX_UPLOAD_BYTES", 20<<20),
			PageConcurrency:   getEnvAsInt("PAGE_CONCURRENCY", 10),
			ChunkConcurrency:  getEnvAsInt("CHUNK_CONCURRENCY", 3),
			ChunkRowThreshold: getEnvAsInt("CHUNK_ROW_THRESHOLD", 40),
			ChunkMaxRows:      getEnvAsInt("CHUNK_MAX_ROWS", 25),
			ImageTargetBytes:  getEnvAsInt("IMAGE_TARGET_BYTES", 1500<<10),
			ImageMaxDimension: getEnvAsInt("IMAGE_MAX_DIMENSION", 2048),
			DetectTimeout:     getEnvAsDuration("TEMPLATE_DETECT_TIMEOUT", 4*time.Second),
			SideEffectTimeout: getEnvAsDuration("SIDE_EFFECT_TIMEOUT", 15*time.Second),
		},
		Templates: TemplatesConfig{
			File: getEnv("TEMPLATES_FILE", ""),
		},
		Storage: StorageConfig{
			Root: getEnv("UPLOAD_STORE_DIR", ""),
		},
		Log: LogConfig{
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return NewAppError(CodeConfig, "LLM_PROVIDER must be openai or anthropic", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError(CodeConfig, "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Extraction.MaxUploadBytes <= 0 || c.Extraction.MaxUploadBytes > 20<<20 {
		return NewAppError(CodeConfig, "MAX_UPLOAD_BYTES must be within (0, 20MB]", ErrInvalidInput)
	}
	if c.Sessions.AutoAcceptThreshold <= 0 || c.Sessions.AutoAcceptThreshold > 1 {
		return NewAppError(CodeConfig, "AUTO_ACCEPT_THRESHOLD must be within (0, 1]", ErrInvalidInput)
	}
	if c.Sessions.PartConfidenceFloor < 0 || c.Sessions.PartConfidenceFloor > 1 {
		return NewAppError(CodeConfig, "AUTO_ACCEPT_PART_FLOOR must be within [0, 1]", ErrInvalidInput)
	}
	if c.OCR.HealthTimeout >= c.OCR.Timeout {
		return NewAppError(CodeConfig, "OCR_HEALTH_TIMEOUT must be shorter than OCR_TIMEOUT", ErrInvalidInput)
	}
	if c.Limits.LLMConcurrency <= 0 || c.Limits.OCRConcurrency <= 0 {
		return NewAppError(CodeConfig, "LLM_CONCURRENCY and OCR_CONCURRENCY must be positive", ErrInvalidInput)
	}
	return nil
}

// LLMConfigured reports whether the selected provider has credentials.
func (c *Config) LLMConfigured() bool {
	switch c.LLM.Provider {
	case "anthropic":
		return c.LLM.AnthropicKey != ""
	default:
		return c.LLM.OpenAIKey != ""
	}
}
