package openai

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultTimeout   = 90 * time.Second
	defaultMaxTokens = 16000
)

// Config for the chat/completions client. Empty fields take the defaults
// above; APIKey and Organization fall back to the usual OpenAI env vars.
type Config struct {
	APIKey          string
	Organization    string
	BaseURL         string
	Model           string
	Temperature     float32
	Timeout         time.Duration
	MaxOutputTokens int
	// ImageDetail is sent with every page image: "high", "low" or "auto".
	// Cutlist tables are dense so anything but "high" loses digits.
	ImageDetail string
}

func (c Config) withDefaults() Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Organization == "" {
		c.Organization = os.Getenv("OPENAI_ORG_ID")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = defaultMaxTokens
	}
	switch c.ImageDetail {
	case "low", "auto", "high":
	default:
		c.ImageDetail = "high"
	}
	return c
}

func (c Config) headers() map[string]string {
	h := map[string]string{"Authorization": "Bearer " + c.APIKey}
	if c.Organization != "" {
		h["OpenAI-Organization"] = c.Organization
	}
	return h
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}
