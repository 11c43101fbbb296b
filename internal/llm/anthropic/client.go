// Package anthropic adapts the Anthropic Messages API to llm.Provider,
// including native PDF document input.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

const providerName = "anthropic"

// Config for the Anthropic client.
type Config struct {
	APIKey          string // if empty, falls back to env ANTHROPIC_API_KEY
	Model           string
	BaseURL         string // optional override
	Timeout         time.Duration
	MaxOutputTokens int
}

type Client struct {
	cfg    Config
	api    sdk.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Retries belong to the shared ratelimit policy, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{cfg: cfg, api: sdk.NewClient(opts...), logger: logger}
}

func (c *Client) Name() string { return providerName }

func (c *Client) IsConfigured() bool { return strings.TrimSpace(c.cfg.APIKey) != "" }

func (c *Client) ParseText(ctx context.Context, text string, opts llm.ParseOptions) (llm.ParseResult, error) {
	user, cut := llm.BuildUserPrompt(text, opts)
	res, err := c.send(ctx, "text", opts, sdk.NewTextBlock(user+"\n\n"+llm.SchemaInstruction()))
	if cut {
		res.Warnings = append(res.Warnings, fmt.Sprintf("input text cut at %d characters", llm.MaxPromptTextChars))
	}
	return res, err
}

func (c *Client) ParseImage(ctx context.Context, image []byte, mimeType string, opts llm.ParseOptions) (llm.ParseResult, error) {
	if len(image) == 0 {
		return llm.ParseResult{}, common.NewAppError(common.CodeInputEmpty, "empty image", common.ErrInvalidInput)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return c.send(ctx, "image", opts,
		sdk.NewImageBlockBase64(mimeType, base64.StdEncoding.EncodeToString(image)),
		sdk.NewTextBlock(llm.BuildImagePrompt(opts)+"\n\n"+llm.SchemaInstruction()),
	)
}

// ParseDocument implements llm.DocumentParser with a base64 PDF block.
func (c *Client) ParseDocument(ctx context.Context, pdf []byte, opts llm.ParseOptions) (llm.ParseResult, error) {
	if len(pdf) == 0 {
		return llm.ParseResult{}, common.NewAppError(common.CodeInputEmpty, "empty document", common.ErrInvalidInput)
	}
	return c.send(ctx, "document", opts,
		sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{Data: base64.StdEncoding.EncodeToString(pdf)}),
		sdk.NewTextBlock(llm.BuildImagePrompt(opts)+"\n\n"+llm.SchemaInstruction()),
	)
}

func (c *Client) send(ctx context.Context, mode string, opts llm.ParseOptions, blocks ...sdk.ContentBlockParamUnion) (llm.ParseResult, error) {
	if !c.IsConfigured() {
		return llm.ParseResult{}, common.NewAppError(common.CodeNotConfigured, "anthropic api key missing", common.ErrNotConfigured)
	}
	ctx, rid := common.EnsureRequestID(ctx)
	start := time.Now()
	maxTokens := c.cfg.MaxOutputTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}
	c.logger.Info("llm.parse.start",
		"req_id", rid,
		"provider", providerName,
		"mode", mode,
		"model", c.cfg.Model,
		"page", opts.Page,
		"chunk", opts.Chunk,
		"deterministic", opts.DeterministicPrompt != "",
		"max_tokens", maxTokens,
	)

	msg, err := c.api.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		System: []sdk.TextBlockParam{
			{Text: llm.BuildSystemPrompt(opts)},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		err = convertError(err)
		c.logger.Error("llm.parse.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ParseResult{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return llm.ParseResult{}, fmt.Errorf("no text content in anthropic response")
	}

	res, err := llm.BuildResult([]byte(strings.TrimSpace(text.String())), string(msg.StopReason), opts, c.logger)
	if err != nil {
		c.logger.Error("llm.parse.unparseable",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return res, err
	}
	c.logger.Info("llm.parse.ok",
		"req_id", rid,
		"provider", providerName,
		"variant", res.Variant,
		"parts", len(res.Parts),
		"confidence", res.Confidence,
		"truncated", res.Truncated,
		"tokens_in", msg.Usage.InputTokens,
		"tokens_out", msg.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// convertError maps SDK API errors onto ratelimit.StatusError so the shared
// retry policy classifies them the same way as the HTTP providers.
func convertError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Response != nil {
		return ratelimit.NewStatusError(providerName, apiErr.Response, []byte(apiErr.Error()))
	}
	return &ratelimit.StatusError{Provider: providerName, StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
}
