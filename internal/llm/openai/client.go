package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
)

const providerName = "openai"

func (c *Client) Name() string { return providerName }

func (c *Client) IsConfigured() bool { return strings.TrimSpace(c.cfg.APIKey) != "" }

// ParseText implements llm.Provider using text-only chat/completions.
func (c *Client) ParseText(ctx context.Context, text string, opts llm.ParseOptions) (llm.ParseResult, error) {
	user, cut := llm.BuildUserPrompt(text, opts)
	res, err := c.complete(ctx, "text", user, opts)
	if cut {
		res.Warnings = append(res.Warnings, fmt.Sprintf("input text cut at %d characters", llm.MaxPromptTextChars))
	}
	return res, err
}

// ParseImage sends the image as a data URL next to the instruction.
func (c *Client) ParseImage(ctx context.Context, image []byte, mimeType string, opts llm.ParseOptions) (llm.ParseResult, error) {
	if len(image) == 0 {
		return llm.ParseResult{}, common.NewAppError(common.CodeInputEmpty, "empty image", common.ErrInvalidInput)
	}
	content := []map[string]any{
		{"type": "text", "text": llm.BuildImagePrompt(opts)},
		{"type": "image_url", "image_url": map[string]any{"url": llm.DataURL(image, mimeType), "detail": c.cfg.ImageDetail}},
	}
	return c.complete(ctx, "image", content, opts)
}

func (c *Client) complete(ctx context.Context, mode string, userContent any, opts llm.ParseOptions) (llm.ParseResult, error) {
	if !c.IsConfigured() {
		return llm.ParseResult{}, common.NewAppError(common.CodeNotConfigured, "openai api key missing", common.ErrNotConfigured)
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
		"template_id", opts.TemplateID,
		"deterministic", opts.DeterministicPrompt != "",
		"max_tokens", maxTokens,
	)

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"max_tokens":      maxTokens,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(opts)},
			{"role": "user", "content": userContent},
			{"role": "system", "content": llm.SchemaInstruction()},
		},
	}
	raw, err := llm.PostJSON(ctx, c.http, llm.JSONRequest{
		Provider: providerName,
		URL:      c.cfg.BaseURL + "/chat/completions",
		Body:     body,
		Headers:  c.cfg.headers(),
	}, c.logger)
	if err != nil {
		c.logger.Error("llm.parse.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ParseResult{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.parse.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ParseResult{RawResponse: raw}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.parse.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.ParseResult{RawResponse: raw}, fmt.Errorf("no choices in openai response")
	}

	content := strings.TrimSpace(cc.Choices[0].Message.Content)
	res, err := llm.BuildResult([]byte(content), cc.Choices[0].FinishReason, opts, c.logger)
	if err != nil {
		c.logger.Error("llm.parse.unparseable",
			"req_id", rid, "error", err, "content_bytes", len(content),
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
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
