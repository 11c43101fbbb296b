package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

func completion(content, finish string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": finish,
		}},
	})
	return string(b)
}

func TestParseText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completion(`{"parts":[{"label":"Side","length":720,"width":560,"quantity":2,"confidence":0.9}]}`, "stop")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "m"}, nil)
	res, err := c.ParseText(context.Background(), "1 Side 720 560 2", llm.ParseOptions{Page: 2})
	require.NoError(t, err)
	require.Len(t, res.Parts, 1)
	assert.Equal(t, 720.0, res.Parts[0].Length)
	assert.Equal(t, 2, res.Parts[0].Provenance.Page)
	assert.Equal(t, llm.VariantStrict, res.Variant)
	assert.False(t, res.Truncated)

	assert.Equal(t, "m", got["model"])
	assert.EqualValues(t, 16000, got["max_tokens"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	user := msgs[1].(map[string]any)["content"].(string)
	assert.Contains(t, user, "1 Side 720 560 2")
}

func TestParseImage_SendsDataURL(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completion(`{"parts":[{"label":"Door","length":600,"width":450,"quantity":1`, "length")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	res, err := c.ParseImage(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg", llm.ParseOptions{MaxOutputTokens: 32000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrUnparseableResponse))
	assert.True(t, res.Truncated)
	assert.EqualValues(t, 32000, got["max_tokens"])

	user := got["messages"].([]any)[1].(map[string]any)["content"].([]any)
	img := user[1].(map[string]any)["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(img["url"].(string), "data:image/jpeg;base64,"))
	assert.Equal(t, "high", img["detail"])
}

func TestStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	_, err := c.ParseText(context.Background(), "x", llm.ParseOptions{})
	var se *ratelimit.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, ratelimit.IsTransient(err))
}

func TestNotConfigured(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c := NewClient(Config{}, nil)
	assert.False(t, c.IsConfigured())
	_, err := c.ParseText(context.Background(), "x", llm.ParseOptions{})
	assert.Equal(t, common.CodeNotConfigured, common.ErrorCode(err))
	assert.False(t, ratelimit.IsTransient(err))
}

func TestConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_ORG_ID", "org-env")
	cfg := Config{BaseURL: "https://proxy.local/v1/", ImageDetail: "ultra"}.withDefaults()
	assert.Equal(t, "sk-env", cfg.APIKey)
	assert.Equal(t, "https://proxy.local/v1", cfg.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "high", cfg.ImageDetail)
	assert.Equal(t, 16000, cfg.MaxOutputTokens)
	assert.Equal(t, "org-env", cfg.headers()["OpenAI-Organization"])

	low := Config{APIKey: "k", ImageDetail: "low"}.withDefaults()
	assert.Equal(t, "low", low.ImageDetail)
	assert.Equal(t, "https://api.openai.com/v1", low.BaseURL)
}

func TestParseText_ForwardsRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "upload-42", r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(completion(`{"parts":[{"label":"Side","length":720,"width":560,"quantity":2,"confidence":0.9}]}`, "stop")))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	_, err := c.ParseText(common.WithRequestID(context.Background(), "upload-42"), "x", llm.ParseOptions{})
	require.NoError(t, err)
}
