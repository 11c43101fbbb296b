package ocrservice

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, NewClient(Config{BaseURL: srv.URL + "/", APIKey: "k"}, nil).HealthCheck(context.Background()))
	assert.False(t, NewClient(Config{}, nil).HealthCheck(context.Background()))
}

func TestHealthCheck_SlowServiceIsUnhealthy(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, HealthTimeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	assert.False(t, c.HealthCheck(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExtractByPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "job.pdf", hdr.Filename)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "%PDF-1.7", string(b))
		_, _ = w.Write([]byte(`{"text":"","pages":[{"pageNumber":2,"text":"2 Shelf 500 300 3"},{"pageNumber":1,"text":" 1 Side 720 560 2 "}],"confidence":87,"method":"paddle"}`))
	}))
	defer srv.Close()

	res, err := NewClient(Config{BaseURL: srv.URL}, nil).ExtractByPage(context.Background(), []byte("%PDF-1.7"), "job.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, 1, res.Pages[0].PageNumber)
	assert.Equal(t, "1 Side 720 560 2", res.Pages[0].Text)
	assert.Equal(t, "1 Side 720 560 2\n\n2 Shelf 500 300 3", res.Text)
	assert.InDelta(t, 0.87, res.Confidence, 1e-9)
	assert.Equal(t, "paddle", res.Method)
}

func TestExtractByPage_StatusErrorIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(Config{BaseURL: srv.URL}, nil).ExtractByPage(context.Background(), []byte("x"), "a.pdf")
	var se *ratelimit.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.True(t, ratelimit.IsTransient(err))
}

func TestExtractAsImages(t *testing.T) {
	one := base64.StdEncoding.EncodeToString([]byte("page-one"))
	two := base64.StdEncoding.EncodeToString([]byte("page-two"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract-images", r.URL.Path)
		_, _ = w.Write([]byte(`{"images":["` + one + `","data:image/png;base64,` + two + `"]}`))
	}))
	defer srv.Close()

	images, err := NewClient(Config{BaseURL: srv.URL}, nil).ExtractAsImages(context.Background(), []byte("%PDF"), "a.pdf")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "page-one", string(images[0]))
	assert.Equal(t, "page-two", string(images[1]))
}

func TestExtractByPage_ForwardsRequestID(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`{"pages":[{"pageNumber":1,"text":"1 Side 720 560 2"}]}`))
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL}, nil)

	ctx := common.WithRequestID(context.Background(), "upload-77")
	_, err := c.ExtractByPage(ctx, []byte("%PDF-1.7"), "job.pdf")
	require.NoError(t, err)
	_, err = c.ExtractByPage(context.Background(), []byte("%PDF-1.7"), "job.pdf")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "upload-77", got[0])
	assert.NotEmpty(t, got[1], "a request id is minted when the caller has none")
}
