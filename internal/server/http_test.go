package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/export"
	"github.com/joseph-ayodele/cutlist-extractor/internal/extraction"
	"github.com/joseph-ayodele/cutlist-extractor/internal/pipeline"
	"github.com/joseph-ayodele/cutlist-extractor/internal/session"
)

type recordingProcessor struct {
	got extraction.Request
	ctx context.Context
	err error
}

func (p *recordingProcessor) Process(ctx context.Context, req extraction.Request) (*pipeline.Result, error) {
	p.got, p.ctx = req, ctx
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.Result{
		Candidate:  &entity.DocumentCandidate{FileID: "f1", Parts: []entity.ExtractedPart{{Label: "Side", Length: 720, Width: 560, Quantity: 2}}},
		AutoAccept: true,
	}, nil
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newAPI(proc Processor) (*API, *session.Merger) {
	m := session.NewMerger(session.Config{}, nil, nil)
	return &API{
		Processor: proc,
		Sessions:  m,
		Exporter:  export.NewService(m, nil),
		Health:    NewHealth(nil, time.Second, nil),
	}, m
}

func TestExtractEndpoint(t *testing.T) {
	proc := &recordingProcessor{}
	api, _ := newAPI(proc)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	body, ctype := multipartBody(t, "list.jpg", []byte("\xff\xd8\xff jpeg"), map[string]string{
		"user_id":              "u-9",
		"default_thickness_mm": "18,5",
		"expand_on_truncation": "true",
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/orgs/acme/extract", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
	var out pipeline.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.AutoAccept)
	require.Len(t, out.Candidate.Parts, 1)

	assert.Equal(t, "acme", proc.got.OrgID)
	assert.Equal(t, "u-9", proc.got.UserID)
	assert.Equal(t, "list.jpg", proc.got.Filename)
	assert.InDelta(t, 18.5, proc.got.DefaultThicknessMm, 1e-9)
	assert.True(t, proc.got.ExpandOnTruncation)
	assert.Equal(t, "acme", common.OrgIDFromContext(proc.ctx))
	assert.Equal(t, "req-123", common.RequestIDFromContext(proc.ctx))
}

func TestExtractEndpoint_Errors(t *testing.T) {
	proc := &recordingProcessor{err: common.NewContentError(common.CodeBlankTemplate, "blank template", "fill in the cutlist first")}
	api, _ := newAPI(proc)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	post := func(url string, filename string) (*http.Response, errorBody) {
		body, ctype := multipartBody(t, filename, []byte("%PDF-1.7"), nil)
		resp, err := http.Post(url, ctype, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		var eb errorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
		return resp, eb
	}

	resp, eb := post(srv.URL+"/v1/orgs/acme/extract", "blank.pdf")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, common.CodeBlankTemplate, eb.Code)
	assert.Equal(t, []string{"fill in the cutlist first"}, eb.Remediation)
	assert.NotEmpty(t, eb.RequestID)

	resp, eb = post(srv.URL+"/v1/orgs/acme/extract", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, common.CodeInputEmpty, eb.Code)

	resp, eb = post(srv.URL+"/v1/orgs/bad%20org/extract", "a.pdf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, common.CodeValidation, eb.Code)
}

func TestSessionEndpoints(t *testing.T) {
	api, m := newAPI(&recordingProcessor{})
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	reg, err := m.RegisterPage(context.Background(), session.Registration{
		OrgID:  "acme",
		FileID: "f1",
		Result: entity.PageParse{ProjectCode: "K1", PageNumber: 1, Confidence: 0.97,
			Parts: []entity.ExtractedPart{{Label: "Door", Length: 700, Width: 400, Quantity: 1, Confidence: 0.97}}},
	})
	require.NoError(t, err)
	base := srv.URL + "/v1/sessions/" + reg.SessionID

	resp, err := http.Get(base)
	require.NoError(t, err)
	var s entity.ParseSession
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	resp.Body.Close()
	assert.Equal(t, constants.SessionCollecting, s.Status)

	resp, err = http.Get(base + "/export.xlsx")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "export needs a merged session")

	resp, err = http.Post(base+"/merge", "application/json", nil)
	require.NoError(t, err)
	var merged entity.MergeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&merged))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, merged.AutoAccept)

	resp, err = http.Get(base + "/export.xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")

	resp2, err := http.Get(srv.URL + "/v1/sessions/missing")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

type stubOCR struct{ configured, healthy bool }

func (s stubOCR) IsConfigured() bool               { return s.configured }
func (s stubOCR) HealthCheck(context.Context) bool { return s.healthy }

func TestHealth(t *testing.T) {
	h := NewHealth(stubOCR{configured: true, healthy: false}, time.Second, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.ProbeOCR(context.Background()))

	h.ocr = stubOCR{configured: true, healthy: true}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.ProbeOCR(context.Background()))

	api := &API{Health: h}
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SERVING", body["status"])
	assert.Equal(t, "SERVING", body["ocr"])

	require.Error(t, h.StartProbe("sometimes"))
	h.Stop()
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	unconfigured := NewHealth(stubOCR{}, time.Second, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVICE_UNKNOWN, unconfigured.ProbeOCR(context.Background()))
}
