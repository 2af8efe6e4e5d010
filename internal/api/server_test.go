package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportq/internal/domain"
	"reportq/internal/infra/memq"
	"reportq/internal/infra/memstore"
	"reportq/internal/pipeline"
	"reportq/internal/ports"
	"reportq/internal/templates"
	"reportq/internal/usecase"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	idle := ports.HandlerFunc(func(context.Context, domain.Task, ports.Reporter) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	sched, err := usecase.NewScheduler(memstore.New(10), []usecase.Lane{{
		Kind:     domain.KindReportGeneration,
		Queue:    memq.New(),
		Handler:  idle,
		Validate: pipeline.ValidateInput,
	}})
	require.NoError(t, err)
	cat, err := templates.New("")
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(sched, cat).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, owner, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

const reportBody = `{"kind":"report_generation","input":{"report_type":"business_plan","title":"Cafe"}}`

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/tasks", "alice", reportBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/tasks/"+id, resp.Header.Get("Location"))
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	resp, body = do(t, http.MethodGet, srv.URL+"/tasks/"+id, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := body["task"].(map[string]any)
	assert.Equal(t, "pending", task["status"])
	assert.Equal(t, "alice", task["owner"])

	resp, _ = do(t, http.MethodDelete, srv.URL+"/tasks/"+id, "mallory", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/tasks/"+id, "alice", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/tasks/"+id, "alice", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/tasks/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitRejections(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed body", `{`},
		{"missing input", `{"kind":"report_generation"}`},
		{"unknown kind", `{"kind":"video","input":{}}`},
		{"lane without worker", `{"kind":"file_analysis","input":{}}`},
		{"invalid report input", `{"kind":"report_generation","input":{"report_type":"business_plan"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/tasks", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatsAndTemplates(t *testing.T) {
	srv := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/tasks", "alice", reportBody)

	resp, body := do(t, http.MethodGet, srv.URL+"/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lanes := body["lanes"].([]any)
	require.Len(t, lanes, 1)
	lane := lanes[0].(map[string]any)
	assert.Equal(t, "report_generation", lane["lane"])
	assert.Equal(t, float64(1), lane["waiting"])

	resp, body = do(t, http.MethodGet, srv.URL+"/templates", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ids []string
	for _, tpl := range body["templates"].([]any) {
		ids = append(ids, tpl.(map[string]any)["id"].(string))
	}
	assert.Equal(t, []string{"business_plan", "feasibility_study", "market_research"}, ids)
}

func TestRecoverHandler(t *testing.T) {
	h := chainMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), recoverHandler, loggerHandler(nil), requestIDHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/tasks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), ownerHeader)
}
