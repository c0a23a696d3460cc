package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasmlab/m2mserve/pkg/predictor"
)

type fakeTranslator struct {
	mu        sync.Mutex
	calls     int
	err       error
	healthErr error
}

func (f *fakeTranslator) CheckHealth(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeTranslator) GetPredictions(ctx context.Context, records []predictor.Record, sourceLang, targetLang string) ([]predictor.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	results := make([]predictor.Result, len(records))
	for i, r := range records {
		results[i] = predictor.Result{ID: r.ID, Text: fmt.Sprintf("[%s>%s] %s", sourceLang, targetLang, r.Text)}
	}
	return results, nil
}

func (f *fakeTranslator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHome(t *testing.T) {
	s := NewHTTPServer(&fakeTranslator{}, quietLogger(), ":0")

	w := do(t, s.Handler(), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `"Welcome to M2M translation"`, w.Body.String())
}

func TestTranslation(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewHTTPServer(tr, quietLogger(), ":0")

	body := `{"payload":{"fromLang":"en","toLang":"ja","records":[
		{"id":"1","text":"Life is like a box of chocolates."},
		{"id":"2","text":""}]}}`
	w := do(t, s.Handler(), http.MethodPost, "/translation", body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"result":[
		{"id":"1","text":"[en>ja] Life is like a box of chocolates."},
		{"id":"2","text":"[en>ja] "}]}`, w.Body.String())
	assert.Equal(t, 1, tr.callCount())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestTranslationEmptyRecords(t *testing.T) {
	tr := &fakeTranslator{}
	s := NewHTTPServer(tr, quietLogger(), ":0")

	w := do(t, s.Handler(), http.MethodPost, "/translation", `{"payload":{"fromLang":"en","toLang":"ja","records":[]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":[]}`, w.Body.String())
}

func TestTranslationMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing records", `{"payload":{"fromLang":"en","toLang":"ja"}}`},
		{"null records", `{"payload":{"fromLang":"en","toLang":"ja","records":null}}`},
		{"missing payload", `{"fromLang":"en","toLang":"ja","records":[]}`},
		{"missing fromLang", `{"payload":{"toLang":"ja","records":[]}}`},
		{"empty toLang", `{"payload":{"fromLang":"en","toLang":"","records":[]}}`},
		{"record without id", `{"payload":{"fromLang":"en","toLang":"ja","records":[{"text":"hi"}]}}`},
		{"record without text", `{"payload":{"fromLang":"en","toLang":"ja","records":[{"id":"1"}]}}`},
		{"numeric id", `{"payload":{"fromLang":"en","toLang":"ja","records":[{"id":1,"text":"hi"}]}}`},
		{"records not a list", `{"payload":{"fromLang":"en","toLang":"ja","records":"hi"}}`},
		{"not json", `records=1`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTranslator{}
			s := NewHTTPServer(tr, quietLogger(), ":0")

			w := do(t, s.Handler(), http.MethodPost, "/translation", tt.body)
			assert.Equal(t, http.StatusConflict, w.Code)
			assert.Equal(t, malformedRequestMsg, decode(t, w)["detail"])
			assert.Zero(t, tr.callCount(), "engine must not be invoked")
		})
	}
}

func TestTranslationEngineFailure(t *testing.T) {
	tr := &fakeTranslator{err: errors.New("unsupported language: xx")}
	s := NewHTTPServer(tr, quietLogger(), ":0")

	w := do(t, s.Handler(), http.MethodPost, "/translation",
		`{"payload":{"fromLang":"en","toLang":"xx","records":[{"id":"1","text":"hi"}]}}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, translationFailedMsg, decode(t, w)["detail"])
	assert.NotContains(t, w.Body.String(), "xx", "engine details stay in the logs")
}

func TestRequestIDEchoed(t *testing.T) {
	s := NewHTTPServer(&fakeTranslator{}, quietLogger(), ":0")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestHealthAndMetrics(t *testing.T) {
	s := NewHTTPServer(&fakeTranslator{}, quietLogger(), ":0")

	w := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHealthUnhealthyEngine(t *testing.T) {
	tr := &fakeTranslator{healthErr: errors.New("worker exited")}
	s := NewHTTPServer(tr, quietLogger(), ":0")

	w := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decode(t, w)["status"])
	assert.NotContains(t, w.Body.String(), "worker exited")
}

func TestHealthThroughPredictor(t *testing.T) {
	engine := &countingEngine{}
	p, err := predictor.New(context.Background(), engine, predictor.Options{Logger: quietLogger()})
	require.NoError(t, err)
	s := NewHTTPServer(p, quietLogger(), ":0")

	w := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	engine.mu.Lock()
	engine.healthErr = errors.New("worker exited")
	engine.mu.Unlock()

	w = do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// countingEngine is a minimal translate.Engine for end-to-end tests.
type countingEngine struct {
	mu        sync.Mutex
	sizes     []int
	healthErr error
}

func (e *countingEngine) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	e.mu.Lock()
	e.sizes = append(e.sizes, len(texts))
	e.mu.Unlock()
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.ToUpper(t)
	}
	return out, nil
}

func (e *countingEngine) CheckHealth(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthErr
}

func (e *countingEngine) Close() error { return nil }

func TestTranslationThroughPredictor(t *testing.T) {
	engine := &countingEngine{}
	p, err := predictor.New(context.Background(), engine, predictor.Options{BatchSize: 2, Logger: quietLogger()})
	require.NoError(t, err)
	s := NewHTTPServer(p, quietLogger(), ":0")

	body := `{"payload":{"fromLang":"en","toLang":"fr","records":[
		{"id":"a","text":"one"},{"id":"b","text":"two"},{"id":"c","text":"three"},
		{"id":"d","text":"four"},{"id":"e","text":"five"}]}}`
	w := do(t, s.Handler(), http.MethodPost, "/translation", body)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"result":[
		{"id":"a","text":"ONE"},{"id":"b","text":"TWO"},{"id":"c","text":"THREE"},
		{"id":"d","text":"FOUR"},{"id":"e","text":"FIVE"}]}`, w.Body.String())
	assert.Equal(t, []int{1, 2, 2, 1}, engine.sizes, "warm-up then chunks of 2, 2, 1")
}
