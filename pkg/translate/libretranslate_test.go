package translate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordedRequests struct {
	mu   sync.Mutex
	reqs []translateRequest
}

func (r *recordedRequests) all() []translateRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]translateRequest(nil), r.reqs...)
}

func newLibreTranslateServer(t *testing.T) (*httptest.Server, *recordedRequests) {
	t.Helper()
	seen := &recordedRequests{}

	mux := http.NewServeMux()
	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, req)
		seen.mu.Unlock()

		if req.Target == "xx" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(errorResponse{Error: "xx is not supported"})
			return
		}
		out := make([]string, len(req.Q))
		for i, q := range req.Q {
			out[i] = strings.ToUpper(q)
		}
		json.NewEncoder(w).Encode(translateResponse{TranslatedText: out})
	})
	mux.HandleFunc("/languages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]languagesResponse{{Code: "en", Name: "English"}, {Code: "ja", Name: "Japanese"}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestLibreTranslateTranslateBatch(t *testing.T) {
	srv, seen := newLibreTranslateServer(t)
	client := NewLibreTranslateClient(srv.URL, "secret", quietLogger(), nil)

	got, err := client.Translate(context.Background(), []string{"one", "two"}, "EN", "ja-JP")
	require.NoError(t, err)
	assert.Equal(t, []string{"ONE", "TWO"}, got)

	reqs := seen.all()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, []string{"one", "two"}, req.Q)
	assert.Equal(t, "en", req.Source)
	assert.Equal(t, "ja", req.Target)
	assert.Equal(t, "secret", req.APIKey)
}

func TestLibreTranslateEmptyBatch(t *testing.T) {
	srv, seen := newLibreTranslateServer(t)
	client := NewLibreTranslateClient(srv.URL, "", quietLogger(), nil)

	got, err := client.Translate(context.Background(), nil, "en", "ja")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, seen.all())
}

func TestLibreTranslateErrorStatus(t *testing.T) {
	srv, _ := newLibreTranslateServer(t)
	client := NewLibreTranslateClient(srv.URL, "", quietLogger(), nil)

	_, err := client.Translate(context.Background(), []string{"one"}, "en", "xx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xx is not supported")
}

func TestLibreTranslateLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(translateResponse{TranslatedText: []string{"only one"}})
	}))
	defer srv.Close()
	client := NewLibreTranslateClient(srv.URL, "", quietLogger(), nil)

	_, err := client.Translate(context.Background(), []string{"a", "b"}, "en", "ja")
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestLibreTranslateHealth(t *testing.T) {
	srv, _ := newLibreTranslateServer(t)
	client := NewLibreTranslateClient(srv.URL, "", quietLogger(), nil)

	require.NoError(t, client.CheckHealth(context.Background()))
	codes, err := client.SupportedLanguages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "ja"}, codes)

	srv.Close()
	assert.Error(t, client.CheckHealth(context.Background()))
}

func TestLanguageMapper(t *testing.T) {
	lm := NewLanguageMapper()
	tests := map[string]string{
		"EN":      "en",
		"fr-CA":   "fr",
		"en-US":   "en",
		"zh_Hant": "zh",
		" ja ":    "ja",
	}
	for in, want := range tests {
		assert.Equal(t, want, lm.ToBackendCode(in), in)
	}
}
