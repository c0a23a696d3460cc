package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLibreTranslateURL is the default base URL for LibreTranslate API.
	DefaultLibreTranslateURL = "http://localhost:5000"
	// DefaultLibreTranslateTimeout is the default timeout for HTTP requests.
	DefaultLibreTranslateTimeout = 5 * time.Minute
)

// LibreTranslateClient implements Engine using a LibreTranslate server.
// A whole batch goes out as one request with q as an array.
type LibreTranslateClient struct {
	baseURL        string
	apiKey         string
	httpClient     *http.Client
	languageMapper *LanguageMapper
	logger         *logrus.Logger
	metrics        *MetricsCollector
}

// NewLibreTranslateClient creates a new LibreTranslate client.
func NewLibreTranslateClient(baseURL, apiKey string, logger *logrus.Logger, metrics *MetricsCollector) *LibreTranslateClient {
	if baseURL == "" {
		baseURL = DefaultLibreTranslateURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &LibreTranslateClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultLibreTranslateTimeout,
		},
		languageMapper: NewLanguageMapper(),
		logger:         logger,
		metrics:        metrics,
	}
}

type translateRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Format string   `json:"format"`
	APIKey string   `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText []string `json:"translatedText"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type languagesResponse struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Translate translates a batch of texts in one request.
func (c *LibreTranslateClient) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}

	start := time.Now()
	out, err := c.translate(ctx, texts, sourceLang, targetLang)
	c.metrics.RecordEngineCall(time.Since(start), err == nil, texts)
	return out, err
}

func (c *LibreTranslateClient) translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	reqPayload := translateRequest{
		Q:      texts,
		Source: c.languageMapper.ToBackendCode(sourceLang),
		Target: c.languageMapper.ToBackendCode(targetLang),
		Format: "text",
		APIKey: c.apiKey,
	}

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(&reqPayload); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := c.baseURL + "/translate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url": url,
		}).Error("Translation request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(startTime)
	c.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration_ms": duration.Milliseconds(),
		"batch_size":  len(texts),
	}).Debug("Translation request completed")

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var errResp errorResponse
		msg := string(bodyBytes)
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"response":    msg,
		}).Error("Translation request returned non-OK status")
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	var ltResp translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ltResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(ltResp.TranslatedText) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(texts), len(ltResp.TranslatedText))
	}

	return ltResp.TranslatedText, nil
}

// CheckHealth verifies that LibreTranslate is ready and operational.
func (c *LibreTranslateClient) CheckHealth(ctx context.Context) error {
	_, err := c.SupportedLanguages(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// SupportedLanguages returns the language codes served by LibreTranslate.
func (c *LibreTranslateClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	url := c.baseURL + "/languages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create languages request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var languages []languagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&languages); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	codes := make([]string, 0, len(languages))
	for _, lang := range languages {
		codes = append(codes, lang.Code)
	}

	c.logger.WithFields(logrus.Fields{
		"count": len(codes),
	}).Debug("Fetched supported languages")
	return codes, nil
}

// Close drops idle keep-alive connections.
func (c *LibreTranslateClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
