package translate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIEngine implements Engine with an OpenAI-compatible chat completion API.
// Each text is translated in its own completion, in order.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	logger  *logrus.Logger
	metrics *MetricsCollector
}

// NewOpenAIEngine creates an engine from cfg.APIKey, cfg.BaseURL and cfg.Model.
func NewOpenAIEngine(cfg Config) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai engine requires an API key")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIEngine{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Translate translates each text with one chat completion.
func (e *OpenAIEngine) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}

	start := time.Now()
	out := make([]string, 0, len(texts))
	var err error
	for i, text := range texts {
		var translated string
		translated, err = e.translateOne(ctx, text, sourceLang, targetLang)
		if err != nil {
			err = fmt.Errorf("text %d: %w", i, err)
			break
		}
		out = append(out, translated)
	}
	e.metrics.RecordEngineCall(time.Since(start), err == nil, texts)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"source_lang": sourceLang,
			"target_lang": targetLang,
			"model":       e.model,
		}).Error("OpenAI translation failed")
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEngine) translateOne(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("Translate the user's text from language code %q to language code %q. "+
					"Respond with only the translation, nothing else.", sourceLang, targetLang),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			},
		},
		// go-openai drops a zero temperature from the request.
		Temperature: math.SmallestNonzeroFloat32,
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no translation returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// CheckHealth verifies the configured model is reachable.
func (e *OpenAIEngine) CheckHealth(ctx context.Context) error {
	if _, err := e.client.GetModel(ctx, e.model); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close is a no-op.
func (e *OpenAIEngine) Close() error {
	return nil
}
