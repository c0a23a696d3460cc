// Package predictor batches translation requests against a single shared
// translation engine.
//
// The engine is a heavyweight, stateful resource: one Predictor owns it and
// lets at most one batch touch it at a time. Records are split into
// consecutive chunks of at most BatchSize, translated in order, and returned
// keyed by the caller's identifiers.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dasmlab/m2mserve/pkg/translate"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize is the maximum number of records per engine call.
const DefaultBatchSize = 2

// Warm-up sample run once during initialization.
const (
	warmupText       = "test"
	warmupSourceLang = "en"
	warmupTargetLang = "ja"
)

var (
	// ErrInvalidBatchSize is returned for a batch size below 1.
	ErrInvalidBatchSize = errors.New("batch size must be a positive integer")
	// ErrLengthMismatch is returned when the engine answers a chunk with a
	// different number of texts than it was given.
	ErrLengthMismatch = translate.ErrLengthMismatch
)

// Record is a caller-supplied unit of translatable text.
// ID is opaque and need not be unique.
type Record struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Result is the translation of one Record, carrying the same ID.
type Result struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Options configures a Predictor.
type Options struct {
	// BatchSize is the maximum number of records per engine call. Zero selects DefaultBatchSize.
	BatchSize int
	// SaveWeightsPath, when set, exports the engine weights there after warm-up.
	SaveWeightsPath string
	Logger          *logrus.Logger
	Metrics         *translate.MetricsCollector
}

// Predictor serializes access to one translation engine and batches records
// through it.
type Predictor struct {
	engine    translate.Engine
	batchSize int
	logger    *logrus.Logger
	metrics   *translate.MetricsCollector

	// mu guards the engine for a whole encode-generate-decode batch.
	mu sync.Mutex
}

// New initializes a Predictor: it loads the engine if it needs loading, runs
// a single warm-up translation, and optionally exports the weights.
// Any failure is returned as-is and is meant to stop the process.
func New(ctx context.Context, engine translate.Engine, opts Options) (*Predictor, error) {
	if engine == nil {
		return nil, errors.New("predictor requires a translation engine")
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBatchSize, opts.BatchSize)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	p := &Predictor{
		engine:    engine,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}

	if loader, ok := engine.(translate.Loader); ok {
		if err := loader.Load(ctx); err != nil {
			return nil, fmt.Errorf("load translation engine: %w", err)
		}
	}

	if err := p.warmUp(ctx); err != nil {
		return nil, err
	}

	if opts.SaveWeightsPath != "" {
		saver, ok := engine.(translate.WeightSaver)
		if !ok {
			return nil, fmt.Errorf("engine %T cannot export weights", engine)
		}
		if err := saver.SaveWeights(ctx, opts.SaveWeightsPath); err != nil {
			return nil, err
		}
	}

	p.logger.WithFields(logrus.Fields{
		"batch_size": p.batchSize,
	}).Info("Model has been loaded and is ready for use")
	return p, nil
}

func (p *Predictor) warmUp(ctx context.Context) error {
	start := time.Now()
	if _, err := p.translateBatch(ctx, []string{warmupText}, warmupSourceLang, warmupTargetLang); err != nil {
		return fmt.Errorf("warm-up inference: %w", err)
	}
	p.logger.WithFields(logrus.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Warm-up inference completed")
	return nil
}

// BatchSize returns the maximum number of records per engine call.
func (p *Predictor) BatchSize() int {
	return p.batchSize
}

// CheckHealth reports whether the engine can still serve translations.
// It does not take the batch lock.
func (p *Predictor) CheckHealth(ctx context.Context) error {
	if err := p.engine.CheckHealth(ctx); err != nil {
		return fmt.Errorf("translation engine unhealthy: %w", err)
	}
	return nil
}

// GetPredictions translates records from sourceLang to targetLang.
// The result has one entry per record, in record order, with the record's ID.
// An empty input yields an empty result without touching the engine.
// The first failing chunk aborts the whole call.
func (p *Predictor) GetPredictions(ctx context.Context, records []Record, sourceLang, targetLang string) ([]Result, error) {
	results := make([]Result, 0, len(records))
	if len(records) == 0 {
		p.metrics.RecordPrediction(0, true)
		return results, nil
	}
	defer p.releaseCache(ctx)

	for start := 0; start < len(records); start += p.batchSize {
		end := min(start+p.batchSize, len(records))
		chunk := records[start:end]

		texts := make([]string, len(chunk))
		for i, r := range chunk {
			texts[i] = r.Text
		}

		translated, err := p.translateBatch(ctx, texts, sourceLang, targetLang)
		if err != nil {
			p.metrics.RecordPrediction(len(records), false)
			return nil, fmt.Errorf("translate records %d-%d: %w", start, end-1, err)
		}

		for i, r := range chunk {
			results = append(results, Result{ID: r.ID, Text: translated[i]})
		}
	}

	p.metrics.RecordPrediction(len(records), true)
	return results, nil
}

// translateBatch runs one chunk through the engine while holding exclusive
// ownership of it. The language pair is passed with the call, so no language
// setting survives between batches.
func (p *Predictor) translateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	waitStart := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.RecordLockWait(time.Since(waitStart))

	translated, err := p.engine.Translate(ctx, texts, sourceLang, targetLang)
	if err != nil {
		return nil, err
	}
	if len(translated) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(texts), len(translated))
	}
	return translated, nil
}

// releaseCache frees transient accelerator memory after a request.
// It runs outside the engine lock and never fails the request.
func (p *Predictor) releaseCache(ctx context.Context) {
	releaser, ok := p.engine.(translate.DeviceReleaser)
	if !ok || !releaser.Accelerated() {
		return
	}
	err := releaser.ReleaseCache(ctx)
	p.metrics.RecordCacheRelease(err == nil)
	if err != nil {
		p.logger.WithError(err).Debug("Device cache release failed")
	}
}
