package translate

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotLoaded is returned when an engine is used before Load or after Close.
	ErrNotLoaded = errors.New("translation engine not loaded")
	// ErrLengthMismatch is returned when a backend answers with a different
	// number of texts than it was given.
	ErrLengthMismatch = errors.New("translation engine returned a different number of texts")
)

// Engine is a batch translation backend.
// Translate must return exactly one output per input text, in input order.
// Language codes are passed through to the backend without validation.
type Engine interface {
	Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)

	// CheckHealth verifies that the backend is ready and operational.
	CheckHealth(ctx context.Context) error

	// Close releases the backend (subprocess, connections).
	Close() error
}

// Loader is implemented by engines that hold model weights in memory and
// must load them before the first Translate call.
type Loader interface {
	Load(ctx context.Context) error
}

// DeviceReleaser is implemented by engines that can run on an accelerator
// and keep transient device memory caches between calls.
type DeviceReleaser interface {
	Accelerated() bool
	ReleaseCache(ctx context.Context) error
}

// WeightSaver is implemented by engines that can export their weights to
// local storage for later use.
type WeightSaver interface {
	SaveWeights(ctx context.Context, path string) error
}

// LanguageMapper handles conversion between caller language codes and the
// ISO 639-1 codes expected by HTTP backends such as LibreTranslate.
type LanguageMapper struct{}

// NewLanguageMapper creates a new language mapper instance.
func NewLanguageMapper() *LanguageMapper {
	return &LanguageMapper{}
}

// ToBackendCode converts a caller language code to backend format.
// Examples:
//   - "EN" -> "en"
//   - "fr-CA" -> "fr"
//   - "zh_Hant" -> "zh"
func (lm *LanguageMapper) ToBackendCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if idx := strings.IndexAny(lang, "-_"); idx >= 0 {
		lang = lang[:idx]
	}
	return lang
}
