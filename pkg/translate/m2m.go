package translate

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

//go:embed scripts/m2m_worker.py
var m2mWorkerScript string

// maxResponseSize bounds a single JSON response line from the worker.
const maxResponseSize = 16 * 1024 * 1024

// M2MEngine hosts an M2M100 model in a Python subprocess and talks to it over
// JSON lines on stdin/stdout. One request is in flight at a time.
type M2MEngine struct {
	weights    string
	device     Device
	pythonPath string
	scriptPath string
	logger     *logrus.Logger
	metrics    *MetricsCollector

	mu          sync.Mutex
	process     *exec.Cmd
	stdin       io.WriteCloser
	stdout      *bufio.Scanner
	stderr      *io.PipeWriter
	loaded      bool
	accelerated atomic.Bool
}

// workerRequest is one line sent to the worker.
type workerRequest struct {
	Op         string   `json:"op"`
	Weights    string   `json:"weights,omitempty"`
	Device     Device   `json:"device,omitempty"`
	Texts      []string `json:"texts,omitempty"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang,omitempty"`
	Path       string   `json:"path,omitempty"`
}

// workerResponse is one line read from the worker.
type workerResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Texts   []string `json:"texts,omitempty"`
	Device  Device   `json:"device,omitempty"`
}

// NewM2MEngine creates an unloaded M2M100 engine. Call Load before Translate.
func NewM2MEngine(cfg Config) (*M2MEngine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Weights == "" {
		cfg.Weights = DefaultWeights
	}
	if cfg.PythonPath == "" {
		cfg.PythonPath = DefaultPythonPath
	}
	device, err := ParseDevice(string(cfg.Device))
	if err != nil {
		return nil, err
	}

	return &M2MEngine{
		weights:    cfg.Weights,
		device:     device,
		pythonPath: cfg.PythonPath,
		scriptPath: cfg.ScriptPath,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Load starts the worker subprocess, loads the weights onto the selected
// device and puts the model into inference mode. A failed load leaves no
// subprocess behind.
func (e *M2MEngine) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}
	if err := e.startLocked(); err != nil {
		return err
	}

	start := time.Now()
	e.logger.WithFields(logrus.Fields{
		"weights": e.weights,
		"device":  e.device,
	}).Info("Loading M2M100 model")

	resp, err := e.roundTripLocked(&workerRequest{Op: "load", Weights: e.weights, Device: e.device})
	if err != nil {
		e.stopLocked()
		return fmt.Errorf("load weights %q: %w", e.weights, err)
	}

	e.loaded = true
	e.accelerated.Store(resp.Device == DeviceCUDA)
	e.logger.WithFields(logrus.Fields{
		"weights":     e.weights,
		"device":      resp.Device,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("M2M100 model loaded")
	return nil
}

// startLocked launches the worker subprocess. Caller holds e.mu.
func (e *M2MEngine) startLocked() error {
	args := []string{"-u", "-c", m2mWorkerScript}
	if e.scriptPath != "" {
		args = []string{"-u", e.scriptPath}
	}
	cmd := exec.Command(e.pythonPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := e.logger.WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		return fmt.Errorf("failed to start Python process: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseSize)

	e.process = cmd
	e.stdin = stdin
	e.stdout = scanner
	e.stderr = stderr

	e.logger.WithFields(logrus.Fields{
		"pid":    cmd.Process.Pid,
		"python": e.pythonPath,
	}).Info("M2M100 worker subprocess started")
	return nil
}

// stopLocked terminates the worker subprocess. Caller holds e.mu.
func (e *M2MEngine) stopLocked() error {
	e.loaded = false
	e.accelerated.Store(false)
	if e.process == nil {
		return nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}
	var err error
	if e.process.ProcessState == nil {
		if killErr := e.process.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			err = killErr
		}
	}
	e.process.Wait()
	if e.stderr != nil {
		e.stderr.Close()
	}

	e.process = nil
	e.stdin = nil
	e.stdout = nil
	e.stderr = nil
	return err
}

// roundTripLocked sends one request and reads one response. Caller holds e.mu.
// A broken pipe stops the worker; backend-reported failures do not.
func (e *M2MEngine) roundTripLocked(req *workerRequest) (*workerResponse, error) {
	if e.process == nil {
		return nil, ErrNotLoaded
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := e.stdin.Write(append(line, '\n')); err != nil {
		e.stopLocked()
		return nil, fmt.Errorf("failed to write to worker: %w", err)
	}

	if !e.stdout.Scan() {
		err := e.stdout.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		e.stopLocked()
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}

	var resp workerResponse
	if err := json.Unmarshal(e.stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("worker %s failed: %s", req.Op, msg)
	}
	return &resp, nil
}

// Translate encodes, generates and decodes one batch in a single worker call.
// The source language travels with the request rather than living on the engine.
func (e *M2MEngine) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return []string{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return nil, ErrNotLoaded
	}

	start := time.Now()
	resp, err := e.roundTripLocked(&workerRequest{
		Op:         "translate",
		Texts:      texts,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	})
	if err == nil && len(resp.Texts) != len(texts) {
		err = fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, len(texts), len(resp.Texts))
	}
	e.metrics.RecordEngineCall(time.Since(start), err == nil, texts)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"source_lang": sourceLang,
			"target_lang": targetLang,
			"batch_size":  len(texts),
		}).Error("M2M100 translation failed")
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"batch_size":  len(texts),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("M2M100 batch translated")
	return resp.Texts, nil
}

// Accelerated reports whether the loaded model runs on a CUDA device.
func (e *M2MEngine) Accelerated() bool {
	return e.accelerated.Load()
}

// ReleaseCache asks the worker to empty the CUDA cache.
func (e *M2MEngine) ReleaseCache(ctx context.Context) error {
	if !e.Accelerated() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.roundTripLocked(&workerRequest{Op: "release"})
	return err
}

// SaveWeights writes the model and tokenizer to path.
func (e *M2MEngine) SaveWeights(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return ErrNotLoaded
	}
	if _, err := e.roundTripLocked(&workerRequest{Op: "save", Path: path}); err != nil {
		return fmt.Errorf("save weights to %s: %w", path, err)
	}
	e.logger.WithField("path", path).Info("M2M100 weights saved")
	return nil
}

// CheckHealth verifies the worker is alive and has a model loaded.
func (e *M2MEngine) CheckHealth(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		return ErrNotLoaded
	}
	_, err := e.roundTripLocked(&workerRequest{Op: "ping"})
	return err
}

// Close stops the worker subprocess.
func (e *M2MEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}
