// Package crp records whether a page solicits credentials (a
// credential-requiring page). The result is recorded alongside every
// verdict but never changes one.
package crp

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/lureguard/lureguard/pkg/brand"
)

// Classifier runs a local ONNX sequence classifier (XLM-RoBERTa fine-tuned
// on credential pages) over cleaned page text.
type Classifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	ready    bool
}

// Config configures the classifier.
type Config struct {
	// ModelPath is the local path to the ONNX model directory.
	ModelPath string

	// OnnxLibraryPath is the directory containing libonnxruntime.
	// Empty selects the pure Go backend.
	OnnxLibraryPath string

	// Timeout bounds a single inference call.
	Timeout time.Duration
}

// DefaultConfig returns the classifier configuration with the ONNX runtime
// auto-detected from common install locations.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:       modelPath,
		OnnxLibraryPath: defaultOnnxPath(),
		Timeout:         30 * time.Second,
	}
}

func defaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// NewClassifier initializes the model. Returns an error when the model
// directory is missing or the session cannot start; callers degrade to a
// disabled recorder in that case.
func NewClassifier(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("no model path specified")
	}
	if _, err := os.Stat(filepath.Join(cfg.ModelPath, "model.onnx")); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", cfg.ModelPath, err)
	}

	c := &Classifier{}
	session, err := c.createSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	c.session = session

	pipelineCfg := hugot.TextClassificationConfig{
		ModelPath: cfg.ModelPath,
		Name:      "credential-page-classifier",
	}
	pipeline, err := hugot.NewPipeline(session, pipelineCfg)
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	c.pipeline = pipeline
	c.ready = true
	log.Printf("[INFO] credential-page classifier initialized (model: %s)", cfg.ModelPath)
	return c, nil
}

func (c *Classifier) createSession(cfg Config) (*hugot.Session, error) {
	if cfg.OnnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(cfg.OnnxLibraryPath))
		if err == nil {
			log.Printf("[INFO] credential-page classifier using ONNX Runtime backend")
			return session, nil
		}
		log.Printf("[WARN] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	log.Printf("[INFO] credential-page classifier using pure Go backend")
	return session, nil
}

// IsReady returns true when the model is loaded.
func (c *Classifier) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Classify reports whether the page at pageURL solicits credentials. The
// page is reduced to cleaned text first; the model saw cleaned text in
// training and does not consume the url itself.
func (c *Classifier) Classify(ctx context.Context, pageURL, html string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ready || c.pipeline == nil {
		return false, fmt.Errorf("credential-page classifier not ready")
	}

	text := brand.CleanHTML(html)
	if text == "" {
		return false, nil
	}

	result, err := c.pipeline.RunPipeline([]string{text})
	if err != nil {
		return false, fmt.Errorf("classification failed: %w", err)
	}
	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return false, fmt.Errorf("no classification output")
	}
	return isCredentialLabel(result.ClassificationOutputs[0][0].Label), nil
}

// isCredentialLabel maps model label conventions to the boolean signal.
func isCredentialLabel(label string) bool {
	switch label {
	case "crp", "credential", "LABEL_1":
		return true
	default:
		return false
	}
}

// Close releases the model session.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}
