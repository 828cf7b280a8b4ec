// Package detect composes the classification pipeline: redirect analysis,
// verdict cache, whitelist and suspicious-redirect fast paths, credential-page
// recording, brand fusion and domain reconciliation, and persistence. The
// pipeline is exposed in two composition forms, Detector (imperative) and
// Chain (step list with a trace), built on one set of shared stage functions
// so both produce identical verdicts.
package detect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lureguard/lureguard/pkg/brand"
	"github.com/lureguard/lureguard/pkg/httputil"
	"github.com/lureguard/lureguard/pkg/redirect"
	"github.com/lureguard/lureguard/pkg/store"
)

// ErrInvalidInput marks requests rejected at the boundary: a malformed url or
// empty page content. This is the only error class a detection run surfaces;
// collaborator failures degrade to conservative defaults instead.
var ErrInvalidInput = errors.New("invalid input")

// Request is one detection run.
type Request struct {
	URL       string
	HTML      string
	Favicon   string // base64, optional
	Scope     string // caller identity for cache partitioning, optional
	UserAgent string
	Save      bool // persist the run and write the cache

	// skipCache bypasses the verdict cache; set by the redetect flow so the
	// row update always reflects a fresh run.
	skipCache bool
}

func (r *Request) validate() error {
	if strings.TrimSpace(r.HTML) == "" {
		return fmt.Errorf("%w: empty html", ErrInvalidInput)
	}
	u, err := url.Parse(r.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: malformed url %q", ErrInvalidInput, r.URL)
	}
	return nil
}

// Verdict is the classification outcome for one run. The same payload is
// cached and returned to callers; Cached marks replays from the cache.
type Verdict struct {
	DetectionID   string    `json:"detection_id,omitempty"`
	URL           string    `json:"url"`
	Phishing      bool      `json:"is_phish"`
	Reason        string    `json:"reason"`
	Brand         string    `json:"detected_brand,omitempty"`
	Confidence    float64   `json:"confidence"`
	CRP           bool      `json:"is_crp"`
	IsRedirect    bool      `json:"is_redirect"`
	RedirectURL   string    `json:"redirect_url,omitempty"`
	RedirectCount int       `json:"redirect_count,omitempty"`
	HasScreenshot bool      `json:"has_screenshot,omitempty"`
	Cached        bool      `json:"cached"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Collaborator contracts. The pipeline consumes these surfaces only; the
// concrete implementations live in their own packages.
type (
	// Resolver follows redirects and flags suspicious submitted urls.
	Resolver interface {
		Resolve(ctx context.Context, rawURL string) *redirect.Analysis
	}

	// WhitelistChecker answers whether a url sits on a brand's own domain.
	WhitelistChecker interface {
		Check(ctx context.Context, rawURL string) *brand.Match
	}

	// CRPClassifier reports whether a page solicits credentials.
	CRPClassifier interface {
		Classify(ctx context.Context, pageURL, html string) (bool, error)
	}

	// BrandDetector fuses the favicon and text brand signals.
	BrandDetector interface {
		Detect(ctx context.Context, pageURL, html, faviconB64 string) *brand.Outcome
		Identify(ctx context.Context, pageURL, html, faviconB64 string) string
	}

	// VerdictCache stores serialized verdicts under redirect-aware keys.
	VerdictCache interface {
		Get(ctx context.Context, key string) ([]byte, error)
		Set(ctx context.Context, key string, payload []byte) error
	}

	// Capturer renders a page screenshot for the persisted record.
	Capturer interface {
		Capture(ctx context.Context, rawURL string) (string, error)
	}
)

// Components wires a pipeline. CRP, Fusion, Cache and Screenshots may be nil:
// the corresponding stage degrades (recorded false, no_brand_detected, cache
// disabled, no screenshot). A nil Sink falls back to the in-memory sink and a
// nil Gate to the default admission capacity.
type Components struct {
	Resolver    Resolver
	Whitelist   WhitelistChecker
	CRP         CRPClassifier
	Fusion      BrandDetector
	Cache       VerdictCache
	Sink        store.Sink
	Screenshots Capturer
	Gate        *httputil.Semaphore
}
