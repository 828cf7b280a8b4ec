package redirect

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/lureguard/lureguard/pkg/httputil"
)

const (
	maxHops       = 10
	resolverAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Analysis describes what happened between the submitted URL and the page
// the browser would actually land on.
type Analysis struct {
	FinalURL           string   `json:"final_url"`
	HasRedirect        bool     `json:"has_redirect"`
	RedirectCount      int      `json:"redirect_count"`
	RedirectChain      []string `json:"redirect_chain,omitempty"`
	SuspiciousOriginal bool     `json:"suspicious_original"`
	SuspiciousReason   string   `json:"suspicious_reason,omitempty"`
}

// SuspiciousRedirect reports the combined signal: the original host looked
// suspicious AND the page moved the visitor somewhere else. Either alone is
// not enough to short-circuit the pipeline.
func (a *Analysis) SuspiciousRedirect() bool {
	return a.SuspiciousOriginal && a.HasRedirect
}

// Resolver follows redirects with a bounded timeout and records the hop chain.
type Resolver struct {
	client *http.Client
}

// NewResolver builds a resolver on the shared transport with the redirect
// timeout tier.
func NewResolver() *Resolver {
	return &Resolver{
		client: httputil.NewClient(10*time.Second, func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxHops {
				return http.ErrUseLastResponse
			}
			return nil
		}),
	}
}

// Resolve fetches rawURL, following redirects, and returns the analysis.
// Network failure is not an error for the caller: the analysis degrades to
// the original URL with no redirect recorded, so detection proceeds on the
// submitted URL alone.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) *Analysis {
	analysis := &Analysis{FinalURL: rawURL}
	analysis.SuspiciousOriginal, analysis.SuspiciousReason = CheckSuspicious(rawURL)
	if analysis.SuspiciousOriginal {
		log.Printf("[INFO] original url flagged suspicious (%s): %s", analysis.SuspiciousReason, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return analysis
	}
	req.Header.Set("User-Agent", resolverAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("[WARN] redirect check failed, using original url: %v", err)
		return analysis
	}
	defer httputil.DrainAndClose(resp.Body)

	finalURL := resp.Request.URL.String()
	if finalURL == rawURL {
		return analysis
	}

	analysis.FinalURL = finalURL
	analysis.HasRedirect = true

	// Rebuild the hop chain from the request lineage.
	chain := []string{rawURL}
	var hops []string
	for req := resp.Request; req != nil; req = chainParent(req) {
		hops = append(hops, req.URL.String())
	}
	// hops is final-first; append in submission order, skipping the origin.
	for i := len(hops) - 1; i >= 0; i-- {
		if hops[i] != rawURL {
			chain = append(chain, hops[i])
		}
	}
	analysis.RedirectChain = chain
	analysis.RedirectCount = len(chain) - 1

	log.Printf("[INFO] redirect detected: %s -> %s (%d hops)", rawURL, finalURL, analysis.RedirectCount)
	return analysis
}

func chainParent(req *http.Request) *http.Request {
	if req.Response == nil {
		return nil
	}
	return req.Response.Request
}
