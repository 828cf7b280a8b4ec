package brand

import (
	"context"
	"log"
	"strings"
)

const ReasonNoBrand = "no_brand_detected"

// Fusion runs the brand detectors in priority order: favicon similarity
// first, text extraction second. A favicon hit carries its domain straight
// from the seeded index, so it never consults the registry; text hits go
// through the reconciler. Either detector may be absent (degraded startup),
// in which case its stage is skipped.
type Fusion struct {
	favicons   *FaviconIndex
	text       *TextExtractor
	reconciler *Reconciler
}

func NewFusion(favicons *FaviconIndex, text *TextExtractor, reconciler *Reconciler) *Fusion {
	return &Fusion{favicons: favicons, text: text, reconciler: reconciler}
}

// Detect produces the brand-stage outcome for a page. It always returns an
// outcome; when nothing fires, the outcome is the benign no_brand_detected.
func (f *Fusion) Detect(ctx context.Context, pageURL, html, faviconB64 string) *Outcome {
	if hit := f.matchFavicon(ctx, faviconB64); hit != nil {
		outcome := &Outcome{
			Brand:      hit.Brand,
			Domain:     hit.Domain,
			Similarity: hit.Similarity,
		}
		if DomainMatch(pageURL, hit.Domain) {
			outcome.Phishing = false
			outcome.Reason = "favicon_brand_domain_match"
		} else {
			outcome.Phishing = true
			outcome.Reason = "favicon_brand_domain_mismatch"
		}
		return outcome
	}

	if brandName := f.extractText(ctx, html, pageURL); brandName != "" {
		if outcome := f.reconciler.CheckKnown(ctx, pageURL, brandName, SourceText); outcome != nil {
			return outcome
		}
		return f.reconciler.HandleNew(ctx, pageURL, brandName, SourceText)
	}

	return &Outcome{Phishing: false, Reason: ReasonNoBrand}
}

// Identify names the brand a page impersonates without deciding a verdict.
// Used on short-circuit paths where the verdict is already fixed but the
// brand is still worth recording.
func (f *Fusion) Identify(ctx context.Context, pageURL, html, faviconB64 string) string {
	if hit := f.matchFavicon(ctx, faviconB64); hit != nil {
		return hit.Brand
	}
	return f.extractText(ctx, html, pageURL)
}

func (f *Fusion) matchFavicon(ctx context.Context, faviconB64 string) *FaviconHit {
	if f.favicons == nil || !f.favicons.IsReady() || strings.TrimSpace(faviconB64) == "" {
		return nil
	}
	hit, err := f.favicons.Match(ctx, faviconB64)
	if err != nil {
		log.Printf("[WARN] favicon match failed: %v", err)
		return nil
	}
	return hit
}

func (f *Fusion) extractText(ctx context.Context, html, pageURL string) string {
	if f.text == nil {
		return ""
	}
	brandName, err := f.text.Extract(ctx, html, pageURL)
	if err != nil {
		log.Printf("[WARN] text brand extraction failed: %v", err)
		return ""
	}
	return brandName
}
