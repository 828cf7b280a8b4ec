package brand

import (
	"context"
	"fmt"
	"log"
)

// Source names the model stage that produced a brand signal. It prefixes
// verdict reasons so analysts can tell which detector fired.
type Source string

const (
	SourceFavicon Source = "favicon"
	SourceText    Source = "text"
)

// Outcome is a brand-stage verdict contribution.
type Outcome struct {
	Phishing   bool    `json:"is_phish"`
	Reason     string  `json:"reason"`
	Brand      string  `json:"detected_brand,omitempty"`
	Domain     string  `json:"official_domain,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// Reconciler compares a detected brand against the registry and handles
// brands the registry has never seen.
type Reconciler struct {
	registry Registry
	finder   *DomainFinder
}

func NewReconciler(registry Registry, finder *DomainFinder) *Reconciler {
	return &Reconciler{registry: registry, finder: finder}
}

// CheckKnown looks the brand up in the registry and, when present, decides
// match or mismatch against the page URL. Returns nil when the brand is
// unknown (caller proceeds to new-brand handling). Registry failure also
// returns nil so the run degrades instead of erroring.
func (r *Reconciler) CheckKnown(ctx context.Context, pageURL, brandName string, src Source) *Outcome {
	known, err := r.registry.Lookup(ctx, brandName)
	if err != nil {
		log.Printf("[WARN] registry lookup failed for %q: %v", brandName, err)
		return nil
	}
	if known == nil {
		return nil
	}
	if known.Domain == "" {
		// A stub saved before discovery succeeded. There is no domain to
		// compare, so later runs stay as neutral as the run that saved it.
		return &Outcome{
			Phishing: false,
			Reason:   fmt.Sprintf("%s_new_brand_detected_and_saved", src),
			Brand:    brandName,
		}
	}
	if DomainMatch(pageURL, known.Domain) {
		return &Outcome{
			Phishing: false,
			Reason:   fmt.Sprintf("%s_brand_domain_match", src),
			Brand:    brandName,
			Domain:   known.Domain,
		}
	}
	return &Outcome{
		Phishing: true,
		Reason:   fmt.Sprintf("%s_brand_domain_mismatch", src),
		Brand:    brandName,
		Domain:   known.Domain,
	}
}

// HandleNew resolves a brand the registry has never seen: discover its
// official domain, save a registry entry, then re-read the registry and
// decide on whatever entry won. The upsert is first-writer-wins, so two
// concurrent runs detecting the same brand converge on one entry.
func (r *Reconciler) HandleNew(ctx context.Context, pageURL, brandName string, src Source) *Outcome {
	log.Printf("[INFO] new brand detected by %s: %s", src, brandName)

	domain := ""
	if r.finder != nil {
		domain = r.finder.FindBestDomain(ctx, brandName)
	}

	saved := true
	if err := r.registry.Upsert(ctx, Brand{Name: brandName, Domain: domain}); err != nil {
		log.Printf("[WARN] failed to save new brand %q: %v", brandName, err)
		saved = false
	}

	// Re-read: the saved row (ours or a concurrent winner's) is the truth.
	officialDomain := domain
	if stored, err := r.registry.Lookup(ctx, brandName); err == nil && stored != nil {
		officialDomain = stored.Domain
	}

	if officialDomain != "" {
		if DomainMatch(pageURL, officialDomain) {
			return &Outcome{
				Phishing: false,
				Reason:   fmt.Sprintf("%s_new_brand_detected_and_domain_match", src),
				Brand:    brandName,
				Domain:   officialDomain,
			}
		}
		return &Outcome{
			Phishing: true,
			Reason:   fmt.Sprintf("%s_new_brand_detected_but_domain_mismatch", src),
			Brand:    brandName,
			Domain:   officialDomain,
		}
	}

	// No domain found: nothing to compare against, so no phishing verdict.
	reason := fmt.Sprintf("%s_new_brand_detected", src)
	if saved {
		reason = fmt.Sprintf("%s_new_brand_detected_and_saved", src)
	}
	return &Outcome{
		Phishing: false,
		Reason:   reason,
		Brand:    brandName,
	}
}
