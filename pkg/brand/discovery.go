package brand

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/lureguard/lureguard/pkg/httputil"
)

const maxSearchResults = 10
const maxCandidateProbes = 6

// Japanese brands resolve to .co.jp far more often than .com; probing .com
// first wastes the candidate budget on parked domains.
var japaneseBrandTokens = []string{
	"ntt", "docomo", "softbank", "sony", "nintendo",
	"toyota", "honda", "nissan", "panasonic", "toshiba", "hitachi",
	"canon", "nikon", "mitsubishi", "fujitsu", "sharp", "casio",
	"yamaha", "mazda", "subaru", "suzuki", "rakuten", "uniqlo",
}

var defaultTLDs = []string{".com", ".co.kr", ".net", ".org", ".co.uk", ".de", ".fr", ".jp"}
var japaneseTLDs = []string{".co.jp", ".ne.jp", ".jp", ".com", ".net", ".org"}

// DomainFinder discovers the official domain for a brand the registry has
// never seen: direct TLD candidates first, then a web search fallback.
type DomainFinder struct {
	probeClient    *http.Client
	searchClient   *http.Client
	searchEndpoint string
}

func NewDomainFinder() *DomainFinder {
	return &DomainFinder{
		probeClient:    httputil.FastClient(),
		searchClient:   httputil.MediumClient(),
		searchEndpoint: "https://html.duckduckgo.com/html/",
	}
}

// FindBestDomain returns the best official-domain guess for brandName, or ""
// when nothing reachable was found. Failure is not an error: the caller
// saves the brand as a stub and moves on.
func (d *DomainFinder) FindBestDomain(ctx context.Context, brandName string) string {
	candidates := GenerateCandidates(brandName)
	if len(candidates) > maxCandidateProbes {
		candidates = candidates[:maxCandidateProbes]
	}
	for i, domain := range candidates {
		log.Printf("[INFO] domain candidate %d/%d: %s", i+1, len(candidates), domain)
		if d.IsReachable(ctx, domain) {
			log.Printf("[INFO] found working domain for %s: %s", brandName, domain)
			return domain
		}
	}

	log.Printf("[INFO] no candidate domain reachable for %s, trying web search", brandName)
	results, err := d.searchOfficialSite(ctx, brandName)
	if err != nil {
		log.Printf("[WARN] domain search failed for %s: %v", brandName, err)
		return ""
	}

	normalized := normalizeBrandForDomain(brandName)

	// Exact match: a result whose second-level label equals the brand.
	for _, resultURL := range results {
		root := RootDomain(resultURL)
		if root == "" {
			continue
		}
		if secondLevelLabel(root) == normalized && d.IsReachable(ctx, root) {
			log.Printf("[INFO] exact search match for %s: %s", brandName, root)
			return root
		}
	}

	// Fall back to the first reachable result in the top 3.
	for i, resultURL := range results {
		if i >= 3 {
			break
		}
		root := RootDomain(resultURL)
		if root != "" && d.IsReachable(ctx, root) {
			log.Printf("[INFO] best-effort search match for %s: %s", brandName, root)
			return root
		}
	}

	log.Printf("[WARN] no official domain found for %s", brandName)
	return ""
}

// GenerateCandidates builds direct domain guesses for a brand name,
// ordered by the TLD list matching the brand's likely origin.
func GenerateCandidates(brandName string) []string {
	normalized := normalizeBrandForDomain(brandName)
	if normalized == "" {
		return nil
	}
	tlds := defaultTLDs
	lower := strings.ToLower(brandName)
	for _, token := range japaneseBrandTokens {
		if strings.Contains(lower, token) {
			tlds = japaneseTLDs
			break
		}
	}
	candidates := make([]string, 0, len(tlds))
	for _, tld := range tlds {
		candidates = append(candidates, normalized+tld)
	}
	return candidates
}

// IsReachable probes a domain with HEAD first, then GET. Any status below
// 400 counts, plus 403: official sites frequently reject bot probes with
// 403 while still being the right answer.
func (d *DomainFinder) IsReachable(ctx context.Context, domain string) bool {
	for _, scheme := range []string{"https://", "http://"} {
		if d.probe(ctx, http.MethodHead, scheme+domain) || d.probe(ctx, http.MethodGet, scheme+domain) {
			return true
		}
	}
	return false
}

func (d *DomainFinder) probe(ctx context.Context, method, probeURL string) bool {
	req, err := http.NewRequestWithContext(ctx, method, probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := d.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer httputil.DrainAndClose(resp.Body)
	return resp.StatusCode < 400 || resp.StatusCode == http.StatusForbidden
}

// searchOfficialSite queries the DuckDuckGo HTML endpoint for
// "<brand> Official Site" and returns the result URLs in rank order.
func (d *DomainFinder) searchOfficialSite(ctx context.Context, brandName string) ([]string, error) {
	query := url.Values{"q": {brandName + " Official Site"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.searchEndpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := d.searchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var results []string
	doc.Find("a.result__a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		if resolved := resolveSearchHref(href); resolved != "" {
			results = append(results, resolved)
		}
		return len(results) < maxSearchResults
	})
	return results, nil
}

// resolveSearchHref unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveSearchHref(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return href
	}
	return ""
}

// normalizeBrandForDomain lowercases and strips everything that cannot
// appear in a domain label ("Square Enix" -> "squareenix").
func normalizeBrandForDomain(brand string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(brand) {
		if unicode.IsLetter(r) && r < unicode.MaxASCII || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// secondLevelLabel returns the label left of the public suffix
// ("google" from "google.co.kr").
func secondLevelLabel(root string) string {
	if i := strings.Index(root, "."); i > 0 {
		return root[:i]
	}
	return root
}
