// Package brand identifies which brand a page is impersonating and whether
// the page's domain belongs to that brand.
package brand

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HostOf returns the lowercased host of rawURL without port. Inputs that are
// already bare hosts ("google.com") are returned as-is.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err == nil && parsed.Hostname() != "" {
		return strings.ToLower(parsed.Hostname())
	}
	// Bare host or scheme-less input.
	host := strings.TrimSpace(rawURL)
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// RootDomain extracts the registrable domain of rawURL using the public
// suffix list (doc.google.com -> google.com). Falls back to the raw host
// when the suffix cannot be determined.
func RootDomain(rawURL string) string {
	host := HostOf(rawURL)
	if host == "" {
		return ""
	}
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// DomainMatch reports whether brandDomain is contained in the registrable
// domain of rawURL. Containment rather than equality lets country variants
// like "google.co.kr" match a stored "google.co" style entry and tolerates
// stored domains carrying a www prefix.
func DomainMatch(rawURL, brandDomain string) bool {
	if brandDomain == "" {
		return false
	}
	root := RootDomain(rawURL)
	if root == "" {
		return false
	}
	needle := strings.ToLower(strings.TrimPrefix(brandDomain, "www."))
	return strings.Contains(root, needle)
}
