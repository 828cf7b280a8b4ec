// Package redirect resolves the final landing URL of a submission and flags
// cloaking patterns on the original host.
package redirect

import (
	"net"
	"net/url"
	"strings"
)

// Hosting services commonly abused for throwaway phishing pages. A hit on
// the original URL only matters when the page also redirects (see Analysis).
var suspiciousHostPatterns = []string{
	// Free dynamic DNS / tunnel services
	"duckdns.org", "ngrok.io", "ngrok.com", "localtunnel.me",
	"serveo.net", "pagekite.me", "herokuapp.com",
	// Free registrars
	"freenom.com",
	// URL shorteners (suspicious when a shortened link was submitted directly)
	"bit.ly", "tinyurl.com", "short.link", "t.co",
}

// Free ccTLDs handed out by throwaway registrars. Matched as a suffix so
// hosts like "tkmail.com" are not swept up.
var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf"}

// Subdomain tokens that look random but are ordinary service prefixes.
var commonSubdomainTokens = []string{
	"www", "mail", "api", "app", "mobile",
	"secure", "login", "admin", "shop", "store",
}

const consonants = "bcdfghjklmnpqrstvwxyz"
const vowels = "aeiou"

// CheckSuspicious inspects the host of rawURL for cloaking patterns.
// It returns whether the host looks suspicious and a short reason token
// used in the "suspicious_redirect: <reason>" verdict.
func CheckSuspicious(rawURL string) (bool, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false, ""
	}

	if net.ParseIP(host) != nil {
		return true, "ip_address_host"
	}

	for _, pattern := range suspiciousHostPatterns {
		if strings.Contains(host, pattern) {
			return true, "suspicious_domain_pattern: " + pattern
		}
	}
	for _, tld := range suspiciousTLDs {
		if strings.HasSuffix(host, tld) {
			return true, "suspicious_domain_pattern: " + strings.TrimPrefix(tld, ".")
		}
	}

	if sub, ok := leadingSubdomain(host); ok && looksRandom(sub) {
		return true, "random_subdomain_pattern"
	}

	return false, ""
}

// leadingSubdomain returns the left-most label when the host has at least
// two labels (e.g. "jaergfv3" from "jaergfv3.example.com").
func leadingSubdomain(host string) (string, bool) {
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return "", false
	}
	return parts[0], true
}

// looksRandom flags consonant-heavy labels of the kind throwaway hosting
// generates. Labels shorter than 6 chars or containing a common service
// token are never flagged.
func looksRandom(label string) bool {
	if len(label) < 6 {
		return false
	}
	for _, token := range commonSubdomainTokens {
		if strings.Contains(label, token) {
			return false
		}
	}

	var consonantCount, vowelCount int
	for _, c := range label {
		switch {
		case strings.ContainsRune(consonants, c):
			consonantCount++
		case strings.ContainsRune(vowels, c):
			vowelCount++
		}
	}
	return consonantCount > vowelCount*2 || len(label) >= 8
}
