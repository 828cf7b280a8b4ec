package brand

import (
	"context"
	"log"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const whitelistCacheKey = "brand_list"

// Whitelist answers "is this page hosted on a brand's own domain".
// The brand list is refreshed from the registry on a short TTL so newly
// registered brands are observed without restarting the gateway.
type Whitelist struct {
	registry Registry
	cache    *gocache.Cache
}

// Match is a whitelist hit: the brand whose official domain equals the
// page's registrable root domain.
type Match struct {
	Brand  string
	Domain string
}

func NewWhitelist(registry Registry, ttl time.Duration) *Whitelist {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Whitelist{
		registry: registry,
		cache:    gocache.New(ttl, 2*ttl),
	}
}

// Check compares the registrable root domain of rawURL against the official
// domains in the registry (case-insensitive exact match). Returns nil when
// no brand owns the domain. Registry failure degrades to nil so detection
// continues through the model stages.
func (w *Whitelist) Check(ctx context.Context, rawURL string) *Match {
	root := RootDomain(rawURL)
	if root == "" {
		return nil
	}
	for _, b := range w.brandList(ctx) {
		if b.Domain != "" && strings.EqualFold(b.Domain, root) {
			return &Match{Brand: b.Name, Domain: b.Domain}
		}
	}
	return nil
}

func (w *Whitelist) brandList(ctx context.Context) []Brand {
	if cached, ok := w.cache.Get(whitelistCacheKey); ok {
		return cached.([]Brand)
	}
	brands, err := w.registry.List(ctx)
	if err != nil {
		log.Printf("[WARN] whitelist: brand list fetch failed: %v", err)
		return nil
	}
	w.cache.SetDefault(whitelistCacheKey, brands)
	return brands
}
