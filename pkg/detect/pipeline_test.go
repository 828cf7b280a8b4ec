package detect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lureguard/lureguard/pkg/brand"
	"github.com/lureguard/lureguard/pkg/httputil"
	"github.com/lureguard/lureguard/pkg/redirect"
	"github.com/lureguard/lureguard/pkg/store"
)

// fakeResolver serves canned redirect analyses without touching the network.
type fakeResolver struct {
	analyses map[string]*redirect.Analysis
}

func (r *fakeResolver) Resolve(_ context.Context, rawURL string) *redirect.Analysis {
	if a, ok := r.analyses[rawURL]; ok {
		copied := *a
		return &copied
	}
	return &redirect.Analysis{FinalURL: rawURL}
}

type fakeFusion struct {
	outcome  *brand.Outcome
	identify string
	calls    int
}

func (f *fakeFusion) Detect(context.Context, string, string, string) *brand.Outcome {
	f.calls++
	if f.outcome != nil {
		copied := *f.outcome
		return &copied
	}
	return &brand.Outcome{Phishing: false, Reason: brand.ReasonNoBrand}
}

func (f *fakeFusion) Identify(context.Context, string, string, string) string {
	return f.identify
}

type fakeCRP struct {
	result bool
	err    error
	calls  int
}

func (c *fakeCRP) Classify(context.Context, string, string) (bool, error) {
	c.calls++
	return c.result, c.err
}

type mapCache struct {
	entries map[string][]byte
	gets    int
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, error) {
	c.gets++
	return c.entries[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, payload []byte) error {
	c.sets++
	c.entries[key] = payload
	return nil
}

type failingSink struct{}

func (failingSink) Insert(context.Context, *store.Detection) error { return errors.New("db down") }
func (failingSink) Update(context.Context, *store.Detection) error { return errors.New("db down") }
func (failingSink) GetByID(context.Context, string) (*store.Detection, error) {
	return nil, errors.New("db down")
}

func testWhitelist(brands ...brand.Brand) *brand.Whitelist {
	return brand.NewWhitelist(brand.NewMemoryRegistry(brands...), time.Minute)
}

func newTestComponents() Components {
	return Components{
		Resolver: &fakeResolver{analyses: map[string]*redirect.Analysis{
			"http://duckdns-abc123.duckdns.org": {
				FinalURL:           "https://paypal.com",
				HasRedirect:        true,
				RedirectCount:      1,
				SuspiciousOriginal: true,
				SuspiciousReason:   "suspicious_domain_pattern: duckdns.org",
			},
		}},
		Whitelist: testWhitelist(brand.Brand{Name: "Google", Domain: "google.com"}),
		CRP:       &fakeCRP{result: true},
		Fusion:    &fakeFusion{identify: "PayPal"},
		Cache:     newMapCache(),
		Sink:      store.NewMemorySink(),
	}
}

func TestDetectSuspiciousRedirect(t *testing.T) {
	c := newTestComponents()
	d := NewDetector(NewPipeline(c))

	v, err := d.Detect(context.Background(), &Request{
		URL: "http://duckdns-abc123.duckdns.org", HTML: "<html>login</html>", Save: true,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !v.Phishing {
		t.Error("suspicious redirect must be phishing")
	}
	if !strings.HasPrefix(v.Reason, "suspicious_redirect: ") {
		t.Errorf("Reason = %q, want suspicious_redirect prefix", v.Reason)
	}
	if v.Brand != "PayPal" {
		t.Errorf("Brand = %q, want best-effort identification", v.Brand)
	}
	if !v.CRP {
		t.Error("credential-page result must be recorded on the fast path")
	}
	if v.URL != "http://duckdns-abc123.duckdns.org" {
		t.Errorf("URL = %q, want the submitted url on a redirect", v.URL)
	}
	if v.RedirectURL != "https://paypal.com" {
		t.Errorf("RedirectURL = %q", v.RedirectURL)
	}
	if v.DetectionID == "" {
		t.Error("saved run should carry a detection id")
	}
}

func TestDetectWhitelisted(t *testing.T) {
	c := newTestComponents()
	crp := c.CRP.(*fakeCRP)
	fusion := c.Fusion.(*fakeFusion)
	d := NewDetector(NewPipeline(c))

	v, err := d.Detect(context.Background(), &Request{
		URL: "https://google.com", HTML: "<html>anything</html>", Save: true,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if v.Phishing || v.Reason != "whitelisted" {
		t.Errorf("verdict = %v %q, want benign whitelisted", v.Phishing, v.Reason)
	}
	if v.Brand != "Google" {
		t.Errorf("Brand = %q, want Google", v.Brand)
	}
	if crp.calls != 1 {
		t.Errorf("crp calls = %d, want exactly 1", crp.calls)
	}
	if fusion.calls != 0 {
		t.Error("whitelist fast path must not run brand fusion")
	}
}

func TestDetectBrandOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome *brand.Outcome
		url     string
	}{
		{
			"favicon match",
			&brand.Outcome{Phishing: false, Reason: "favicon_brand_domain_match", Brand: "ExampleBank", Similarity: 0.9995},
			"https://examplebank.com/login",
		},
		{
			"new brand domain mismatch",
			&brand.Outcome{Phishing: true, Reason: "text_new_brand_detected_but_domain_mismatch", Brand: "NewCo", Domain: "newco.io"},
			"https://fake-newco-support.net",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestComponents()
			c.Fusion = &fakeFusion{outcome: tt.outcome}
			d := NewDetector(NewPipeline(c))

			v, err := d.Detect(context.Background(), &Request{URL: tt.url, HTML: "<html>x</html>", Save: true})
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if v.Phishing != tt.outcome.Phishing || v.Reason != tt.outcome.Reason {
				t.Errorf("verdict = %v %q, want %v %q", v.Phishing, v.Reason, tt.outcome.Phishing, tt.outcome.Reason)
			}
			if v.Brand != tt.outcome.Brand {
				t.Errorf("Brand = %q, want %q", v.Brand, tt.outcome.Brand)
			}
			if v.Confidence != tt.outcome.Similarity {
				t.Errorf("Confidence = %v, want %v", v.Confidence, tt.outcome.Similarity)
			}
		})
	}
}

func TestDetectNoBrand(t *testing.T) {
	c := newTestComponents()
	c.Fusion = nil
	d := NewDetector(NewPipeline(c))

	v, err := d.Detect(context.Background(), &Request{URL: "https://plain.example/", HTML: "<html>x</html>", Save: true})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if v.Phishing || v.Reason != "no_brand_detected" {
		t.Errorf("verdict = %v %q, want benign no_brand_detected", v.Phishing, v.Reason)
	}
}

func TestDetectCacheReplay(t *testing.T) {
	c := newTestComponents()
	cache := c.Cache.(*mapCache)
	sink := c.Sink.(*store.MemorySink)
	d := NewDetector(NewPipeline(c))
	req := &Request{URL: "https://plain.example/", HTML: "<html>x</html>", Save: true}

	first, err := d.Detect(context.Background(), req)
	if err != nil {
		t.Fatalf("first Detect: %v", err)
	}
	if first.Cached {
		t.Error("first run must not be cached")
	}
	if cache.sets != 1 || sink.Len() != 1 {
		t.Fatalf("cache sets = %d, rows = %d; want 1, 1", cache.sets, sink.Len())
	}

	second, err := d.Detect(context.Background(), req)
	if err != nil {
		t.Fatalf("second Detect: %v", err)
	}
	if !second.Cached {
		t.Error("second run must replay from the cache")
	}
	if second.Reason != first.Reason || second.Phishing != first.Phishing {
		t.Errorf("replay = %v %q, want %v %q", second.Phishing, second.Reason, first.Phishing, first.Reason)
	}
	if second.DetectionID != first.DetectionID {
		t.Error("replay should carry the original detection id")
	}
	// One row per run, never per cache hit.
	if sink.Len() != 1 {
		t.Errorf("rows = %d, want 1 after a cache hit", sink.Len())
	}
}

func TestDetectInvalidInput(t *testing.T) {
	d := NewDetector(NewPipeline(newTestComponents()))
	tests := []struct {
		name string
		req  *Request
	}{
		{"empty html", &Request{URL: "https://a.example/", HTML: "   "}},
		{"malformed url", &Request{URL: "not a url", HTML: "<html>x</html>"}},
		{"missing scheme", &Request{URL: "a.example/path", HTML: "<html>x</html>"}},
		{"ftp scheme", &Request{URL: "ftp://a.example/", HTML: "<html>x</html>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Detect(context.Background(), tt.req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Detect = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestDetectDegradation(t *testing.T) {
	t.Run("crp failure records false", func(t *testing.T) {
		c := newTestComponents()
		c.CRP = &fakeCRP{err: errors.New("model down")}
		d := NewDetector(NewPipeline(c))
		v, err := d.Detect(context.Background(), &Request{URL: "https://plain.example/", HTML: "<html>x</html>", Save: true})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if v.CRP {
			t.Error("failed classification must record false")
		}
	})

	t.Run("persistence failure still returns the verdict", func(t *testing.T) {
		c := newTestComponents()
		c.Sink = failingSink{}
		d := NewDetector(NewPipeline(c))
		v, err := d.Detect(context.Background(), &Request{URL: "https://plain.example/", HTML: "<html>x</html>", Save: true})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		if v.Reason == "" {
			t.Error("verdict fields must survive a sink failure")
		}
		if v.DetectionID != "" {
			t.Error("failed insert must not invent a detection id")
		}
	})
}

func TestDetectAdmissionQueues(t *testing.T) {
	c := newTestComponents()
	c.Gate = httputil.NewSemaphore(1)
	d := NewDetector(NewPipeline(c))

	// Hold the only slot, then ask for a run with an expiring context.
	if err := c.Gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer c.Gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.Detect(ctx, &Request{URL: "https://plain.example/", HTML: "<html>x</html>"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Detect under a full gate = %v, want deadline exceeded", err)
	}
}

func TestRedetect(t *testing.T) {
	c := newTestComponents()
	cache := c.Cache.(*mapCache)
	sink := c.Sink.(*store.MemorySink)
	d := NewDetector(NewPipeline(c))

	first, err := d.Detect(context.Background(), &Request{
		URL: "https://plain.example/", HTML: "<html>x</html>", Save: true,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// The page now matches a known brand on the wrong domain.
	c.Fusion.(*fakeFusion).outcome = &brand.Outcome{
		Phishing: true, Reason: "text_brand_domain_mismatch", Brand: "PayPal", Domain: "paypal.com",
	}

	getsBefore := cache.gets
	v, err := d.Redetect(context.Background(), first.DetectionID)
	if err != nil {
		t.Fatalf("Redetect: %v", err)
	}
	if v.DetectionID != first.DetectionID {
		t.Errorf("DetectionID = %q, want %q", v.DetectionID, first.DetectionID)
	}
	if !v.Phishing || v.Reason != "text_brand_domain_mismatch" {
		t.Errorf("verdict = %v %q", v.Phishing, v.Reason)
	}
	if cache.gets != getsBefore {
		t.Error("redetect must bypass the verdict cache")
	}
	if sink.Len() != 1 {
		t.Errorf("rows = %d, want the same row updated in place", sink.Len())
	}

	row, err := sink.GetByID(context.Background(), first.DetectionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !row.Phishing || row.Reason != "text_brand_domain_mismatch" {
		t.Errorf("stored row = %v %q, want the fresh verdict", row.Phishing, row.Reason)
	}
	if row.HTML == "" {
		t.Error("redetect must preserve the stored page content")
	}
}

func TestRedetectUnknownID(t *testing.T) {
	d := NewDetector(NewPipeline(newTestComponents()))
	if _, err := d.Redetect(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Redetect(missing) = %v, want ErrNotFound", err)
	}
}
