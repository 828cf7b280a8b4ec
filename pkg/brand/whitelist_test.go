package brand

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWhitelistCheck(t *testing.T) {
	registry := NewMemoryRegistry(
		Brand{Name: "Google", Domain: "google.com"},
		Brand{Name: "PayPal", Domain: "paypal.com"},
		Brand{Name: "StubOnly", Domain: ""},
	)
	wl := NewWhitelist(registry, time.Minute)

	tests := []struct {
		name      string
		url       string
		wantBrand string
	}{
		{"official domain", "https://www.google.com/search", "Google"},
		{"official subdomain", "https://accounts.google.com/signin", "Google"},
		{"case insensitive", "https://PAYPAL.com/", "PayPal"},
		{"lookalike domain", "https://google-login.com/", ""},
		{"unknown domain", "https://example.org/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := wl.Check(context.Background(), tt.url)
			if tt.wantBrand == "" {
				if match != nil {
					t.Errorf("Check(%q) = %+v, want nil", tt.url, match)
				}
				return
			}
			if match == nil {
				t.Fatalf("Check(%q) = nil, want brand %q", tt.url, tt.wantBrand)
			}
			if match.Brand != tt.wantBrand {
				t.Errorf("Check(%q).Brand = %q, want %q", tt.url, match.Brand, tt.wantBrand)
			}
		})
	}
}

func TestWhitelistObservesRegistryGrowthAfterTTL(t *testing.T) {
	registry := NewMemoryRegistry()
	wl := NewWhitelist(registry, 10*time.Millisecond)

	if match := wl.Check(context.Background(), "https://newbrand.com/"); match != nil {
		t.Fatalf("unexpected match before registration: %+v", match)
	}

	if err := registry.Upsert(context.Background(), Brand{Name: "NewBrand", Domain: "newbrand.com"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	match := wl.Check(context.Background(), "https://newbrand.com/")
	if match == nil || match.Brand != "NewBrand" {
		t.Errorf("Check after TTL = %+v, want NewBrand match", match)
	}
}

type failingRegistry struct{}

func (failingRegistry) Lookup(context.Context, string) (*Brand, error) {
	return nil, errors.New("down")
}
func (failingRegistry) Upsert(context.Context, Brand) error { return errors.New("down") }
func (failingRegistry) List(context.Context) ([]Brand, error) {
	return nil, errors.New("down")
}

func TestWhitelistDegradesOnRegistryFailure(t *testing.T) {
	wl := NewWhitelist(failingRegistry{}, time.Minute)
	if match := wl.Check(context.Background(), "https://google.com/"); match != nil {
		t.Errorf("Check with failing registry = %+v, want nil", match)
	}
}
