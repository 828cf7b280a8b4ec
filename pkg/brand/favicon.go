package brand

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"

	"github.com/lureguard/lureguard/pkg/httputil"
)

// ImageEmbedder produces an embedding vector for a base64-encoded image.
type ImageEmbedder interface {
	Embed(ctx context.Context, imageB64 string) ([]float32, error)
}

// FaviconHit is a favicon match against the seeded brand index. The domain
// comes from the index itself, so a hit never needs a registry lookup.
type FaviconHit struct {
	Brand      string  `json:"brand"`
	Domain     string  `json:"domain"`
	Similarity float64 `json:"similarity"`
}

// FaviconIndex matches page favicons against known brand favicons using
// embedding similarity over an in-process vector store.
type FaviconIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32
	mu         sync.RWMutex
	ready      bool
}

// NewFaviconIndex builds an empty index backed by the given embedder.
// Call LoadSeeds before matching.
func NewFaviconIndex(embedder ImageEmbedder, threshold float64) (*FaviconIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	db := chromem.NewDB()
	embeddingFunc := func(ctx context.Context, content string) ([]float32, error) {
		return embedder.Embed(ctx, content)
	}
	collection, err := db.CreateCollection("brand_favicons", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &FaviconIndex{
		db:         db,
		collection: collection,
		threshold:  float32(threshold),
	}, nil
}

// faviconSeed is one YAML seed file entry.
type faviconSeed struct {
	Brands []struct {
		Name     string   `yaml:"name"`
		Domain   string   `yaml:"domain"`
		Favicons []string `yaml:"favicons"`
	} `yaml:"brands"`
}

// LoadSeeds reads brand favicon YAML files from dir and indexes them.
func (f *FaviconIndex) LoadSeeds(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read seed dir: %w", err)
	}

	var docs []chromem.Document
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read seed file %s: %w", name, err)
		}
		var seed faviconSeed
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("parse seed file %s: %w", name, err)
		}
		for _, b := range seed.Brands {
			for i, favicon := range b.Favicons {
				docs = append(docs, chromem.Document{
					ID:      fmt.Sprintf("%s_%d", b.Name, i),
					Content: favicon,
					Metadata: map[string]string{
						"brand":  b.Name,
						"domain": b.Domain,
					},
				})
			}
		}
	}
	if len(docs) == 0 {
		return fmt.Errorf("no favicon seeds found in %s", dir)
	}

	// One worker: embedding services dislike bursts and this runs once at startup.
	if err := f.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to index favicons: %w", err)
	}
	f.ready = true
	return nil
}

// IsReady returns whether the index has been seeded.
func (f *FaviconIndex) IsReady() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ready
}

// Match looks up the closest brand favicon. Returns nil when the best match
// is below the threshold. The threshold sits at 0.999 because favicons are
// near-duplicates when they match at all; anything looser pulls in visually
// similar but unrelated icons.
func (f *FaviconIndex) Match(ctx context.Context, faviconB64 string) (*FaviconHit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.ready {
		return nil, fmt.Errorf("favicon index not seeded - call LoadSeeds first")
	}
	if strings.TrimSpace(faviconB64) == "" {
		return nil, nil
	}

	results, err := f.collection.Query(ctx, faviconB64, 1, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("favicon query failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	best := results[0]
	if best.Similarity < f.threshold {
		return nil, nil
	}
	return &FaviconHit{
		Brand:      best.Metadata["brand"],
		Domain:     best.Metadata["domain"],
		Similarity: float64(best.Similarity),
	}, nil
}

// HTTPImageEmbedder calls an external embedding service (CLIP-style) over a
// simple JSON API: POST {"image": "<base64>"} -> {"embedding": [..]}.
type HTTPImageEmbedder struct {
	baseURL string
	client  *http.Client
}

func NewHTTPImageEmbedder(baseURL string) *HTTPImageEmbedder {
	return &HTTPImageEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httputil.MediumClient(),
	}
}

func (e *HTTPImageEmbedder) Embed(ctx context.Context, imageB64 string) ([]float32, error) {
	reqBody, err := json.Marshal(map[string]string{"image": imageB64})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}
	return result.Embedding, nil
}
