package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"

	"github.com/lureguard/lureguard/pkg/brand"
	"github.com/lureguard/lureguard/pkg/config"
	"github.com/lureguard/lureguard/pkg/crp"
	"github.com/lureguard/lureguard/pkg/detect"
	"github.com/lureguard/lureguard/pkg/httputil"
	"github.com/lureguard/lureguard/pkg/redirect"
	"github.com/lureguard/lureguard/pkg/screenshot"
	"github.com/lureguard/lureguard/pkg/store"
)

const Version = "0.1.0"

// gateway bundles the pipeline and the handles main needs for admin routes.
type gateway struct {
	detector *detect.Detector
	chain    *detect.Chain
	pipeline *detect.Pipeline
	cache    *store.ResultCache // nil when the cache is disabled
	cfg      *config.Config
}

// newGateway wires every component, downgrading the optional ones when their
// backing service is not configured or fails to come up. The gateway always
// starts; a fully degraded instance still classifies on redirect heuristics
// and persists to memory.
func newGateway(ctx context.Context, cfg *config.Config) *gateway {
	g := &gateway{cfg: cfg}
	c := detect.Components{
		Resolver: redirect.NewResolver(),
		Gate:     httputil.NewSemaphore(cfg.GateLimit),
	}

	// Registry + sink share one Postgres pool when configured.
	var registry brand.Registry
	if cfg.DatabaseURL != "" {
		sink, err := store.NewPGSink(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("○ Postgres unavailable, using in-memory registry and sink: %v", err)
		} else {
			c.Sink = sink
			registry = brand.NewPGRegistryFromPool(sink.Pool())
			log.Println("✓ Postgres registry and detection sink connected")
		}
	} else {
		log.Println("○ No DATABASE_URL, using in-memory registry and sink")
	}
	if registry == nil {
		registry = brand.NewMemoryRegistry()
		c.Sink = store.NewMemorySink()
	}
	c.Whitelist = brand.NewWhitelist(registry, cfg.WhitelistTTL)

	// Verdict cache - optional.
	if cfg.RedisURL != "" {
		cache, err := store.NewResultCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Printf("○ Verdict cache disabled (redis: %v)", err)
		} else {
			g.cache = cache
			c.Cache = cache
			log.Printf("✓ Verdict cache enabled (ttl: %s)", cache.TTL())
		}
	} else {
		log.Println("○ Verdict cache disabled (no REDIS_URL)")
	}

	// Credential-page classifier - optional.
	if cfg.CRPModelPath != "" {
		classifier, err := crp.NewClassifier(crp.DefaultConfig(cfg.CRPModelPath))
		if err != nil {
			log.Printf("○ Credential-page recorder disabled (%v)", err)
		} else {
			c.CRP = classifier
			log.Println("✓ Credential-page recorder enabled")
		}
	} else {
		log.Println("○ Credential-page recorder disabled (no model path)")
	}

	// Favicon brand index - optional, needs an embedding service and seeds.
	var favicons *brand.FaviconIndex
	if cfg.FaviconEmbedURL != "" {
		idx, err := brand.NewFaviconIndex(brand.NewHTTPImageEmbedder(cfg.FaviconEmbedURL), cfg.FaviconThreshold)
		if err != nil {
			log.Printf("○ Favicon brand detection disabled (index: %v)", err)
		} else if err := idx.LoadSeeds(ctx, cfg.FaviconSeedDir); err != nil {
			log.Printf("○ Favicon brand detection disabled (seeds: %v)", err)
		} else {
			favicons = idx
			log.Printf("✓ Favicon brand detection enabled (threshold: %.3f)", cfg.FaviconThreshold)
		}
	} else {
		log.Println("○ Favicon brand detection disabled (no embedding service)")
	}

	// Text brand extractor - optional, needs an LLM provider.
	var text *brand.TextExtractor
	switch {
	case cfg.LLMProvider == config.ProviderNone:
		log.Println("○ Text brand extraction disabled (provider: none)")
	case cfg.LLMProvider != config.ProviderOllama && cfg.LLMAPIKey == "":
		log.Printf("○ Text brand extraction disabled (no API key for %s)", cfg.LLMProvider)
	default:
		text = brand.NewTextExtractor(cfg)
		log.Printf("✓ Text brand extraction enabled (provider: %s, model: %s)", cfg.LLMProvider, cfg.LLMModel)
	}

	reconciler := brand.NewReconciler(registry, brand.NewDomainFinder())
	c.Fusion = brand.NewFusion(favicons, text, reconciler)

	// Screenshot capture - optional.
	if cfg.ScreenshotURL != "" {
		c.Screenshots = screenshot.NewCapturer(cfg.ScreenshotURL)
		log.Println("✓ Screenshot capture enabled")
	} else {
		log.Println("○ Screenshot capture disabled (no render service)")
	}

	g.pipeline = detect.NewPipeline(c)
	g.detector = detect.NewDetector(g.pipeline)
	g.chain = detect.NewChain(g.pipeline)
	return g
}

type detectRequest struct {
	URL       string `json:"url"`
	HTML      string `json:"html"`
	Favicon   string `json:"favicon_base64"`
	Scope     string `json:"scope"`
	UserAgent string `json:"user_agent"`
	Save      *bool  `json:"save"`
}

func (r *detectRequest) toRequest(c fiber.Ctx) *detect.Request {
	agent := r.UserAgent
	if agent == "" {
		agent = c.Get("User-Agent")
	}
	save := true
	if r.Save != nil {
		save = *r.Save
	}
	return &detect.Request{
		URL:       r.URL,
		HTML:      r.HTML,
		Favicon:   r.Favicon,
		Scope:     r.Scope,
		UserAgent: agent,
		Save:      save,
	}
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, detect.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func (g *gateway) routes(app *fiber.App) {
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	// Classify a url. ?trace=1 runs the chained form and attaches the
	// per-step trace to the response.
	app.Post("/detect", func(c fiber.Ctx) error {
		var req detectRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}

		if c.Query("trace") != "" {
			verdict, trace, err := g.chain.Run(c.Context(), req.toRequest(c))
			if err != nil {
				return c.Status(errStatus(err)).JSON(fiber.Map{"error": err.Error(), "trace": trace})
			}
			return c.JSON(fiber.Map{"verdict": verdict, "trace": trace})
		}

		verdict, err := g.detector.Detect(c.Context(), req.toRequest(c))
		if err != nil {
			return c.Status(errStatus(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(verdict)
	})

	// Re-run a persisted detection and update its row in place.
	app.Post("/redetect", func(c fiber.Ctx) error {
		var req struct {
			DetectionID string `json:"detection_id"`
		}
		if err := c.Bind().Body(&req); err != nil || req.DetectionID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "detection_id is required"})
		}
		verdict, err := g.detector.Redetect(c.Context(), req.DetectionID)
		if err != nil {
			return c.Status(errStatus(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(verdict)
	})

	app.Get("/detections/:id", func(c fiber.Ctx) error {
		d, err := g.pipeline.Sink().GetByID(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(errStatus(err)).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(d)
	})

	// Admin surface.
	app.Post("/cache/purge", func(c fiber.Ctx) error {
		if g.cache == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "verdict cache is disabled"})
		}
		removed, err := g.cache.PurgeExpired(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "removed": removed})
		}
		return c.JSON(fiber.Map{"removed": removed})
	})

	app.Get("/gate/stats", func(c fiber.Ctx) error {
		return c.JSON(g.pipeline.Gate().Stats())
	})
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("LureGuard v%s\n", Version)
		return
	}

	if err := godotenv.Load(); err == nil {
		log.Println("✓ Loaded .env")
	}

	cfg := config.NewDefaultConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	g := newGateway(ctx, cfg)
	cancel()

	app := fiber.New(fiber.Config{
		AppName: "LureGuard",
	})
	g.routes(app)

	log.Printf("LureGuard gateway starting on %s", cfg.ListenAddr)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health          - Health check")
	log.Printf("  POST /detect          - Classify a url (?trace=1 for the step trace)")
	log.Printf("  POST /redetect        - Re-run a persisted detection")
	log.Printf("  GET  /detections/:id  - Fetch a persisted detection")
	log.Printf("  POST /cache/purge     - Sweep expired verdict cache entries")
	log.Printf("  GET  /gate/stats      - Admission gate statistics")

	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}
