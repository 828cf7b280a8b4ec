package detect

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lureguard/lureguard/pkg/brand"
	"github.com/lureguard/lureguard/pkg/httputil"
	"github.com/lureguard/lureguard/pkg/redirect"
	"github.com/lureguard/lureguard/pkg/store"
)

// Pipeline holds the collaborators and the shared stage functions. Detector
// and Chain are thin composition adapters over this one state machine.
type Pipeline struct {
	resolver  Resolver
	whitelist WhitelistChecker
	crp       CRPClassifier
	fusion    BrandDetector
	cache     VerdictCache
	sink      store.Sink
	shots     Capturer
	gate      *httputil.Semaphore
}

func NewPipeline(c Components) *Pipeline {
	gate := c.Gate
	if gate == nil {
		gate = httputil.NewSemaphore(0)
	}
	sink := c.Sink
	if sink == nil {
		sink = store.NewMemorySink()
	}
	return &Pipeline{
		resolver:  c.Resolver,
		whitelist: c.Whitelist,
		crp:       c.CRP,
		fusion:    c.Fusion,
		cache:     c.Cache,
		sink:      sink,
		shots:     c.Screenshots,
		gate:      gate,
	}
}

// Gate exposes the admission gate for monitoring.
func (p *Pipeline) Gate() *httputil.Semaphore {
	return p.gate
}

// Sink exposes the persistence sink (the gateway serves stored detections).
func (p *Pipeline) Sink() store.Sink {
	return p.sink
}

// runState is the per-run scratch space the stages share. Nothing in it is
// visible to other runs.
type runState struct {
	req      *Request
	analysis *redirect.Analysis
	cacheKey string
	crp      bool
	admitted bool
}

func (p *Pipeline) newRun(req *Request) (*runState, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &runState{req: req}, nil
}

// release returns the admission slot. Safe to call when nothing was acquired.
func (p *Pipeline) release(st *runState) {
	if st.admitted {
		p.gate.Release()
		st.admitted = false
	}
}

// recordURL is the url a verdict is cached and persisted under: the submitted
// url when a redirect occurred (that is what gets submitted again), otherwise
// the final url.
func (st *runState) recordURL() string {
	if st.analysis.HasRedirect {
		return st.req.URL
	}
	return st.analysis.FinalURL
}

func (st *runState) newVerdict(phishing bool, reason, brandName string, confidence float64) *Verdict {
	return &Verdict{
		URL:           st.recordURL(),
		Phishing:      phishing,
		Reason:        reason,
		Brand:         brandName,
		Confidence:    confidence,
		CRP:           st.crp,
		IsRedirect:    st.analysis.HasRedirect,
		RedirectURL:   st.redirectTarget(),
		RedirectCount: st.analysis.RedirectCount,
		DetectedAt:    time.Now(),
	}
}

func (st *runState) redirectTarget() string {
	if st.analysis.HasRedirect {
		return st.analysis.FinalURL
	}
	return ""
}

// --- shared stage functions -------------------------------------------------
// Each returns a non-nil Verdict when its state is terminal, nil to continue.

// resolve follows redirects and derives the cache key.
func (p *Pipeline) resolve(ctx context.Context, st *runState) (*Verdict, error) {
	st.analysis = p.resolver.Resolve(ctx, st.req.URL)
	st.cacheKey = store.CacheKey(st.req.URL, st.analysis.FinalURL, st.analysis.HasRedirect, st.req.Scope)
	return nil, nil
}

// lookupCache replays a live cached verdict. Cache failure is a miss.
func (p *Pipeline) lookupCache(ctx context.Context, st *runState) (*Verdict, error) {
	if p.cache == nil || st.req.skipCache {
		return nil, nil
	}
	payload, err := p.cache.Get(ctx, st.cacheKey)
	if err != nil {
		log.Printf("[WARN] verdict cache read failed, treating as miss: %v", err)
		return nil, nil
	}
	if payload == nil {
		return nil, nil
	}
	var v Verdict
	if err := json.Unmarshal(payload, &v); err != nil {
		log.Printf("[WARN] corrupt cache entry under %s: %v", st.cacheKey, err)
		return nil, nil
	}
	v.Cached = true
	return &v, nil
}

// admit acquires an admission slot before the model stages. Runs queue here
// under load rather than failing.
func (p *Pipeline) admit(ctx context.Context, st *runState) (*Verdict, error) {
	if err := p.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	st.admitted = true
	return nil, nil
}

// recordCRP classifies the page exactly once per run. The result is advisory
// and carried on every verdict; failure records false.
func (p *Pipeline) recordCRP(ctx context.Context, st *runState) (*Verdict, error) {
	if p.crp == nil {
		return nil, nil
	}
	got, err := p.crp.Classify(ctx, st.analysis.FinalURL, st.req.HTML)
	if err != nil {
		log.Printf("[WARN] credential-page classification failed, recording false: %v", err)
		return nil, nil
	}
	st.crp = got
	return nil, nil
}

// checkSuspiciousRedirect is the highest-priority fast path: a suspicious
// submitted url that also redirected is phishing outright. The brand is still
// identified for the record, but it cannot soften the verdict.
func (p *Pipeline) checkSuspiciousRedirect(ctx context.Context, st *runState) (*Verdict, error) {
	if !st.analysis.SuspiciousRedirect() {
		return nil, nil
	}
	brandName := ""
	if p.fusion != nil {
		brandName = p.fusion.Identify(ctx, st.analysis.FinalURL, st.req.HTML, st.req.Favicon)
	}
	return st.newVerdict(true, "suspicious_redirect: "+st.analysis.SuspiciousReason, brandName, 0), nil
}

// checkWhitelist terminates runs landing on a brand's own domain.
func (p *Pipeline) checkWhitelist(ctx context.Context, st *runState) (*Verdict, error) {
	if p.whitelist == nil {
		return nil, nil
	}
	m := p.whitelist.Check(ctx, st.analysis.FinalURL)
	if m == nil {
		return nil, nil
	}
	return st.newVerdict(false, "whitelisted", m.Brand, 0), nil
}

// runFusion is the last stage and always terminal: brand fusion plus domain
// reconciliation, or the benign no-brand verdict when nothing fires.
func (p *Pipeline) runFusion(ctx context.Context, st *runState) (*Verdict, error) {
	if p.fusion == nil {
		return st.newVerdict(false, brand.ReasonNoBrand, "", 0), nil
	}
	out := p.fusion.Detect(ctx, st.analysis.FinalURL, st.req.HTML, st.req.Favicon)
	return st.newVerdict(out.Phishing, out.Reason, out.Brand, out.Similarity), nil
}

// finalize persists a terminal verdict and writes the cache. Persistence
// failure degrades: the verdict is still returned, without a detection id.
func (p *Pipeline) finalize(ctx context.Context, st *runState, v *Verdict) (*Verdict, error) {
	shot := p.captureScreenshot(ctx, st)
	v.HasScreenshot = shot != ""

	if !st.req.Save {
		return v, nil
	}

	d := st.detection(v, shot)
	if err := p.sink.Insert(ctx, d); err != nil {
		log.Printf("[WARN] failed to persist detection for %s: %v", v.URL, err)
	} else {
		v.DetectionID = d.ID
	}

	p.writeCache(ctx, st, v)
	return v, nil
}

func (p *Pipeline) captureScreenshot(ctx context.Context, st *runState) string {
	if p.shots == nil {
		return ""
	}
	shot, err := p.shots.Capture(ctx, st.analysis.FinalURL)
	if err != nil {
		log.Printf("[WARN] screenshot capture failed for %s: %v", st.analysis.FinalURL, err)
		return ""
	}
	return shot
}

func (p *Pipeline) writeCache(ctx context.Context, st *runState, v *Verdict) {
	if p.cache == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("[WARN] failed to encode verdict for cache: %v", err)
		return
	}
	if err := p.cache.Set(ctx, st.cacheKey, payload); err != nil {
		log.Printf("[WARN] verdict cache write failed: %v", err)
	}
}

func (st *runState) detection(v *Verdict, shot string) *store.Detection {
	return &store.Detection{
		Scope:       st.req.Scope,
		URL:         v.URL,
		Phishing:    v.Phishing,
		Reason:      v.Reason,
		Brand:       v.Brand,
		Confidence:  v.Confidence,
		HTML:        st.req.HTML,
		Favicon:     st.req.Favicon,
		Screenshot:  shot,
		UserAgent:   st.req.UserAgent,
		IsRedirect:  v.IsRedirect,
		RedirectURL: v.RedirectURL,
		CRP:         v.CRP,
	}
}
