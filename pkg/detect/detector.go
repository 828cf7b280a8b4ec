package detect

import (
	"context"
	"log"
)

// Detector is the imperative composition of the pipeline: the stages are
// called in priority order as plain statements. Chain runs the same stage
// functions from a step list; the two produce identical verdicts.
type Detector struct {
	p *Pipeline
}

func NewDetector(p *Pipeline) *Detector {
	return &Detector{p: p}
}

// Detect classifies a url. The only returned error classes are invalid input
// and admission cancellation; collaborator failures degrade inside the stages
// and the run always reaches a terminal verdict.
func (d *Detector) Detect(ctx context.Context, req *Request) (*Verdict, error) {
	p := d.p
	st, err := p.newRun(req)
	if err != nil {
		return nil, err
	}
	defer p.release(st)

	if _, err := p.resolve(ctx, st); err != nil {
		return nil, err
	}
	if v, _ := p.lookupCache(ctx, st); v != nil {
		return v, nil
	}
	if _, err := p.admit(ctx, st); err != nil {
		return nil, err
	}
	if _, err := p.recordCRP(ctx, st); err != nil {
		return nil, err
	}
	if v, _ := p.checkSuspiciousRedirect(ctx, st); v != nil {
		return p.finalize(ctx, st, v)
	}
	if v, _ := p.checkWhitelist(ctx, st); v != nil {
		return p.finalize(ctx, st, v)
	}
	v, _ := p.runFusion(ctx, st)
	return p.finalize(ctx, st, v)
}

// Redetect re-runs the pipeline over a persisted detection's stored inputs,
// bypassing the cache, and updates the row in place. The row's raw inputs
// (html, favicon, screenshot) are preserved; only verdict fields change.
func (d *Detector) Redetect(ctx context.Context, detectionID string) (*Verdict, error) {
	prior, err := d.p.sink.GetByID(ctx, detectionID)
	if err != nil {
		return nil, err
	}

	req := &Request{
		URL:       prior.URL,
		HTML:      prior.HTML,
		Favicon:   prior.Favicon,
		Scope:     prior.Scope,
		UserAgent: prior.UserAgent,
		Save:      false,
		skipCache: true,
	}
	v, err := d.Detect(ctx, req)
	if err != nil {
		return nil, err
	}

	updated := *prior
	updated.URL = v.URL
	updated.Phishing = v.Phishing
	updated.Reason = v.Reason
	updated.Brand = v.Brand
	updated.Confidence = v.Confidence
	updated.IsRedirect = v.IsRedirect
	updated.RedirectURL = v.RedirectURL
	updated.CRP = v.CRP
	if err := d.p.sink.Update(ctx, &updated); err != nil {
		log.Printf("[WARN] failed to update detection %s: %v", detectionID, err)
	}
	v.DetectionID = prior.ID
	return v, nil
}
