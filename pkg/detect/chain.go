package detect

import (
	"context"
	"fmt"
	"time"
)

// Step is one named stage in the chain composition.
type Step struct {
	Name string
	run  func(ctx context.Context, st *runState) (*Verdict, error)
}

// StepTrace records how one step of a chained run went.
type StepTrace struct {
	Step     string        `json:"step"`
	Terminal bool          `json:"terminal"`
	Duration time.Duration `json:"duration"`
}

// Chain is the declarative composition of the pipeline: the same stage
// functions the Detector calls, held in a step list and walked with a trace.
// Verdicts are identical to the Detector's; only the observability differs.
type Chain struct {
	p     *Pipeline
	steps []Step
}

func NewChain(p *Pipeline) *Chain {
	return &Chain{
		p: p,
		steps: []Step{
			{"resolve", p.resolve},
			{"cache_lookup", p.lookupCache},
			{"admission", p.admit},
			{"crp_record", p.recordCRP},
			{"suspicious_redirect", p.checkSuspiciousRedirect},
			{"whitelist", p.checkWhitelist},
			{"brand_fusion", p.runFusion},
		},
	}
}

// Steps lists the step names in execution order.
func (c *Chain) Steps() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name
	}
	return names
}

// Run walks the step list until a terminal verdict, returning the verdict
// and the per-step trace.
func (c *Chain) Run(ctx context.Context, req *Request) (*Verdict, []StepTrace, error) {
	st, err := c.p.newRun(req)
	if err != nil {
		return nil, nil, err
	}
	defer c.p.release(st)

	trace := make([]StepTrace, 0, len(c.steps)+1)
	for _, s := range c.steps {
		start := time.Now()
		v, err := s.run(ctx, st)
		entry := StepTrace{Step: s.Name, Duration: time.Since(start), Terminal: v != nil || err != nil}
		trace = append(trace, entry)
		if err != nil {
			return nil, trace, err
		}
		if v == nil {
			continue
		}
		if v.Cached {
			return v, trace, nil
		}
		start = time.Now()
		v, err = c.p.finalize(ctx, st, v)
		trace = append(trace, StepTrace{Step: "persist", Duration: time.Since(start), Terminal: true})
		return v, trace, err
	}
	// brand_fusion is always terminal, so the walk cannot fall through.
	return nil, trace, fmt.Errorf("pipeline ended without a terminal state")
}
