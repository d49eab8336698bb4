package catalog

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"fcfswatch/internal/campaign"
	logx "fcfswatch/pkg/logx"
)

// Result is the outcome of one Chain.Fetch for one scope.
type Result struct {
	Scope Scope
	// Batches holds each attempted fetcher's records in priority order.
	Batches [][]campaign.Campaign
	// Tiers lists the fetchers attempted, in order.
	Tiers   []string
	Errors  []error
	Records int
	// Anomalies counts undecodable records dropped across all tiers.
	Anomalies int
	// AllFailed is set when no tier produced a single record.
	AllFailed bool
}

func (r Result) Campaigns() []campaign.Campaign {
	out := make([]campaign.Campaign, 0, r.Records)
	for _, b := range r.Batches {
		out = append(out, b...)
	}
	return out
}

type Chain struct {
	fetchers []Fetcher
	timeout  time.Duration
	log      logx.Logger
	obs      Observer
}

// New builds the standard chain from endpoint configuration.
func New(cfg Config, log logx.Logger) *Chain {
	cfg = cfg.withDefaults()
	hc := &httpClient{
		hc:    &http.Client{Timeout: cfg.RequestTimeout},
		ua:    cfg.UserAgent,
		pacer: NewPacer(cfg.Pacing),
	}
	disabled := func(name string) bool { return slices.Contains(cfg.Disabled, name) }

	var fs []Fetcher
	if cfg.GraphQLEndpoint != "" && !disabled("primary") {
		fs = append(fs, &GraphQL{name: "primary", endpoint: cfg.GraphQLEndpoint, pageSize: cfg.PageSize, http: hc})
	}
	if cfg.SecondaryEndpoint != "" && !disabled("secondary") {
		fs = append(fs, &SecondaryGraphQL{GraphQL{name: "secondary", endpoint: cfg.SecondaryEndpoint, pageSize: cfg.PageSize, http: hc}})
	}
	if cfg.RESTBase != "" && !disabled("rest") {
		fs = append(fs, &REST{base: cfg.RESTBase, pageSize: cfg.PageSize, http: hc})
	}
	if cfg.WebBase != "" && !disabled("scrape") {
		fs = append(fs, &Scrape{base: cfg.WebBase, http: hc})
	}
	return NewChain(cfg.RequestTimeout, log, fs...)
}

// NewChain orders fetchers by tier, keeping the given order within a tier.
func NewChain(timeout time.Duration, log logx.Logger, fetchers ...Fetcher) *Chain {
	fs := slices.Clone(fetchers)
	slices.SortStableFunc(fs, func(a, b Fetcher) int { return int(a.Tier()) - int(b.Tier()) })
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{fetchers: fs, timeout: timeout, log: log.With(logx.String("comp", "catalog"))}
}

func (c *Chain) SetObserver(o Observer) { c.obs = o }

func (c *Chain) Sources() []string {
	out := make([]string, 0, len(c.fetchers))
	for _, f := range c.fetchers {
		out = append(out, f.Name())
	}
	return out
}

// Fetch runs the structured tier, then escalates to REST and scrape only
// while the running total is zero. Source errors never escape; they are
// collected in the result.
func (c *Chain) Fetch(ctx context.Context, scope Scope) Result {
	res := Result{Scope: scope}
	for _, tier := range []Tier{TierStructured, TierREST, TierScrape} {
		if tier != TierStructured && res.Records > 0 {
			break
		}
		for _, f := range c.fetchers {
			if f.Tier() != tier {
				continue
			}
			if ctx.Err() != nil {
				res.Errors = append(res.Errors, ctx.Err())
				res.AllFailed = res.Records == 0
				return res
			}
			b, err := c.call(ctx, f, scope)
			res.Tiers = append(res.Tiers, f.Name())
			res.Anomalies += b.Anomalies
			if err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Batches = append(res.Batches, b.Campaigns)
			res.Records += len(b.Campaigns)
		}
	}
	res.AllFailed = res.Records == 0
	if res.AllFailed {
		c.log.Warn("all catalog sources empty",
			logx.String("scope", scope.String()),
			logx.Strings("tiers", res.Tiers),
			logx.Int("errors", len(res.Errors)),
		)
	}
	return res
}

func (c *Chain) call(ctx context.Context, f Fetcher, scope Scope) (b Batch, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b, err = Batch{}, fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			b = Batch{}
			err = &SourceError{Source: f.Name(), Tier: f.Tier(), Scope: scope, Err: err}
			c.log.Warn("catalog fetch failed", logx.String("source", f.Name()), logx.String("scope", scope.String()), logx.Err(err))
		} else {
			c.log.Debug("catalog fetch", logx.String("source", f.Name()), logx.String("scope", scope.String()), logx.Int("records", len(b.Campaigns)))
			if b.Anomalies > 0 {
				c.log.Warn("catalog records skipped",
					logx.String("source", f.Name()),
					logx.String("scope", scope.String()),
					logx.Int("anomalies", b.Anomalies),
				)
			}
		}
		if c.obs != nil {
			c.obs.ObserveFetch(f.Name(), time.Since(start), len(b.Campaigns), b.Anomalies, err)
		}
	}()
	return f.Fetch(ctx, scope)
}

// Health probes every fetcher in order.
func (c *Chain) Health(ctx context.Context) []SourceHealth {
	out := make([]SourceHealth, 0, len(c.fetchers))
	for _, f := range c.fetchers {
		h := SourceHealth{Name: f.Name(), Tier: f.Tier().String()}
		start := time.Now()
		err := c.probe(ctx, f)
		h.Latency = time.Since(start)
		if err != nil {
			h.Err = err.Error()
		} else {
			h.Up = true
		}
		out = append(out, h)
	}
	return out
}

func (c *Chain) probe(ctx context.Context, f Fetcher) (err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return f.Probe(ctx)
}
