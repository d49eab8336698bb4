// Package catalog retrieves campaign records from the remote catalog.
//
// Four independent fetchers are tried in priority order by a Chain:
// the primary and secondary GraphQL queries always run; the REST fallback
// runs only when both returned nothing, and the page scrape only when the
// REST fallback returned nothing as well. Every remote call to one host
// goes through a shared Pacer.
package catalog

import (
	"context"
	"fmt"
	"time"

	"fcfswatch/internal/campaign"
)

type Tier int

const (
	TierStructured Tier = iota
	TierREST
	TierScrape
)

func (t Tier) String() string {
	switch t {
	case TierStructured:
		return "structured"
	case TierREST:
		return "rest"
	case TierScrape:
		return "scrape"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Scope selects what to fetch. An empty SpaceID is the universal scope
// (the catalog's broad listing).
type Scope struct {
	SpaceID string
}

func (s Scope) Universal() bool { return s.SpaceID == "" }

func (s Scope) String() string {
	if s.Universal() {
		return "all"
	}
	return s.SpaceID
}

// Batch is one fetcher's decoded records. Anomalies counts records that
// were dropped because they could not be decoded into a campaign.
type Batch struct {
	Campaigns []campaign.Campaign
	Anomalies int
}

func normalizeBatch(list []any, space campaign.Space, source string) Batch {
	cs, skipped := campaign.NormalizeAll(list, space, source)
	return Batch{Campaigns: cs, Anomalies: skipped}
}

type Fetcher interface {
	Name() string
	Tier() Tier
	Fetch(ctx context.Context, scope Scope) (Batch, error)
	// Probe checks reachability without fetching a full listing.
	Probe(ctx context.Context) error
}

// SourceError ties a fetch failure to the fetcher that produced it.
type SourceError struct {
	Source string
	Tier   Tier
	Scope  Scope
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("catalog %s (%s) scope=%s: %v", e.Source, e.Tier, e.Scope, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// SourceHealth is one row of a health check.
type SourceHealth struct {
	Name    string        `json:"name"`
	Tier    string        `json:"tier"`
	Up      bool          `json:"up"`
	Err     string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Config describes the remote endpoints. An empty endpoint disables its
// fetcher, as does listing the fetcher name in Disabled.
type Config struct {
	GraphQLEndpoint   string
	SecondaryEndpoint string
	RESTBase          string
	WebBase           string
	UserAgent         string
	PageSize          int
	RequestTimeout    time.Duration
	Pacing            time.Duration
	Disabled          []string
}

const (
	DefaultGraphQLEndpoint = "https://graphigo.prd.galaxy.eco/query"
	DefaultWebBase         = "https://app.galxe.com"
	DefaultUserAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultPageSize        = 50
	DefaultRequestTimeout  = 12 * time.Second
	DefaultPacing          = 750 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Pacing < 0 {
		c.Pacing = 0
	}
	return c
}

// Observer receives per-call fetch outcomes (metrics).
type Observer interface {
	ObserveFetch(source string, d time.Duration, records, anomalies int, err error)
}
