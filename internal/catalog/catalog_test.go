package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fcfswatch/internal/campaign"
	logx "fcfswatch/pkg/logx"
)

type fakeFetcher struct {
	name  string
	tier  Tier
	out   []campaign.Campaign
	bad   int
	err   error
	panic bool
	calls atomic.Int32
}

func (f *fakeFetcher) Name() string { return f.name }
func (f *fakeFetcher) Tier() Tier   { return f.tier }
func (f *fakeFetcher) Fetch(context.Context, Scope) (Batch, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	return Batch{Campaigns: f.out, Anomalies: f.bad}, f.err
}
func (f *fakeFetcher) Probe(context.Context) error { return f.err }

func recs(ids ...string) []campaign.Campaign {
	out := make([]campaign.Campaign, 0, len(ids))
	for _, id := range ids {
		out = append(out, campaign.Campaign{ID: id, Name: id})
	}
	return out
}

func TestChainEscalatesRESTOnceBeforeScrape(t *testing.T) {
	t.Parallel()
	primary := &fakeFetcher{name: "primary", tier: TierStructured}
	secondary := &fakeFetcher{name: "secondary", tier: TierStructured, err: errors.New("schema changed")}
	rest := &fakeFetcher{name: "rest", tier: TierREST}
	scrape := &fakeFetcher{name: "scrape", tier: TierScrape, out: recs("s1")}

	// deliberately out of order; the chain sorts by tier
	c := NewChain(time.Second, logx.Nop(), scrape, rest, primary, secondary)
	res := c.Fetch(context.Background(), Scope{SpaceID: "space"})

	if got := rest.calls.Load(); got != 1 {
		t.Fatalf("rest calls = %d, want 1", got)
	}
	if got := scrape.calls.Load(); got != 1 {
		t.Fatalf("scrape calls = %d, want 1", got)
	}
	want := []string{"primary", "secondary", "rest", "scrape"}
	if strings.Join(res.Tiers, ",") != strings.Join(want, ",") {
		t.Fatalf("tiers = %v, want %v", res.Tiers, want)
	}
	if res.AllFailed || res.Records != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	var se *SourceError
	if !errors.As(res.Errors[0], &se) || se.Source != "secondary" {
		t.Fatalf("error = %v, want SourceError from secondary", res.Errors[0])
	}
}

func TestChainStopsEscalatingOnRecords(t *testing.T) {
	t.Parallel()
	primary := &fakeFetcher{name: "primary", tier: TierStructured}
	secondary := &fakeFetcher{name: "secondary", tier: TierStructured, out: recs("a", "b")}
	rest := &fakeFetcher{name: "rest", tier: TierREST, out: recs("r")}
	scrape := &fakeFetcher{name: "scrape", tier: TierScrape}

	res := NewChain(time.Second, logx.Nop(), primary, secondary, rest, scrape).Fetch(context.Background(), Scope{})
	if rest.calls.Load() != 0 || scrape.calls.Load() != 0 {
		t.Fatalf("fallbacks ran: rest=%d scrape=%d", rest.calls.Load(), scrape.calls.Load())
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 1 {
		t.Fatalf("both structured fetchers must run")
	}
	if got := res.Campaigns(); len(got) != 2 || got[0].ID != "a" {
		t.Fatalf("campaigns = %+v", got)
	}

	rest2 := &fakeFetcher{name: "rest", tier: TierREST, out: recs("r")}
	scrape2 := &fakeFetcher{name: "scrape", tier: TierScrape}
	res = NewChain(time.Second, logx.Nop(), &fakeFetcher{name: "primary"}, rest2, scrape2).Fetch(context.Background(), Scope{})
	if rest2.calls.Load() != 1 || scrape2.calls.Load() != 0 || res.Records != 1 {
		t.Fatalf("rest records must stop escalation: %+v", res)
	}
}

func TestChainAllFailedRecoversPanics(t *testing.T) {
	t.Parallel()
	c := NewChain(time.Second, logx.Nop(),
		&fakeFetcher{name: "primary", tier: TierStructured, panic: true},
		&fakeFetcher{name: "rest", tier: TierREST, err: errors.New("down")},
		&fakeFetcher{name: "scrape", tier: TierScrape},
	)
	res := c.Fetch(context.Background(), Scope{SpaceID: "x"})
	if !res.AllFailed || len(res.Errors) != 2 {
		t.Fatalf("res = %+v", res)
	}
	if !strings.Contains(res.Errors[0].Error(), "panic: boom") {
		t.Fatalf("panic not captured: %v", res.Errors[0])
	}
}

type fetchObs struct {
	mu        sync.Mutex
	anomalies map[string]int
}

func (o *fetchObs) ObserveFetch(source string, _ time.Duration, _, anomalies int, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.anomalies == nil {
		o.anomalies = map[string]int{}
	}
	o.anomalies[source] += anomalies
}

func TestChainCountsAnomalies(t *testing.T) {
	t.Parallel()
	primary := &fakeFetcher{name: "primary", tier: TierStructured, out: recs("a"), bad: 2}
	secondary := &fakeFetcher{name: "secondary", tier: TierStructured, bad: 1}
	c := NewChain(time.Second, logx.Nop(), primary, secondary)
	obs := &fetchObs{}
	c.SetObserver(obs)

	res := c.Fetch(context.Background(), Scope{})
	if res.Records != 1 || res.Anomalies != 3 {
		t.Fatalf("records=%d anomalies=%d, want 1 and 3", res.Records, res.Anomalies)
	}
	if obs.anomalies["primary"] != 2 || obs.anomalies["secondary"] != 1 {
		t.Fatalf("observed = %v", obs.anomalies)
	}
}

func TestRESTSkipsRecordsWithoutID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"id":"a","name":"A"},{"name":"no id"},"junk"]}`)
	}))
	defer srv.Close()
	c := NewChain(time.Second, logx.Nop(), &REST{base: srv.URL, pageSize: 5, http: newTestClient()})

	res := c.Fetch(context.Background(), Scope{})
	if res.Records != 1 || res.Anomalies != 2 || res.AllFailed {
		t.Fatalf("res = %+v", res)
	}
}

func TestChainHealth(t *testing.T) {
	t.Parallel()
	c := NewChain(time.Second, logx.Nop(),
		&fakeFetcher{name: "primary", tier: TierStructured},
		&fakeFetcher{name: "rest", tier: TierREST, err: errors.New("down")},
	)
	hs := c.Health(context.Background())
	if len(hs) != 2 || !hs[0].Up || hs[1].Up || hs[1].Err != "down" {
		t.Fatalf("health = %+v", hs)
	}
}

func newTestClient() *httpClient {
	return &httpClient{hc: &http.Client{Timeout: 5 * time.Second}, ua: "test-agent", pacer: NewPacer(0)}
}

func TestGraphQLSpaceQuery(t *testing.T) {
	t.Parallel()
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		var req struct {
			OperationName string         `json:"operationName"`
			Variables     map[string]any `json:"variables"`
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		if req.OperationName != "SpaceCampaignList" || req.Variables["id"] != "SpaceIdentifier123" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"space":{"id":"SpaceIdentifier123","name":"Demo","campaigns":{"edges":[
			{"node":{"id":"GC1","numberID":7,"name":"FCFS mint","status":"Active","type":"Drop","startTime":1700000000}},
			{"node":{"name":"no id"}}
		],"pageInfo":{"hasNextPage":false}}}}}`)
	}))
	defer srv.Close()

	g := &GraphQL{name: "primary", endpoint: srv.URL, pageSize: 10, http: newTestClient()}
	b, err := g.Fetch(context.Background(), Scope{SpaceID: "SpaceIdentifier123"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ua, _ := gotUA.Load().(string); ua != "test-agent" {
		t.Fatalf("user agent = %q", ua)
	}
	cs := b.Campaigns
	if len(cs) != 1 || b.Anomalies != 1 {
		t.Fatalf("records = %d anomalies = %d, want 1 and 1", len(cs), b.Anomalies)
	}
	c := cs[0]
	if c.ID != "GC1" || c.NumberID != 7 || c.Space.Name != "Demo" || c.Source != "primary" {
		t.Fatalf("campaign = %+v", c)
	}
}

func TestGraphQLErrorsSurface(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"Cannot query field"}]}`)
	}))
	defer srv.Close()

	g := &GraphQL{name: "primary", endpoint: srv.URL, pageSize: 10, http: newTestClient()}
	if _, err := g.Fetch(context.Background(), Scope{SpaceID: "s"}); err == nil || !strings.Contains(err.Error(), "Cannot query field") {
		t.Fatalf("err = %v", err)
	}
	if err := g.Probe(context.Background()); err == nil {
		t.Fatalf("probe should fail on graphql errors")
	}
}

func TestSecondaryAcceptsFlatList(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{"campaigns":[{"id":"a","name":"A"},{"id":"b","name":"B"}]}}`)
	}))
	defer srv.Close()
	g := &SecondaryGraphQL{GraphQL{name: "secondary", endpoint: srv.URL, pageSize: 5, http: newTestClient()}}
	b, err := g.Fetch(context.Background(), Scope{SpaceID: "sp"})
	cs := b.Campaigns
	if err != nil || len(cs) != 2 || cs[1].Space.ID != "sp" {
		t.Fatalf("cs=%+v err=%v", cs, err)
	}
}

func TestRESTShapes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "bare array", body: `[{"id":"a","name":"A"}]`, want: 1},
		{name: "data array", body: `{"data":[{"id":"a"},{"id":"b"}]}`, want: 2},
		{name: "data list", body: `{"data":{"list":[{"id":"a"}]}}`, want: 1},
		{name: "campaigns", body: `{"campaigns":[{"id":"a"}]}`, want: 1},
		{name: "unknown", body: `{"foo":1}`, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var path atomic.Value
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path.Store(r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			r := &REST{base: srv.URL + "/api/", pageSize: 5, http: newTestClient()}
			b, err := r.Fetch(context.Background(), Scope{SpaceID: "sp"})
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if p, _ := path.Load().(string); p != "/api/spaces/sp/campaigns" {
				t.Fatalf("path = %q", p)
			}
			if len(b.Campaigns) != tt.want {
				t.Fatalf("records = %d, want %d", len(b.Campaigns), tt.want)
			}
		})
	}
}

func TestRESTStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	r := &REST{base: srv.URL, pageSize: 5, http: newTestClient()}
	_, err := r.Fetch(context.Background(), Scope{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("err = %v", err)
	}
	if err := r.Probe(context.Background()); err != nil {
		t.Fatalf("4xx probe should count as reachable: %v", err)
	}
}

const questPage = `<!doctype html><html><head><title>Quest</title></head><body>
<div id="__next"></div>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{
  "space":{"id":"SpaceIdentifier123","name":"Demo"},
  "campaigns":[
    {"id":"GC9","name":"Grab now","numberID":9,"type":"Drop"},
    {"id":"GC9","name":"Grab now","numberID":9},
    {"id":"user1","name":"not a campaign"}
  ]}}}</script>
</body></html>`

func TestScrapeNextData(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quest/SpaceIdentifier123" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, questPage)
	}))
	defer srv.Close()

	s := &Scrape{base: srv.URL, http: newTestClient()}
	b, err := s.Fetch(context.Background(), Scope{SpaceID: "SpaceIdentifier123"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	cs := b.Campaigns
	if len(cs) != 1 || cs[0].ID != "GC9" || cs[0].Kind != campaign.KindDrop || cs[0].Source != "scrape" {
		t.Fatalf("cs = %+v", cs)
	}
}

func TestScrapeMissingNextData(t *testing.T) {
	t.Parallel()
	if _, err := nextData([]byte(`<html><body><script>var x = 1</script></body></html>`)); !errors.Is(err, errNoPageData) {
		t.Fatalf("err = %v", err)
	}
}

func TestPacerSpacesCallsPerHost(t *testing.T) {
	t.Parallel()
	p := NewPacer(40 * time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx, "a.example"); err != nil {
			t.Fatal(err)
		}
	}
	if el := time.Since(start); el < 70*time.Millisecond {
		t.Fatalf("3 paced calls took %s, want >= 70ms", el)
	}

	start = time.Now()
	if err := p.Wait(ctx, "b.example"); err != nil {
		t.Fatal(err)
	}
	if el := time.Since(start); el > 30*time.Millisecond {
		t.Fatalf("other host waited %s", el)
	}
}

func TestNewWiresConfiguredSources(t *testing.T) {
	t.Parallel()
	c := New(Config{
		GraphQLEndpoint:   "http://gql.invalid/query",
		SecondaryEndpoint: "http://gql2.invalid/query",
		RESTBase:          "http://rest.invalid",
		WebBase:           "http://web.invalid",
		Disabled:          []string{"secondary"},
	}, logx.Nop())
	if got := strings.Join(c.Sources(), ","); got != "primary,rest,scrape" {
		t.Fatalf("sources = %s", got)
	}
}
