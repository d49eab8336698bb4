package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"fcfswatch/internal/campaign"
)

// REST is the loose fallback. It accepts {"data":[...]},
// {"data":{"list":[...]}}, {"campaigns":[...]} or a bare array.
type REST struct {
	base     string
	pageSize int
	http     *httpClient
}

func (r *REST) Name() string { return "rest" }
func (r *REST) Tier() Tier   { return TierREST }

func (r *REST) Fetch(ctx context.Context, scope Scope) (Batch, error) {
	q := url.Values{}
	q.Set("first", strconv.Itoa(r.pageSize))
	var u string
	if scope.Universal() {
		q.Set("status", "Active")
		u = joinURL(r.base, "campaigns")
	} else {
		u = joinURL(r.base, "spaces", url.PathEscape(scope.SpaceID), "campaigns")
	}
	resp, err := r.http.getJSON(ctx, u+"?"+q.Encode())
	if err != nil {
		return Batch{}, err
	}
	return normalizeBatch(listOf(resp), campaign.Space{ID: scope.SpaceID}, r.Name()), nil
}

func (r *REST) Probe(ctx context.Context) error {
	return r.http.reachable(ctx, http.MethodGet, r.base, nil)
}

func listOf(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case map[string]any:
		for _, k := range []string{"data", "campaigns", "list", "items", "results"} {
			if inner, ok := x[k]; ok {
				if l := listOf(inner); l != nil {
					return l
				}
			}
		}
	}
	return nil
}
