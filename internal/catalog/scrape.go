package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/url"
	"slices"

	"golang.org/x/net/html"

	"fcfswatch/internal/campaign"
)

var errNoPageData = errors.New("scrape: __NEXT_DATA__ not found")

// Scrape extracts campaign-shaped objects from the embedded page state of
// the public quest pages.
type Scrape struct {
	base string
	http *httpClient
}

func (s *Scrape) Name() string { return "scrape" }
func (s *Scrape) Tier() Tier   { return TierScrape }

func (s *Scrape) pageURL(scope Scope) string {
	if scope.Universal() {
		return joinURL(s.base, "explore")
	}
	return joinURL(s.base, "quest", url.PathEscape(scope.SpaceID))
}

func (s *Scrape) Fetch(ctx context.Context, scope Scope) (Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL(scope), nil)
	if err != nil {
		return Batch{}, err
	}
	req.Header.Set("Accept", "text/html")
	body, err := s.http.do(ctx, req)
	if err != nil {
		return Batch{}, err
	}
	raw, err := nextData(body)
	if err != nil {
		return Batch{}, err
	}
	var state any
	if err := json.Unmarshal(raw, &state); err != nil {
		return Batch{}, err
	}
	objs := campaignObjects(state)
	return normalizeBatch(objs, campaign.Space{ID: scope.SpaceID}, s.Name()), nil
}

func (s *Scrape) Probe(ctx context.Context) error {
	return s.http.reachable(ctx, http.MethodGet, s.base, nil)
}

// nextData returns the text of <script id="__NEXT_DATA__">.
func nextData(page []byte) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	var found []byte
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == "__NEXT_DATA__" {
					var buf bytes.Buffer
					for c := n.FirstChild; c != nil; c = c.NextSibling {
						if c.Type == html.TextNode {
							buf.WriteString(c.Data)
						}
					}
					found = buf.Bytes()
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(doc) || len(bytes.TrimSpace(found)) == 0 {
		return nil, errNoPageData
	}
	return found, nil
}

// campaignObjects collects objects that carry an id and a name plus one of
// numberID, startTime or type. Keys are walked in sorted order so the
// result is stable; the first occurrence of an id wins.
func campaignObjects(v any) []any {
	var out []any
	seen := make(map[string]struct{})
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			if looksLikeCampaign(x) {
				id, _ := x["id"].(string)
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, x)
				}
				return
			}
			for _, k := range slices.Sorted(maps.Keys(x)) {
				walk(x[k])
			}
		case []any:
			for _, child := range x {
				walk(child)
			}
		}
	}
	walk(v)
	return out
}

func looksLikeCampaign(m map[string]any) bool {
	id, _ := m["id"].(string)
	name, _ := m["name"].(string)
	if id == "" || name == "" {
		return false
	}
	for _, k := range []string{"numberID", "startTime", "type"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
