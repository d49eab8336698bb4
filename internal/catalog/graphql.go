package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fcfswatch/internal/campaign"
)

const campaignFields = `
	id
	numberID
	name
	description
	info
	startTime
	endTime
	status
	type
	space { id name }
`

const spaceCampaignListQuery = `query SpaceCampaignList($id: ID!, $first: Int, $after: String) {
  space(id: $id) {
    id
    name
    campaigns(first: $first, after: $after) {
      edges { node {` + campaignFields + `} }
      pageInfo { endCursor hasNextPage }
    }
  }
}`

const campaignListQuery = `query CampaignList($input: ListCampaignInput!) {
  campaigns(input: $input) {
    list {` + campaignFields + `}
  }
}`

const secondaryQuery = `query Campaigns($spaceId: ID, $first: Int) {
  campaigns(spaceId: $spaceId, first: $first) {
    list {` + campaignFields + `}
  }
}`

const probeQuery = `query Probe { __typename }`

// graphQLError is a non-empty "errors" array without usable data.
type graphQLError struct {
	Messages []string
}

func (e *graphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

func graphQLErrors(resp any) error {
	list, _ := dig(resp, "errors").([]any)
	if len(list) == 0 {
		return nil
	}
	var msgs []string
	for _, item := range list {
		if m, ok := dig(item, "message").(string); ok && m != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		msgs = []string{"unknown error"}
	}
	return &graphQLError{Messages: msgs}
}

// GraphQL is the primary structured fetcher.
type GraphQL struct {
	name     string
	endpoint string
	pageSize int
	http     *httpClient
}

func (g *GraphQL) Name() string { return g.name }
func (g *GraphQL) Tier() Tier   { return TierStructured }

func (g *GraphQL) Fetch(ctx context.Context, scope Scope) (Batch, error) {
	if scope.Universal() {
		resp, err := g.http.postJSON(ctx, g.endpoint, map[string]any{
			"operationName": "CampaignList",
			"query":         campaignListQuery,
			"variables": map[string]any{
				"input": map[string]any{
					"listType": "Newest",
					"first":    g.pageSize,
					"statuses": []string{"Active", "NotStarted"},
				},
			},
		})
		if err != nil {
			return Batch{}, err
		}
		list, _ := dig(resp, "data", "campaigns", "list").([]any)
		if list == nil {
			if err := graphQLErrors(resp); err != nil {
				return Batch{}, err
			}
		}
		return normalizeBatch(list, campaign.Space{}, g.name), nil
	}

	resp, err := g.http.postJSON(ctx, g.endpoint, map[string]any{
		"operationName": "SpaceCampaignList",
		"query":         spaceCampaignListQuery,
		"variables":     map[string]any{"id": scope.SpaceID, "first": g.pageSize},
	})
	if err != nil {
		return Batch{}, err
	}
	space := dig(resp, "data", "space")
	if space == nil {
		if err := graphQLErrors(resp); err != nil {
			return Batch{}, err
		}
		return Batch{}, nil
	}
	edges, _ := dig(space, "campaigns", "edges").([]any)
	nodes := make([]any, 0, len(edges))
	for _, e := range edges {
		if n := dig(e, "node"); n != nil {
			nodes = append(nodes, n)
		}
	}
	sp := campaign.Space{ID: scope.SpaceID}
	if name, ok := dig(space, "name").(string); ok {
		sp.Name = name
	}
	return normalizeBatch(nodes, sp, g.name), nil
}

func (g *GraphQL) Probe(ctx context.Context) error {
	resp, err := g.http.postJSON(ctx, g.endpoint, map[string]any{"query": probeQuery})
	if err != nil {
		return err
	}
	if dig(resp, "data") == nil {
		if err := graphQLErrors(resp); err != nil {
			return err
		}
		return errors.New("graphql: empty response")
	}
	return nil
}

// SecondaryGraphQL queries an alternate schema shape that exposes a flat
// campaigns list keyed by space.
type SecondaryGraphQL struct {
	GraphQL
}

func (g *SecondaryGraphQL) Fetch(ctx context.Context, scope Scope) (Batch, error) {
	vars := map[string]any{"first": g.pageSize}
	if !scope.Universal() {
		vars["spaceId"] = scope.SpaceID
	}
	resp, err := g.http.postJSON(ctx, g.endpoint, map[string]any{
		"operationName": "Campaigns",
		"query":         secondaryQuery,
		"variables":     vars,
	})
	if err != nil {
		return Batch{}, err
	}
	var list []any
	switch v := dig(resp, "data", "campaigns").(type) {
	case []any:
		list = v
	case map[string]any:
		list, _ = v["list"].([]any)
	case nil:
		if err := graphQLErrors(resp); err != nil {
			return Batch{}, err
		}
	default:
		return Batch{}, fmt.Errorf("graphql: unexpected campaigns type %T", v)
	}
	return normalizeBatch(list, campaign.Space{ID: scope.SpaceID}, g.name), nil
}
