package monitor

import (
	"context"
	"fmt"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/storage"
)

// Merge dedups campaigns by id across batches. The first occurrence wins
// and output order is batch order, then record order.
func Merge(batches ...[]campaign.Campaign) []campaign.Campaign {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	seen := make(map[string]struct{}, n)
	out := make([]campaign.Campaign, 0, n)
	for _, b := range batches {
		for _, c := range b {
			if c.ID == "" {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// FilterUnseen drops campaigns already recorded as detected. A failed
// lookup skips only that campaign; its error is returned alongside.
func FilterUnseen(ctx context.Context, st storage.Store, cs []campaign.Campaign) ([]campaign.Campaign, []error) {
	out := make([]campaign.Campaign, 0, len(cs))
	var errs []error
	for _, c := range cs {
		seen, err := st.IsDetected(ctx, c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup %s: %w", c.ID, err))
			continue
		}
		if !seen {
			out = append(out, c)
		}
	}
	return out, errs
}
