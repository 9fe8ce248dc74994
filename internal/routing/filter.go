package routing

import "github.com/jordanhubbard/edgegate/internal/pricing"

// FilterProviders drops lastFailed from candidates so a caller can retry on a
// different provider. With no lastFailed the input is returned unchanged;
// otherwise a new slice is returned and candidates is left untouched.
func FilterProviders(candidates []pricing.Provider, lastFailed pricing.ProviderID) []pricing.Provider {
	if lastFailed == "" {
		return candidates
	}
	out := make([]pricing.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.ID != lastFailed {
			out = append(out, p)
		}
	}
	return out
}
