package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jordanhubbard/edgegate/internal/pricing"
)

func providers(ids ...pricing.ProviderID) []pricing.Provider {
	out := make([]pricing.Provider, len(ids))
	for i, id := range ids {
		out[i] = pricing.Provider{ID: id}
	}
	return out
}

func ids(ps []pricing.Provider) []pricing.ProviderID {
	out := make([]pricing.ProviderID, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestFilterProvidersIdentity(t *testing.T) {
	in := providers(pricing.CloudPrimary, pricing.CloudSecondary)
	out := FilterProviders(in, "")

	assert.Equal(t, in, out)
	assert.Same(t, &in[0], &out[0], "empty lastFailed must return the input slice")
}

func TestFilterProvidersRemovesLastFailed(t *testing.T) {
	tests := []struct {
		name       string
		in         []pricing.Provider
		lastFailed pricing.ProviderID
		want       []pricing.ProviderID
	}{
		{"primary failed", providers(pricing.CloudPrimary, pricing.CloudSecondary), pricing.CloudPrimary, []pricing.ProviderID{pricing.CloudSecondary}},
		{"secondary failed", providers(pricing.CloudPrimary, pricing.CloudSecondary), pricing.CloudSecondary, []pricing.ProviderID{pricing.CloudPrimary}},
		{"not present", providers(pricing.CloudPrimary), pricing.Edge, []pricing.ProviderID{pricing.CloudPrimary}},
		{"only candidate", providers(pricing.CloudSecondary), pricing.CloudSecondary, []pricing.ProviderID{}},
		{"empty input", nil, pricing.CloudPrimary, []pricing.ProviderID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := ids(tt.in)
			got := FilterProviders(tt.in, tt.lastFailed)

			assert.Equal(t, tt.want, ids(got))
			assert.Equal(t, before, ids(tt.in), "input must not be modified")
		})
	}
}
