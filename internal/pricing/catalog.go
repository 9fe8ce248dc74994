package pricing

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// edgeLanguages is the default language set served by the self-hosted model.
var edgeLanguages = []string{"en", "es", "fr", "de", "it", "pt"}

// EdgeLanguages returns a copy of the languages the edge endpoint supports.
func EdgeLanguages() []string {
	return slices.Clone(edgeLanguages)
}

// vendorProfiles are the cloud vendors a slot can be bound to.
var vendorProfiles = map[string]Provider{
	"openai": {
		Vendor:     "openai",
		Kind:       KindCloud,
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o",
		Price:      Price{InputPer1K: 0.005, OutputPer1K: 0.015},
		Tools:      []string{ToolFunctionCalling, ToolVision, ToolCodeExecution},
		Languages:  []string{"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh"},
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	},
	"anthropic": {
		Vendor:     "anthropic",
		Kind:       KindCloud,
		BaseURL:    "https://api.anthropic.com/v1",
		Model:      "claude-3-5-sonnet-20241022",
		Price:      Price{InputPer1K: 0.003, OutputPer1K: 0.015},
		Tools:      []string{ToolVision},
		Languages:  []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		Headers:    map[string]string{"anthropic-version": "2023-06-01"},
	},
	"gemini": {
		Vendor:     "gemini",
		Kind:       KindCloud,
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-1.5-pro",
		Price:      Price{InputPer1K: 0.00125, OutputPer1K: 0.005},
		Tools:      []string{ToolFunctionCalling, ToolVision, ToolCodeExecution},
		Languages:  []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh", "hi", "ar"},
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	},
	"azure-openai": {
		Vendor:     "azure-openai",
		Kind:       KindCloud,
		Model:      "gpt-4o",
		Price:      Price{InputPer1K: 0.005, OutputPer1K: 0.015},
		Tools:      []string{ToolFunctionCalling, ToolVision},
		Languages:  []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		Timeout:    60 * time.Second,
		MaxRetries: 3,
	},
}

// Vendors lists the known cloud vendor names in sorted order.
func Vendors() []string {
	return slices.Sorted(maps.Keys(vendorProfiles))
}

// EdgeProvider builds the edge slot for the given base URL.
func EdgeProvider(baseURL string) Provider {
	return Provider{
		ID:         Edge,
		Vendor:     "mistral",
		Kind:       KindEdge,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HealthPath: "/health",
		Model:      "mistral-7b-instruct",
		Languages:  EdgeLanguages(),
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

// HealthURL returns the liveness endpoint, or "" when the provider has none.
func (p Provider) HealthURL() string {
	if p.HealthPath == "" || p.BaseURL == "" {
		return ""
	}
	return p.BaseURL + p.HealthPath
}

// CloudProvider binds a vendor profile to a cloud slot. baseURL overrides the
// vendor default when non-empty (required for azure-openai).
func CloudProvider(id ProviderID, vendor, baseURL string) (Provider, error) {
	if id != CloudPrimary && id != CloudSecondary {
		return Provider{}, fmt.Errorf("pricing: %q is not a cloud slot", id)
	}
	profile, ok := vendorProfiles[vendor]
	if !ok {
		return Provider{}, fmt.Errorf("pricing: unknown vendor %q (known: %s)", vendor, strings.Join(Vendors(), ", "))
	}
	p := profile
	p.ID = id
	p.Tools = slices.Clone(profile.Tools)
	p.Languages = slices.Clone(profile.Languages)
	p.Headers = maps.Clone(profile.Headers)
	if baseURL != "" {
		p.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if p.BaseURL == "" {
		return Provider{}, fmt.Errorf("pricing: vendor %q requires a base URL", vendor)
	}
	return p, nil
}
