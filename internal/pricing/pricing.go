// Package pricing holds the provider catalog and the per-token cost estimator.
package pricing

import (
	"slices"
	"time"
)

// ProviderID names a routing slot. Vendors are bound to slots by configuration.
type ProviderID string

const (
	Edge           ProviderID = "edge"
	CloudPrimary   ProviderID = "cloud-primary"
	CloudSecondary ProviderID = "cloud-secondary"
)

// Kind distinguishes the trusted self-hosted endpoint from billed cloud APIs.
type Kind string

const (
	KindEdge  Kind = "edge"
	KindCloud Kind = "cloud"
)

// Tools that only cloud vendors offer.
const (
	ToolFunctionCalling = "function-calling"
	ToolVision          = "vision"
	ToolCodeExecution   = "code-execution"
)

// Price is the EUR cost per 1000 tokens.
type Price struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Provider is a slot bound to a vendor profile.
type Provider struct {
	ID         ProviderID        `json:"id"`
	Vendor     string            `json:"vendor"`
	Kind       Kind              `json:"kind"`
	BaseURL    string            `json:"base_url"`
	HealthPath string            `json:"health_path,omitempty"`
	Model      string            `json:"model"`
	Price      Price             `json:"price"`
	Tools      []string          `json:"tools,omitempty"`
	Languages  []string          `json:"languages"`
	Timeout    time.Duration     `json:"timeout"`
	MaxRetries int               `json:"max_retries"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Estimate returns the EUR cost for the given token counts:
// (tokensIn/1000)*pricePer1kIn + (tokensOut/1000)*pricePer1kOut.
func Estimate(tokensIn, tokensOut int, inPer1K, outPer1K float64) float64 {
	return float64(tokensIn)/1000*inPer1K + float64(tokensOut)/1000*outPer1K
}

// Estimate prices a request on this provider. Edge is always free.
func (p Provider) Estimate(tokensIn, tokensOut int) float64 {
	if p.Kind == KindEdge {
		return 0
	}
	return Estimate(tokensIn, tokensOut, p.Price.InputPer1K, p.Price.OutputPer1K)
}

// Supports reports whether the provider offers every tool and language listed.
func (p Provider) Supports(tools, languages []string) bool {
	for _, t := range tools {
		if !slices.Contains(p.Tools, t) {
			return false
		}
	}
	for _, l := range languages {
		if !slices.Contains(p.Languages, l) {
			return false
		}
	}
	return true
}

// IsCloudOnlyTool reports whether tool is one the edge endpoint never offers.
func IsCloudOnlyTool(tool string) bool {
	switch tool {
	case ToolFunctionCalling, ToolVision, ToolCodeExecution:
		return true
	}
	return false
}
