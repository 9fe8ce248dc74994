package routing

import (
	"encoding/json"
	"time"

	"github.com/jordanhubbard/edgegate/internal/pricing"
)

// Sensitivity is the upstream data classification of a request.
type Sensitivity string

const (
	SensitivityNone         Sensitivity = "none"
	SensitivityPII          Sensitivity = "pii"
	SensitivityConfidential Sensitivity = "confidential"
)

// Restricted reports whether content of this class must stay on the edge.
func (s Sensitivity) Restricted() bool {
	return s == SensitivityPII || s == SensitivityConfidential
}

// Request is an already-classified inference request.
type Request struct {
	ID                 string             `json:"id,omitempty"`
	OrgID              string             `json:"org_id" validate:"required"`
	Sensitivity        Sensitivity        `json:"sensitivity,omitempty" validate:"omitempty,oneof=none pii confidential"`
	TokensIn           int                `json:"tokens_in" validate:"gte=0"`
	TokensOutEstimate  int                `json:"tokens_out_estimate" validate:"gte=0"`
	BudgetCents        int64              `json:"budget_cents,omitempty" validate:"gte=0"`
	RequiredTools      []string           `json:"required_tools,omitempty" validate:"dive,required"`
	RequiredLanguages  []string           `json:"required_languages,omitempty" validate:"dive,required"`
	Content            string             `json:"content,omitempty"`
	LastFailedProvider pricing.ProviderID `json:"last_failed_provider,omitempty" validate:"omitempty,oneof=edge cloud-primary cloud-secondary"`
}

// BudgetEUR converts the per-request budget from minor units.
func (r Request) BudgetEUR() float64 {
	return float64(r.BudgetCents) / 100
}

// Decision tells the caller where and how to dispatch a request.
type Decision struct {
	RequestID        string             `json:"request_id"`
	Provider         pricing.ProviderID `json:"provider"`
	Vendor           string             `json:"vendor"`
	Endpoint         string             `json:"endpoint"`
	Headers          map[string]string  `json:"headers"`
	ShouldRedact     bool               `json:"should_redact"`
	MaxRetries       int                `json:"max_retries"`
	Timeout          time.Duration      `json:"-"`
	Rule             string             `json:"rule"`
	EstimatedCostEUR float64            `json:"estimated_cost_eur"`
	Degraded         bool               `json:"degraded,omitempty"`
}

type decisionJSON struct {
	decisionAlias
	TimeoutMs int64 `json:"timeout_ms"`
}

type decisionAlias Decision

// MarshalJSON renders Timeout as whole milliseconds.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(decisionJSON{decisionAlias: decisionAlias(d), TimeoutMs: d.Timeout.Milliseconds()})
}

func (d *Decision) UnmarshalJSON(b []byte) error {
	var v decisionJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*d = Decision(v.decisionAlias)
	d.Timeout = time.Duration(v.TimeoutMs) * time.Millisecond
	return nil
}

// CredentialSource resolves the API credential configured for a cloud slot.
type CredentialSource interface {
	Credential(id pricing.ProviderID) (string, bool)
}

// StaticCredentials is a fixed credential set, typically read from the
// environment at startup.
type StaticCredentials map[pricing.ProviderID]string

func (c StaticCredentials) Credential(id pricing.ProviderID) (string, bool) {
	v, ok := c[id]
	return v, ok && v != ""
}

// ChainCredentials consults each source in order and returns the first hit.
type ChainCredentials []CredentialSource

func (c ChainCredentials) Credential(id pricing.ProviderID) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v, ok := src.Credential(id); ok {
			return v, true
		}
	}
	return "", false
}
