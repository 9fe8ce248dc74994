package pricing

import (
	"math"
	"testing"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name      string
		in, out   int
		inP, outP float64
		want      float64
	}{
		{"one per 1k each side", 500, 500, 1, 1, 1.0},
		{"over cap example", 2000, 2000, 1, 1, 4.0},
		{"zero tokens", 0, 0, 5, 5, 0},
		{"asymmetric prices", 1000, 2000, 0.005, 0.015, 0.035},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(tt.in, tt.out, tt.inP, tt.outP)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Estimate(%d, %d, %v, %v) = %v, want %v", tt.in, tt.out, tt.inP, tt.outP, got, tt.want)
			}
		})
	}
}

func TestEdgeIsAlwaysFree(t *testing.T) {
	edge := EdgeProvider("http://edge.internal:11434")
	edge.Price = Price{InputPer1K: 10, OutputPer1K: 10}
	if got := edge.Estimate(100000, 100000); got != 0 {
		t.Errorf("edge estimate = %v, want 0", got)
	}
}

func TestEdgeHealthURL(t *testing.T) {
	edge := EdgeProvider("http://edge.internal:11434/")
	if got := edge.HealthURL(); got != "http://edge.internal:11434/health" {
		t.Errorf("HealthURL() = %q", got)
	}
	if got := (Provider{}).HealthURL(); got != "" {
		t.Errorf("empty provider HealthURL() = %q, want empty", got)
	}
}

func TestCloudProvider(t *testing.T) {
	p, err := CloudProvider(CloudPrimary, "openai", "")
	if err != nil {
		t.Fatalf("CloudProvider: %v", err)
	}
	if p.ID != CloudPrimary || p.Kind != KindCloud {
		t.Errorf("unexpected slot binding: %+v", p)
	}
	if got := p.Estimate(1000, 1000); math.Abs(got-0.02) > 1e-9 {
		t.Errorf("openai estimate = %v, want 0.02", got)
	}

	// Profiles must not share slices with the catalog.
	p.Tools[0] = "mutated"
	again, _ := CloudProvider(CloudSecondary, "openai", "")
	if again.Tools[0] == "mutated" {
		t.Error("catalog profile was mutated through a returned provider")
	}
}

func TestCloudProviderErrors(t *testing.T) {
	if _, err := CloudProvider(Edge, "openai", ""); err == nil {
		t.Error("expected error binding a vendor to the edge slot")
	}
	if _, err := CloudProvider(CloudPrimary, "nope", ""); err == nil {
		t.Error("expected error for unknown vendor")
	}
	if _, err := CloudProvider(CloudPrimary, "azure-openai", ""); err == nil {
		t.Error("expected error for azure-openai without base URL")
	}
	if _, err := CloudProvider(CloudPrimary, "azure-openai", "https://acme.openai.azure.com"); err != nil {
		t.Errorf("azure-openai with base URL: %v", err)
	}
}

func TestSupports(t *testing.T) {
	edge := EdgeProvider("http://edge")
	if !edge.Supports(nil, []string{"en", "de"}) {
		t.Error("edge should support en and de")
	}
	if edge.Supports([]string{ToolVision}, nil) {
		t.Error("edge should not support vision")
	}
	anthropic, _ := CloudProvider(CloudSecondary, "anthropic", "")
	if anthropic.Supports([]string{ToolFunctionCalling}, nil) {
		t.Error("anthropic profile has no function calling")
	}
	if !anthropic.Supports([]string{ToolVision}, []string{"ja"}) {
		t.Error("anthropic should support vision in ja")
	}
}

func TestIsCloudOnlyTool(t *testing.T) {
	for _, tool := range []string{ToolFunctionCalling, ToolVision, ToolCodeExecution} {
		if !IsCloudOnlyTool(tool) {
			t.Errorf("%s should be cloud-only", tool)
		}
	}
	if IsCloudOnlyTool("text-generation") {
		t.Error("text-generation is served by the edge")
	}
}
