package llm

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{Model: "m"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("missing key: got %v", err)
	}
	if err := (Config{APIKey: "k"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("missing model: got %v", err)
	}
	if err := (Config{APIKey: "k", Model: "m"}).Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}

func TestOpenRouterForOverrides(t *testing.T) {
	t.Parallel()

	cfg := Config{
		APIKey:             " key ",
		Model:              "base/model",
		Temperature:        0.2,
		MaxCompletionToken: 512,
		OracleModel:        "oracle/model",
		OracleTemperature:  0,
		SummaryTemperature: -1,
	}

	oracle := cfg.OpenRouterFor(contractx.AgentTypeOracle)
	if oracle.Model != "oracle/model" || oracle.Temperature != 0 || oracle.APIKey != "key" {
		t.Fatalf("oracle config = %+v", oracle)
	}
	if oracle.MaxCompletionToken == nil || *oracle.MaxCompletionToken != 512 {
		t.Fatalf("max tokens = %v", oracle.MaxCompletionToken)
	}

	summary := cfg.OpenRouterFor(contractx.AgentTypeSummarizer)
	if summary.Model != "base/model" || summary.Temperature != 0.2 {
		t.Fatalf("summary config = %+v", summary)
	}
}
