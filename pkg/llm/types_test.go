package llm

import (
	"strings"
	"testing"
)

func TestGenerationConfigSetGetRoundTrip(t *testing.T) {
	cfg := &GenerationConfig{}

	if err := cfg.Set("temperature", 0.9); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("top_k", 50); err != nil {
		t.Fatal(err)
	}

	v, err := cfg.Get("temperature")
	if err != nil {
		t.Fatal(err)
	}
	if v != 0.9 {
		t.Errorf("expected 0.9, got %v", v)
	}

	v, _ = cfg.Get("top_k")
	if v != 50 {
		t.Errorf("expected 50, got %v", v)
	}
}

func TestGenerationConfigSetOnlyNamedParameter(t *testing.T) {
	cfg := &GenerationConfig{Temperature: 0.7, TopK: 40, TopP: 0.95}
	before := *cfg

	if err := cfg.Set("top_k", 10); err != nil {
		t.Fatal(err)
	}

	if cfg.TopK != 10 {
		t.Errorf("expected top_k 10, got %d", cfg.TopK)
	}
	if cfg.Temperature != before.Temperature || cfg.TopP != before.TopP {
		t.Error("other parameters should be untouched")
	}
}

func TestGenerationConfigIntCoercion(t *testing.T) {
	cfg := &GenerationConfig{}

	// Bool parameters accept ints from command parsing.
	if err := cfg.Set("do_sample", 1); err != nil {
		t.Fatal(err)
	}
	if !cfg.DoSample {
		t.Error("do_sample should be true after Set(1)")
	}

	// Float parameters accept ints too.
	if err := cfg.Set("length_penalty", 2); err != nil {
		t.Fatal(err)
	}
	if cfg.LengthPenalty != 2.0 {
		t.Errorf("expected 2.0, got %v", cfg.LengthPenalty)
	}
}

func TestGenerationConfigUnknownParameter(t *testing.T) {
	cfg := &GenerationConfig{}
	if err := cfg.Set("mirostat", 2); err == nil {
		t.Error("expected error for unknown parameter")
	}
	if _, err := cfg.Get("mirostat"); err == nil {
		t.Error("expected error for unknown parameter")
	}
}

func TestGenerationConfigCloneIsIndependent(t *testing.T) {
	cfg := &GenerationConfig{Temperature: 0.9}
	clone := cfg.Clone()
	clone.Temperature = 0.1

	if cfg.Temperature != 0.9 {
		t.Error("mutating the clone changed the original")
	}
}

func TestGenerationConfigNonDefaultString(t *testing.T) {
	cfg := DefaultGenerationConfig()
	if got := cfg.NonDefaultString(); got != "all parameters at defaults" {
		t.Errorf("unexpected summary for defaults: %q", got)
	}

	cfg.TopK = 40
	cfg.DoSample = true
	summary := cfg.NonDefaultString()
	if !strings.Contains(summary, "top_k: 40") || !strings.Contains(summary, "do_sample: true") {
		t.Errorf("summary missing changed parameters: %q", summary)
	}
	if strings.Contains(summary, "num_beams") {
		t.Errorf("summary includes unchanged parameter: %q", summary)
	}
}
