package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Message represents a single role-tagged entry in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Result is what a backend returns for one generation call.
type Result struct {
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// GenerationConfig holds the sampling and decoding parameters for one
// model type. Sessions hold their own copies; backends only read them.
type GenerationConfig struct {
	MaxNewTokens      int     `json:"max_new_tokens"`
	DoSample          bool    `json:"do_sample"`
	Temperature       float64 `json:"temperature"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	NumBeams          int     `json:"num_beams"`
	LengthPenalty     float64 `json:"length_penalty"`
	EarlyStopping     bool    `json:"early_stopping"`
	NoRepeatNgramSize int     `json:"no_repeat_ngram_size"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultGenerationConfig returns the stock parameter values used before
// a model's own defaults are known.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		MaxNewTokens:      256,
		Temperature:       1.0,
		TopK:              50,
		TopP:              1.0,
		NumBeams:          1,
		LengthPenalty:     1.0,
		RepetitionPenalty: 1.0,
	}
}

// Clone returns an independent copy.
func (g *GenerationConfig) Clone() *GenerationConfig {
	c := *g
	return &c
}

// Get returns the value of the parameter with the given name.
func (g *GenerationConfig) Get(name string) (any, error) {
	switch name {
	case "max_new_tokens":
		return g.MaxNewTokens, nil
	case "do_sample":
		return g.DoSample, nil
	case "temperature":
		return g.Temperature, nil
	case "top_k":
		return g.TopK, nil
	case "top_p":
		return g.TopP, nil
	case "num_beams":
		return g.NumBeams, nil
	case "length_penalty":
		return g.LengthPenalty, nil
	case "early_stopping":
		return g.EarlyStopping, nil
	case "no_repeat_ngram_size":
		return g.NoRepeatNgramSize, nil
	case "repetition_penalty":
		return g.RepetitionPenalty, nil
	}
	return nil, fmt.Errorf("unknown generation parameter: %s", name)
}

// Set updates the parameter with the given name. Integer values are
// accepted for float and bool parameters (0 is false, anything else true)
// so that command input parsed as int still lands on the right field.
func (g *GenerationConfig) Set(name string, value any) error {
	switch name {
	case "max_new_tokens":
		return setInt(&g.MaxNewTokens, name, value)
	case "do_sample":
		return setBool(&g.DoSample, name, value)
	case "temperature":
		return setFloat(&g.Temperature, name, value)
	case "top_k":
		return setInt(&g.TopK, name, value)
	case "top_p":
		return setFloat(&g.TopP, name, value)
	case "num_beams":
		return setInt(&g.NumBeams, name, value)
	case "length_penalty":
		return setFloat(&g.LengthPenalty, name, value)
	case "early_stopping":
		return setBool(&g.EarlyStopping, name, value)
	case "no_repeat_ngram_size":
		return setInt(&g.NoRepeatNgramSize, name, value)
	case "repetition_penalty":
		return setFloat(&g.RepetitionPenalty, name, value)
	}
	return fmt.Errorf("unknown generation parameter: %s", name)
}

// ParameterNames returns all settable parameter names, sorted.
func ParameterNames() []string {
	names := []string{
		"max_new_tokens", "do_sample", "temperature", "top_k", "top_p",
		"num_beams", "length_penalty", "early_stopping",
		"no_repeat_ngram_size", "repetition_penalty",
	}
	sort.Strings(names)
	return names
}

// String renders the config one parameter per line for chat display.
func (g *GenerationConfig) String() string {
	var b strings.Builder
	for _, name := range ParameterNames() {
		v, _ := g.Get(name)
		fmt.Fprintf(&b, "%s: %v\n", name, v)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NonDefaultString renders only the parameters that differ from the stock
// defaults, the short summary view for chat display.
func (g *GenerationConfig) NonDefaultString() string {
	defaults := DefaultGenerationConfig()
	var b strings.Builder
	for _, name := range ParameterNames() {
		v, _ := g.Get(name)
		d, _ := defaults.Get(name)
		if v == d {
			continue
		}
		fmt.Fprintf(&b, "%s: %v\n", name, v)
	}
	if b.Len() == 0 {
		return "all parameters at defaults"
	}
	return strings.TrimRight(b.String(), "\n")
}

func setInt(dst *int, name string, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case float64:
		*dst = int(v)
	default:
		return fmt.Errorf("parameter %s takes an int, got %T", name, value)
	}
	return nil
}

func setFloat(dst *float64, name string, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	default:
		return fmt.Errorf("parameter %s takes a float, got %T", name, value)
	}
	return nil
}

func setBool(dst *bool, name string, value any) error {
	switch v := value.(type) {
	case bool:
		*dst = v
	case int:
		*dst = v != 0
	case float64:
		*dst = v != 0
	default:
		return fmt.Errorf("parameter %s takes a bool, got %T", name, value)
	}
	return nil
}
