// Package local implements llm.Backend against a text-generation-webui
// compatible inference server running on the same host.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/scrivener/pkg/llm"
)

// Client talks to one loaded model on the inference server.
type Client struct {
	config     *llm.Config
	modelType  string
	family     llm.Family
	httpClient *http.Client
	counter    *tiktoken.Tiktoken
}

// New loads modelType on the server and returns a client bound to it.
// The load call blocks while the server reads weights, which can take a
// long time for a cold model.
func New(ctx context.Context, config *llm.Config, modelType string, family llm.Family) (*Client, error) {
	c := &Client{
		config:    config,
		modelType: modelType,
		family:    family,
		httpClient: &http.Client{
			// Generation runs for seconds to tens of seconds; the
			// model load itself can take minutes.
			Timeout: 10 * time.Minute,
		},
	}

	// The server's usage block is authoritative; the local counter is
	// only a fallback for servers that omit it.
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		c.counter = enc
	}

	if err := c.post(ctx, "/v1/internal/model/load", map[string]any{"model_name": modelType}, nil); err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelType, err)
	}
	return c, nil
}

// completionRequest is the server's completions request body.
type completionRequest struct {
	Prompt            string   `json:"prompt"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	DoSample          bool     `json:"do_sample"`
	Temperature       float64  `json:"temperature,omitempty"`
	TopK              int      `json:"top_k,omitempty"`
	TopP              float64  `json:"top_p,omitempty"`
	NumBeams          int      `json:"num_beams,omitempty"`
	LengthPenalty     float64  `json:"length_penalty,omitempty"`
	EarlyStopping     bool     `json:"early_stopping,omitempty"`
	NoRepeatNgramSize int      `json:"no_repeat_ngram_size,omitempty"`
	RepetitionPenalty float64  `json:"repetition_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty"`
}

// completionResponse is the server's completions response body.
type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate frames the messages for the model's family, runs one completion,
// and parses the reply out of the raw output.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, config *llm.GenerationConfig) (*llm.Result, error) {
	reqBody := completionRequest{
		Prompt:            c.family.FormatPrompt(messages),
		MaxTokens:         config.MaxNewTokens,
		DoSample:          config.DoSample,
		Temperature:       config.Temperature,
		TopK:              config.TopK,
		TopP:              config.TopP,
		NumBeams:          config.NumBeams,
		LengthPenalty:     config.LengthPenalty,
		EarlyStopping:     config.EarlyStopping,
		NoRepeatNgramSize: config.NoRepeatNgramSize,
		RepetitionPenalty: config.RepetitionPenalty,
		Stop:              c.family.StopSequences(),
	}

	var compResp completionResponse
	if err := c.post(ctx, "/v1/completions", reqBody, &compResp); err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	if len(compResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in completion response")
	}

	raw := compResp.Choices[0].Text
	reply := c.family.ParseReply(raw)

	tokens := compResp.Usage.CompletionTokens
	if tokens == 0 && c.counter != nil {
		tokens = len(c.counter.Encode(raw, nil, nil))
	}

	return &llm.Result{Text: reply, TokenCount: tokens}, nil
}

// Close unloads the model so the server can reclaim accelerator memory.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.post(ctx, "/v1/internal/model/unload", map[string]any{}, nil); err != nil {
		return fmt.Errorf("unload model %s: %w", c.modelType, err)
	}
	return nil
}

// ModelType returns the model identifier this client is bound to.
func (c *Client) ModelType() string { return c.modelType }

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

var _ llm.Backend = (*Client)(nil)
