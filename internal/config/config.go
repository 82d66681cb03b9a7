package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`

	// New-session defaults.
	InitialPrompt       string `json:"initial_prompt"`
	DefaultModel        string `json:"default_model"`
	DefaultDecodingMode string `json:"default_decoding_mode"`
	InputBufferSize     int    `json:"input_buffer_size"`
	MaxNewTokens        int    `json:"max_new_tokens"`
	DocumentTitle       string `json:"document_title"`

	// Supported model types mapped to their family name.
	Models map[string]string `json:"models"`

	// Named decoding presets: partial generation-parameter override sets.
	DecodingModes map[string]map[string]any `json:"decoding_modes"`

	LLM struct {
		BaseURL string `json:"base_url"`
		APIKey  string `json:"api_key"`
	} `json:"llm"`

	ChatRoom struct {
		ServerURL   string `json:"server_url"`
		RoomID      string `json:"room_id"`
		BotUser     string `json:"bot_user"`
		AccessToken string `json:"access_token"`
	} `json:"chatroom"`

	Discord struct {
		Token string `json:"token"`
	} `json:"discord"`

	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`

	Drive struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
	} `json:"drive"`

	Eviction struct {
		Schedule    string `json:"schedule"`
		MaxIdleMins int    `json:"max_idle_minutes"`
	} `json:"eviction"`
}

// Load reads the config file at path, writing defaults first if it does
// not exist. Environment variables take highest precedence for secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if key := os.Getenv("SCRIVENER_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if token := os.Getenv("SCRIVENER_CHATROOM_TOKEN"); token != "" {
		cfg.ChatRoom.AccessToken = token
	}
	if token := os.Getenv("DISCORD_BOT_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if token := os.Getenv("SCRIVENER_DRIVE_TOKEN"); token != "" {
		cfg.Drive.Token = token
	}

	return cfg, nil
}

// Defaults returns a Config populated with the stock chatbot settings.
func Defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".scrivener"),
		LogLevel: "info",

		InitialPrompt: "You are a friendly chatbot who always responds in the style of " +
			"Bartleby the scrivener; a depressed and beleaguered legal clerk from the mid 1800s.",
		DefaultModel:        "HuggingFaceH4/zephyr-7b-beta",
		DefaultDecodingMode: "sampling",
		InputBufferSize:     5,
		MaxNewTokens:        256,
		DocumentTitle:       "Scrivener Text",

		Models: map[string]string{
			"HuggingFaceH4/zephyr-7b-beta": "mistral",
			"tiiuae/falcon-7b-instruct":    "falcon",
			"microsoft/DialoGPT-medium":    "dialo",
		},

		DecodingModes: map[string]map[string]any{
			"greedy": {
				"do_sample": false,
				"num_beams": 1,
			},
			"beam_search": {
				"do_sample":            false,
				"num_beams":            5,
				"early_stopping":       true,
				"no_repeat_ngram_size": 3,
			},
			"sampling": {
				"do_sample":   true,
				"temperature": 0.9,
				"top_k":       0,
				"top_p":       1.0,
			},
			"top_k": {
				"do_sample": true,
				"top_k":     50,
			},
			"top_p": {
				"do_sample": true,
				"top_k":     0,
				"top_p":     0.95,
			},
		},
	}
	cfg.LLM.BaseURL = "http://127.0.0.1:5000"
	cfg.Drive.BaseURL = "https://www.googleapis.com"
	cfg.Eviction.Schedule = "@every 15m"
	cfg.Eviction.MaxIdleMins = 60
	return cfg
}

// Save writes cfg to path atomically, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// SupportedModels returns the supported model types in sorted order.
func (c *Config) SupportedModels() []string {
	models := make([]string, 0, len(c.Models))
	for m := range c.Models {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// DecodingModeNames returns the preset names in sorted order.
func (c *Config) DecodingModeNames() []string {
	names := make([]string, 0, len(c.DecodingModes))
	for n := range c.DecodingModes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FamilyFor returns the family name for a supported model type.
func (c *Config) FamilyFor(modelType string) (string, error) {
	family, ok := c.Models[modelType]
	if !ok {
		return "", fmt.Errorf("unsupported model type: %s", modelType)
	}
	return family, nil
}

// TokenFile is where the chat room listener checkpoints its resumption token.
func (c *Config) TokenFile() string {
	return filepath.Join(c.DataDir, "next_batch")
}

// DocumentsDir is where generated documents are staged before upload.
func (c *Config) DocumentsDir() string {
	return filepath.Join(c.DataDir, "documents")
}
