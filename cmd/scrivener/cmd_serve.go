package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/scrivener/internal/chatroom"
	"github.com/user/scrivener/internal/command"
	"github.com/user/scrivener/internal/config"
	"github.com/user/scrivener/internal/delivery"
	"github.com/user/scrivener/internal/discord"
	"github.com/user/scrivener/internal/export"
	"github.com/user/scrivener/internal/pipeline"
	"github.com/user/scrivener/internal/registry"
	"github.com/user/scrivener/internal/scheduler"
	"github.com/user/scrivener/internal/session"
	"github.com/user/scrivener/internal/telegram"
	"github.com/user/scrivener/pkg/llm"
	"github.com/user/scrivener/pkg/llm/local"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scrivener daemon",
	RunE:  runServe,
}

// newFactory builds the registry load function: resolve the model's
// family, load it on the inference server, and derive the per-model
// generation defaults.
func newFactory(cfg *config.Config) registry.Factory {
	return func(ctx context.Context, modelType string) (llm.Backend, *llm.GenerationConfig, error) {
		familyName, err := cfg.FamilyFor(modelType)
		if err != nil {
			return nil, nil, err
		}
		family, err := llm.FamilyByName(familyName)
		if err != nil {
			return nil, nil, err
		}

		client, err := local.New(ctx, &llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
		}, modelType, family)
		if err != nil {
			return nil, nil, err
		}

		defaults := llm.DefaultGenerationConfig()
		defaults.MaxNewTokens = cfg.MaxNewTokens
		return client, defaults, nil
	}
}

// modelRestarter adapts the registry to the interpreter's restart hook.
// The reload blocks while the server reads weights, so it gets the same
// generous deadline as a cold load.
type modelRestarter struct {
	models *registry.Registry
}

func (r modelRestarter) Restart(modelType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	_, err := r.models.Restart(ctx, modelType)
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store := session.NewStore(session.Defaults{
		InitialPrompt: cfg.InitialPrompt,
		ModelType:     cfg.DefaultModel,
		DecodingMode:  cfg.DefaultDecodingMode,
		BufferSize:    cfg.InputBufferSize,
		DocumentTitle: cfg.DocumentTitle,
	})

	models := registry.New(newFactory(cfg))

	uploader := export.NewDriveClient(export.DriveConfig{
		BaseURL: cfg.Drive.BaseURL,
		Token:   cfg.Drive.Token,
	})
	exporter := export.New(uploader, cfg.DocumentsDir())

	interpreter := command.New(cfg, exporter, modelRestarter{models})

	deliveryReg := delivery.NewRegistry()
	pipe := pipeline.New(models, cfg.DecodingModes, deliveryReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe.Start(ctx)
	defer pipe.Stop()

	sweeper := scheduler.NewSweeper(models, cfg.Eviction.Schedule,
		time.Duration(cfg.Eviction.MaxIdleMins)*time.Minute)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start eviction sweeper: %w", err)
	}
	defer sweeper.Stop()

	slog.Info("scrivener started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"default_model", cfg.DefaultModel,
		"decoding_mode", cfg.DefaultDecodingMode,
		"llm_base_url", cfg.LLM.BaseURL,
	)

	// Each platform listener is enabled by the presence of its credentials.
	started := 0

	if cfg.ChatRoom.AccessToken != "" {
		client := chatroom.NewClient(chatroom.Config(cfg.ChatRoom))
		listener := chatroom.NewListener(client, store, interpreter, pipe,
			chatroom.Config(cfg.ChatRoom), cfg.TokenFile())
		listener.Register(deliveryReg)
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("chat room listener stopped", "error", err)
			}
		}()
		started++
	} else {
		slog.Warn("chat room listener disabled (no access token)")
	}

	if cfg.Discord.Token != "" {
		adapter, err := discord.New(cfg.Discord.Token, store, interpreter, pipe)
		if err != nil {
			return fmt.Errorf("create discord adapter: %w", err)
		}
		if err := adapter.Start(); err != nil {
			return fmt.Errorf("start discord adapter: %w", err)
		}
		defer adapter.Stop()
		adapter.Register(deliveryReg)
		started++
	} else {
		slog.Warn("discord adapter disabled (no token)")
	}

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, store, interpreter, pipe)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		adapter.Register(deliveryReg)
		go adapter.Start(ctx)
		started++
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	if started == 0 {
		return fmt.Errorf("no platform credentials configured; nothing to listen on")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	slog.Info("shutting down", "signal", sig)
	return nil
}
