package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/scrivener/internal/registry"
	"github.com/user/scrivener/pkg/llm"
)

// benchmarkQuery is a fixed prompt so timings are comparable across runs.
const benchmarkQuery = "Please write a paragraph describing how to make scrambled eggs. Write in the style of a script for a youtube video."

var (
	benchReplicates  int
	benchRepetitions int
	benchModel       string
)

func init() {
	rootCmd.AddCommand(benchmarkCmd)
	benchmarkCmd.Flags().IntVar(&benchReplicates, "replicates", 3, "number of cold-load replicates")
	benchmarkCmd.Flags().IntVar(&benchRepetitions, "repetitions", 10, "generations per replicate")
	benchmarkCmd.Flags().StringVar(&benchModel, "model", "", "model type to benchmark (default: configured default)")
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run repeated timed generations against the inference backend",
	Args:  cobra.NoArgs,
	RunE:  runBenchmark,
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	modelType := benchModel
	if modelType == "" {
		modelType = cfg.DefaultModel
	}

	ctx := context.Background()
	genConfig := llm.DefaultGenerationConfig()
	genConfig.MaxNewTokens = cfg.MaxNewTokens

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: cfg.InitialPrompt},
		{Role: llm.RoleUser, Content: benchmarkQuery},
	}

	fmt.Fprintf(os.Stdout, "Benchmarking %s: %d replicates x %d repetitions\n",
		modelType, benchReplicates, benchRepetitions)

	for replicate := 1; replicate <= benchReplicates; replicate++ {
		// Fresh registry per replicate so every replicate pays the
		// cold model load.
		models := registry.New(newFactory(cfg))

		loadStart := time.Now()
		entry, err := models.Ensure(ctx, modelType)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}
		fmt.Fprintf(os.Stdout, "\nReplicate %d (model load %.1fs)\n",
			replicate, time.Since(loadStart).Seconds())

		var totalTokens int
		var totalElapsed time.Duration
		for repetition := 1; repetition <= benchRepetitions; repetition++ {
			start := time.Now()
			result, err := entry.Backend.Generate(ctx, messages, genConfig)
			if err != nil {
				return fmt.Errorf("replicate %d repetition %d: %w", replicate, repetition, err)
			}
			elapsed := time.Since(start)
			totalTokens += result.TokenCount
			totalElapsed += elapsed

			fmt.Fprintf(os.Stdout, "  repetition %2d: %6.2fs, %4d tokens, %.1f tokens/s\n",
				repetition, elapsed.Seconds(), result.TokenCount,
				float64(result.TokenCount)/elapsed.Seconds())
		}

		fmt.Fprintf(os.Stdout, "  mean: %.2fs per generation, %.1f tokens/s\n",
			totalElapsed.Seconds()/float64(benchRepetitions),
			float64(totalTokens)/totalElapsed.Seconds())

		if err := entry.Backend.Close(); err != nil {
			return fmt.Errorf("unload model: %w", err)
		}
	}
	return nil
}
