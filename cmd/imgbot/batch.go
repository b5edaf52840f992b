package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/akula/imgbot/internal/batch"
	"github.com/akula/imgbot/internal/imaging"
)

var (
	flagBatchAspect   string
	flagBatchQuantity int
	flagBatchParallel int
	flagBatchStop     bool
	flagBatchDelay    time.Duration
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <prompts-file>",
		Short: "Generate images for every prompt in a file",
		Long: `batch runs each prompt in the file through the generation service and
saves the results to the output directory. A .txt file carries one prompt
per line (# starts a comment); a .json file carries an array of items with
optional aspect_ratio and quantity.

Examples:
  imgbot batch prompts.txt
  imgbot batch prompts.json --parallel 4 --aspect 16:9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&flagBatchAspect, "aspect", "1:1", "default aspect ratio for items that do not set one")
	cmd.Flags().IntVarP(&flagBatchQuantity, "quantity", "n", 1, "default image count per prompt (1-4)")
	cmd.Flags().IntVarP(&flagBatchParallel, "parallel", "p", 1, "number of prompts processed concurrently")
	cmd.Flags().BoolVar(&flagBatchStop, "stop-on-error", false, "abort the run at the first failing prompt")
	cmd.Flags().DurationVar(&flagBatchDelay, "delay", 0, "pause between prompts (sequential runs only)")

	return cmd
}

func runBatch(cmd *cobra.Command, promptsPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	items, err := batch.ParseFile(promptsPath)
	if err != nil {
		return err
	}

	client, err := buildClient(cfg, imaging.NewCodec(), logger.Named("genclient"))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flagOutDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	proc := batch.NewProcessor(client, cmd.OutOrStdout(), cmd.ErrOrStderr())
	results, err := proc.Process(ctx, items, &batch.Options{
		OutputDir:          flagOutDir,
		DefaultAspectRatio: flagBatchAspect,
		DefaultQuantity:    flagBatchQuantity,
		Parallel:           flagBatchParallel,
		StopOnError:        flagBatchStop,
		Delay:              flagBatchDelay,
	})

	var failed int
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d prompts succeeded\n", len(results)-failed, len(results))

	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d prompt(s) failed", failed)
	}
	return nil
}
