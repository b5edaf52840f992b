package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akula/imgbot/internal/config"
	"github.com/akula/imgbot/internal/console"
	"github.com/akula/imgbot/internal/genclient"
	"github.com/akula/imgbot/internal/history"
	"github.com/akula/imgbot/internal/keys"
	"github.com/akula/imgbot/internal/imaging"
	"github.com/akula/imgbot/internal/present"
	"github.com/akula/imgbot/internal/session"
	"github.com/akula/imgbot/internal/workflow"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig   string
	flagOutDir   string
	flagBaseURL  string
	flagAPIKey   string
	flagDBPath   string
	flagLogLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgbot",
		Short: "Conversational image generation bot",
		Long: `imgbot runs the conversational image bot against a local terminal
transport. Plain text sends a message, !token presses a button, and
@file.png sends a photo.

Examples:
  imgbot --config config.yaml
  imgbot --base-url https://gen.example.com --out-dir ./images`,
		Args:    cobra.NoArgs,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config.yaml")
	cmd.PersistentFlags().StringVarP(&flagOutDir, "out-dir", "o", ".", "directory for produced images")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "generation service base URL")
	cmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "API key (defaults to IMGBOT_API_KEY)")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "path to the run history database")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newKeyCmd())

	return cmd
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if flagBaseURL != "" {
		cfg.API.BaseURL = flagBaseURL
	}
	if flagAPIKey != "" {
		cfg.API.APIKey = flagAPIKey
	}
	if flagDBPath != "" {
		cfg.History.DBPath = flagDBPath
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if cfg.API.APIKey == "" {
		if store, kerr := keys.NewStore(); kerr == nil {
			if k, kerr := store.Get("imgbot"); kerr == nil {
				cfg.API.APIKey = k
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildClient(cfg *config.Config, codec *imaging.Codec, logger *zap.Logger) (*genclient.Client, error) {
	return genclient.New(genclient.Config{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      cfg.API.APIKey,
		Timeout:     cfg.API.Timeout,
		MaxAttempts: cfg.API.MaxAttempts,
		RetryDelay:  cfg.API.RetryDelay,
		BatchCalls:  cfg.API.BatchCalls,
		ImageField:  cfg.API.ImageField,
		PromptField: cfg.API.PromptField,
	}, codec, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	var zcfg zap.Config
	if isatty.IsTerminal(os.Stderr.Fd()) {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func runBot(cmd *cobra.Command) error {
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

	codec := imaging.NewCodec()

	client, err := buildClient(cfg, codec, logger.Named("genclient"))
	if err != nil {
		return err
	}

	store := session.NewStore(cfg.Session.TTL)
	defer store.Close()

	var recorder workflow.Recorder
	if cfg.History.DBPath != "" {
		h, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer h.Close()
		recorder = h
	}

	gateway := console.New(console.Config{
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		Err:    cmd.ErrOrStderr(),
		OutDir: flagOutDir,
	}, nil)

	engine, err := workflow.New(workflow.Config{
		Store:     store,
		Client:    client,
		Codec:     codec,
		Presenter: present.New(),
		Gateway:   gateway,
		Recorder:  recorder,
		Logger:    logger.Named("workflow"),
	})
	if err != nil {
		return err
	}
	gateway.SetHandler(engine)

	logger.Info("imgbot started",
		zap.String("version", version),
		zap.String("base_url", cfg.API.BaseURL),
		zap.Bool("batch_calls", cfg.API.BatchCalls))

	return gateway.Run(ctx)
}
