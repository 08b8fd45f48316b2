// Package main provides the pagespin CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pagespin/internal/browser"
	"pagespin/internal/chat"
	"pagespin/internal/config"
	"pagespin/internal/gemini"
	"pagespin/internal/logging"
	"pagespin/internal/pipeline"
	"pagespin/internal/reward"
	"pagespin/internal/session"
	"pagespin/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	headless  bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pagespin",
	Short: "pagespin - scrape a page, spin it, review it, keep every version",
	Long: `pagespin turns a web page into a rewritten draft.

Submit a URL and the page text is scraped, rewritten by the AI writer,
and checked by the AI reviewer. Edit the draft, send reviewer feedback,
and rate results; every revision is kept in an append-only version
history with its author attribution.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The interactive UI has its own log files; zap is for subcommands.
		if cmd.CalledAs() == "pagespin" {
			return nil
		}
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (overrides config and GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "run Chrome headless")

	rootCmd.AddCommand(versionsCmd)
	versionsCmd.AddCommand(versionsShowCmd)
	versionsCmd.AddCommand(versionsRestoreCmd)
}

// engine bundles the wired application for the TUI and subcommands.
type engine struct {
	cfg      *config.Config
	sessions *session.Manager
	store    *store.Store
	scraper  *browser.Scraper
	rewards  *reward.Relay
	watcher  *config.Watcher
}

func buildEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.Load(config.Path(workspace))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if apiKey != "" {
		cfg.Gemini.APIKey = apiKey
	}
	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("no Gemini API key: set GEMINI_API_KEY, --api-key, or %s", config.Path(workspace))
	}

	if err := logging.Initialize(workspace); err != nil {
		return nil, fmt.Errorf("initialize logging: %w", err)
	}
	logging.Boot("pagespin starting (workspace=%s)", workspace)

	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}

	scraper := browser.New(browser.Config{
		Bin:               cfg.Browser.Bin,
		Headless:          headless && cfg.Browser.Headless,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		NavigationTimeout: cfg.Browser.NavigationTimeoutDuration(),
		ScreenshotDir:     cfg.Browser.ScreenshotDir,
	})

	gem := gemini.New(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		Model:   cfg.Gemini.Model,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.TimeoutDuration(),
	})

	chatModel, err := chat.NewGenAIModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("initialize chat model: %w", err)
	}

	relay := reward.NewRelay(
		&reward.HTTPSink{Endpoint: cfg.Reward.Endpoint},
		cfg.Reward.QueueSize,
		cfg.Reward.TimeoutDuration(),
	)

	sessions := session.NewManager(chatModel, relay)
	orch := pipeline.New(sessions, scraper, gemini.Writer{Client: gem}, gemini.ReviewerClient{Client: gem}, st,
		gemini.DefaultSpinPrompt, gemini.ReviewerSystemPrompt)
	sessions.SetPipeline(orch)

	watcher, err := config.NewWatcher(workspace)
	if err != nil {
		logging.Boot("config watcher unavailable: %v", err)
		watcher = nil
	} else {
		if err := watcher.Start(ctx); err != nil {
			logging.Boot("config watcher failed to start: %v", err)
			watcher = nil
		}
	}

	return &engine{
		cfg:      cfg,
		sessions: sessions,
		store:    st,
		scraper:  scraper,
		rewards:  relay,
		watcher:  watcher,
	}, nil
}

func (e *engine) close() {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	e.rewards.Close()
	_ = e.scraper.Close()
	_ = e.store.Close()
	logging.CloseAll()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
