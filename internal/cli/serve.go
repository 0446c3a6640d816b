package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyvern/vyvern/internal/config"
	"github.com/vyvern/vyvern/internal/logger"
	"github.com/vyvern/vyvern/pkg/api"
	"github.com/vyvern/vyvern/pkg/campaign"
	"github.com/vyvern/vyvern/pkg/driver"
	"github.com/vyvern/vyvern/pkg/engine"
	"github.com/vyvern/vyvern/pkg/registry"
	"github.com/vyvern/vyvern/pkg/reply"
	"github.com/vyvern/vyvern/pkg/scheduler"
	"github.com/vyvern/vyvern/pkg/snapshot"
	"github.com/vyvern/vyvern/pkg/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Vyvern server",
	Long: `Start the Vyvern server in the foreground.
It serves the campaign and session API, runs scheduled campaign sessions,
and drives browser conversations until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	zl := appLogger.GetZerolog()

	zl.Info().Str("version", version).Msg("Starting Vyvern")

	store, err := campaign.NewStore(cfg.Store.Path, zl)
	if err != nil {
		return fmt.Errorf("failed to open campaign store: %w", err)
	}
	defer store.Close()

	reg := registry.New(zl)

	profile := pickProfile(cfg.AI.Profiles)
	factory := &reply.ProviderFactory{}
	generator, err := factory.NewGenerator(reply.AuthProfile{
		Provider:    profile.Provider,
		APIKey:      profile.APIKey,
		Model:       profile.Model,
		Temperature: profile.Temperature,
		MaxTokens:   profile.MaxTokens,
	}, reply.Bounds{
		MaxMessages:     cfg.Engine.MaxContextMessages,
		MaxContextChars: cfg.Engine.MaxContextChars,
	})
	if err != nil {
		return fmt.Errorf("failed to create reply generator: %w", err)
	}
	zl.Info().Str("profile", profile.ID).Str("provider", profile.Provider).Msg("Reply generator ready")

	drv := driver.NewRodDriver(driver.RodConfig{
		Headless:   cfg.Driver.Headless,
		NoSandbox:  cfg.Driver.NoSandbox,
		ChromePath: cfg.Driver.ChromePath,
		Selectors:  toSelectors(cfg.Driver.Selectors),
	}, zl)

	eng := engine.New(reg, generator, engine.Config{
		PollInterval: time.Duration(cfg.Engine.PollIntervalMs) * time.Millisecond,
		SurfaceURL:   cfg.Driver.SurfaceURL,
		Credentials: driver.Credentials{
			Username: cfg.Driver.Username,
			Password: cfg.Driver.Password,
		},
	}, zl)

	sup := supervisor.New(reg, drv, eng, supervisor.Config{
		MaxSessionDuration: time.Duration(cfg.Engine.MaxSessionDurationMin) * time.Minute,
		CleanupWait:        5 * time.Second,
		Snapshot: snapshot.Config{
			Interval:    time.Duration(cfg.Snapshot.IntervalMs) * time.Millisecond,
			MinInterval: time.Duration(cfg.Snapshot.MinIntervalMs) * time.Millisecond,
		},
	}, zl)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(store, reg, sup, zl)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	var apiScheduler api.CampaignScheduler
	if sched != nil {
		apiScheduler = sched
	}
	server, err := api.NewServer(api.ServerOptions{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, store, reg, sup, apiScheduler, zl)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if stopErr := server.Stop(); stopErr != nil {
		zl.Error().Err(stopErr).Msg("API server shutdown failed")
	}
	sup.Shutdown()

	zl.Info().Msg("Vyvern stopped")
	return nil
}

// pickProfile selects the configured profile with the lowest priority value.
// Validate guarantees at least one profile exists.
func pickProfile(profiles []config.AIProfile) config.AIProfile {
	sorted := make([]config.AIProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted[0]
}

func toSelectors(s config.SelectorsConfig) driver.Selectors {
	return driver.Selectors{
		UsernameField:    s.UsernameField,
		PasswordField:    s.PasswordField,
		SubmitButton:     s.SubmitButton,
		SearchBox:        s.SearchBox,
		ConversationLink: s.ConversationLink,
		MessageRow:       s.MessageRow,
		CounterpartClass: s.CounterpartClass,
		ComposerField:    s.ComposerField,
		SendButton:       s.SendButton,
	}
}
