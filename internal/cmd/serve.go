package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wayscout-io/wayscout/internal/config"
	"github.com/wayscout-io/wayscout/internal/memory"
	"github.com/wayscout-io/wayscout/internal/runner"
	"github.com/wayscout-io/wayscout/internal/server"
)

var (
	servePort        int
	servePreferences string
	serveItinerary   string
	serveProfile     string
	serveDetectCron  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the detection API server, optionally with scheduled runs",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().StringVar(&servePreferences, "preferences", "", "preferences path for scheduled detection runs")
	serveCmd.Flags().StringVar(&serveItinerary, "itinerary", "", "itinerary path for scheduled detection runs")
	serveCmd.Flags().StringVar(&serveProfile, "profile", "", "path to an optional detection profile YAML")
	serveCmd.Flags().StringVar(&serveDetectCron, "detect-cron", "", `cron expression for scheduled detection (e.g. "0 7 * * *")`)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	profile, err := config.LoadProfile(serveProfile)
	if err != nil {
		return err
	}
	cfg.ApplyProfile(profile)
	resolveGroqKeyFromKeyring(ctx, cfg)
	if serveDetectCron != "" {
		cfg.DetectCron = serveDetectCron
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return err
	}
	if err := cfg.RequireGroqKey(); err != nil {
		log.Warn().Msg("GROQ API key is not set; detection endpoints will return 400 until it is")
	}

	r, err := newServeRunner(cfg)
	if err != nil {
		return err
	}
	store, err := memory.NewStore(cfg.MemoryStatePath())
	if err != nil {
		return err
	}

	srv := server.NewServer(r, store)

	// Scheduled runs go through the server so they share its mutex with the
	// approval handlers; the store has no locking of its own.
	scheduler := cron.New()
	if cfg.DetectCron != "" {
		if servePreferences == "" || serveItinerary == "" {
			return fmt.Errorf("--detect-cron requires --preferences and --itinerary")
		}
		if err := cfg.RequireGroqKey(); err != nil {
			return fmt.Errorf("--detect-cron requires a GROQ API key: %w", err)
		}
		_, err := scheduler.AddFunc(cfg.DetectCron, func() {
			res, err := srv.RunScheduled(ctx, servePreferences, serveItinerary)
			if err != nil {
				log.Error().Err(err).Msg("scheduled detection failed")
				return
			}
			log.Info().Int("events", len(res.Batch.Events)).Str("run_id", res.RunID).
				Msg("scheduled detection completed")
		})
		if err != nil {
			return fmt.Errorf("registering cron %q: %w", cfg.DetectCron, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("detect_cron", cfg.DetectCron).
		Msg("wayscout_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}

// newServeRunner builds the runner for serve. Without an API key the server
// still starts; the detection handlers refuse requests until one is set, and
// the detector is never reached.
func newServeRunner(cfg *config.Config) (*runner.Runner, error) {
	if cfg.GroqAPIKey == "" {
		return runner.NewWithDetector(cfg, nil), nil
	}
	return runner.New(cfg)
}
