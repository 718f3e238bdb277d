package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicelane/narrator/internal/audiostore"
	"github.com/voicelane/narrator/internal/cache"
	"github.com/voicelane/narrator/internal/config"
	"github.com/voicelane/narrator/internal/orchestrator"
	"github.com/voicelane/narrator/internal/relay"
	"github.com/voicelane/narrator/internal/server"
	"github.com/voicelane/narrator/pkg/synth"
	"github.com/voicelane/narrator/pkg/synth/eleven"
	"github.com/voicelane/narrator/pkg/synth/openai"
	"github.com/voicelane/narrator/pkg/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "narrator",
	Short: "Narrator - text-to-speech synthesis and caching service",
	Long: `narrator turns text into narrated audio with per-word timing metadata,
streaming it to clients while caching finished narrations so repeated
requests never hit the synthesis vendor twice.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the synthesis service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger := setupLogger(cfg)
		logger.Info("starting narrator",
			slog.String("version", version.Version),
			slog.String("commit", version.Commit()),
			slog.String("listen", cfg.Listen),
			slog.String("vendor", cfg.Vendor.Provider))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		deps, err := buildPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer deps.close()

		srv := &http.Server{
			Addr:    cfg.Listen,
			Handler: server.New(deps.orch, deps.relay, deps.audioDir, logger).Handler(),
		}

		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize [text]",
	Short: "One-shot synthesis from the command line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		voice, _ := cmd.Flags().GetString("voice")
		language, _ := cmd.Flags().GetString("language")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		deps, err := buildPipeline(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer deps.close()

		res, err := deps.orch.Synthesize(ctx, orchestrator.Request{
			Text:     args[0],
			VoiceID:  voice,
			Language: language,
		})
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{
			"audioUrl":  res.AudioURL,
			"alignment": res.Alignment,
			"precise":   res.Precise,
			"cached":    res.Cached,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// pipeline bundles the wired components plus their cleanup.
type pipeline struct {
	orch     *orchestrator.Orchestrator
	relay    *relay.Relay
	audioDir string
	close    func()
}

func buildPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline, error) {
	elevenClient := eleven.New(eleven.Config{
		BaseURL:        cfg.Vendor.BaseURL,
		APIKey:         cfg.Vendor.APIKey,
		Model:          cfg.Vendor.Model,
		ConnectTimeout: cfg.VendorConnectTimeout(),
		ReadTimeout:    cfg.VendorReadTimeout(),
	}, logger)

	var vendor synth.Vendor = elevenClient
	if cfg.Vendor.Provider == "openai" {
		v, err := openai.New(openai.Config{APIKey: cfg.Vendor.APIKey, Model: cfg.Vendor.Model})
		if err != nil {
			return nil, err
		}
		vendor = v
	}

	if cfg.Fallback.Provider == "openai" {
		secondary, err := openai.New(openai.Config{
			APIKey: cfg.Fallback.APIKey,
			Model:  cfg.Fallback.Model,
			Voice:  cfg.Fallback.Voice,
		})
		if err != nil {
			return nil, err
		}
		vendor = synth.NewFailover(vendor, secondary, logger)
	}

	cleanup := func() {}

	var cacheStore cache.Store
	switch cfg.Cache.Driver {
	case "memory":
		cacheStore = cache.NewMemory()
	default:
		sqliteStore, err := cache.OpenSQLite(ctx, cfg.Cache.Path, logger)
		if err != nil {
			return nil, err
		}
		cacheStore = sqliteStore
		cleanup = func() { sqliteStore.Close() }
	}

	var (
		audioStore audiostore.Store
		audioDir   string
	)
	if cfg.ObjectStoreEnabled() {
		obj, err := audiostore.NewObject(ctx, audiostore.ObjectConfig{
			Endpoint:      cfg.Audio.Endpoint,
			AccessKey:     cfg.Audio.AccessKey,
			SecretKey:     cfg.Audio.SecretKey,
			Bucket:        cfg.Audio.Bucket,
			UseSSL:        cfg.Audio.UseSSL,
			PublicBaseURL: cfg.Audio.PublicBaseURL,
		})
		if err != nil {
			cleanup()
			return nil, err
		}
		audioStore = obj
	} else {
		disk := audiostore.NewDisk(cfg.Audio.Dir, cfg.Audio.URLPrefix)
		audioStore = disk
		audioDir = disk.Dir()
	}

	orch := orchestrator.New(vendor, cacheStore, audioStore, cfg.WordDuration(), logger)
	rl := relay.New(elevenClient, orch, cfg.RelayConnectTimeout(), cfg.RelayFrameTimeout(), logger)

	return &pipeline{orch: orch, relay: rl, audioDir: audioDir, close: cleanup}, nil
}

func setupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	synthesizeCmd.Flags().String("voice", "", "voice id to synthesize with")
	synthesizeCmd.Flags().String("language", "", "language hint passed to the vendor")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(synthesizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
