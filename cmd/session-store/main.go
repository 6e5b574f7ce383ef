package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/archive"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/config"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/store"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "session-store",
	Short: "Recording session catalog and storage-adjacent API (spec.md §4.9)",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the session store HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		runStore()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("session-store v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/edge-agent/agent.toml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStore() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	log.Info("starting session store", "version", version, "port", cfg.StoreHTTPPort)

	db, err := store.Open(cfg.StoreDatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var uploader archive.Uploader
	if cfg.ArchiveProvider != "" && cfg.ArchiveProvider != "none" {
		uploader, err = archive.New(ctx, archive.Config{
			Provider:        archive.Provider(cfg.ArchiveProvider),
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			AzureAccountURL: cfg.ArchiveAzureAccountURL,
		})
		if err != nil {
			log.Error("failed to build archive uploader, continuing without archival offload", "error", err)
			uploader = nil
		}
	}

	srv := store.NewServer(db, store.Config{
		TracksStoragePath:     cfg.TracksStoragePath,
		MediaServerBaseURL:    cfg.WorkerAddr,
		HookToken:             cfg.HookToken,
		PlaybackStartOffsetMs: cfg.PlaybackStartOffsetMs,
		PlaybackExtraSeconds:  cfg.PlaybackExtraSeconds,
		MaxIngestBodyBytes:    int64(cfg.IngestMaxBodyBytes),
	}, uploader)
	srv.Start()
	defer srv.Stop()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StoreHTTPPort),
		Handler: srv.Router(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
		}
	}()

	log.Info("session store is running", "port", cfg.StoreHTTPPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down session store")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
