package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/bootstrap"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/config"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/health"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/supervisor"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "edge-agent",
	Short: "Edge video-analytics agent",
	Long:  `edge-agent drives one camera's capture, on-device detection feed, and recording-session lifecycle (spec.md).`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("edge-agent v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the running agent's /status endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Start the Agent Supervisor and its control HTTP API",
	Long:  `supervise spawns 'edge-agent run' as a child process and exposes start/stop/override operations over the operator control API (spec.md §4.10).`,
	Run: func(cmd *cobra.Command, args []string) {
		runSupervisor()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/edge-agent/agent.toml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(superviseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// runAgent loads configuration, wires the agent via bootstrap, and
// serves the /status and /metrics surface until signalled to stop
// (spec.md §1, §6).
func runAgent() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	if cfg.DeviceID == "" {
		log.Warn("device_id not set in config, using hostname-derived default")
	}

	if cfg.LogShipLevel != "" && cfg.StoreBaseURL != "" {
		logging.InitShipper(logging.ShipperConfig{
			ServerURL:    cfg.StoreBaseURL,
			DeviceID:     cfg.DeviceID,
			AgentVersion: version,
			MinLevel:     cfg.LogShipLevel,
		})
		defer logging.StopShipper()
	}

	log.Info("starting agent", "version", version, "device", cfg.DeviceID, "stream", cfg.StreamPath)

	agent, err := bootstrap.New(*cfg)
	if err != nil {
		log.Error("failed to build agent", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := agent.Start(ctx); err != nil {
		log.Error("failed to start agent", "error", err)
		os.Exit(1)
	}

	statusMux := http.NewServeMux()
	statusMux.Handle("/status", agent.Health.Handler())
	statusMux.Handle("/metrics", health.MetricsHandler())
	statusMux.Handle("/preview", agent.Signal)
	statusSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ChildStatusPort), Handler: statusMux}
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server failed", "error", err)
		}
	}()

	log.Info("agent is running", "statusPort", cfg.ChildStatusPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down agent")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = statusSrv.Shutdown(shutdownCtx)

	agent.Stop()
	log.Info("agent stopped")
}

func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Println("status: not configured")
		return
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/status", cfg.StatusPort)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("status: unreachable (%v)\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("status: http %d\n", resp.StatusCode)
	io.Copy(os.Stdout, resp.Body)
	fmt.Println()
}

// runSupervisor starts the Agent Supervisor (spec.md §4.10): it spawns
// this same binary's 'run' subcommand as a child process, polls its
// status endpoint, and exposes the operator control API.
func runSupervisor() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	self, err := os.Executable()
	if err != nil {
		self = "edge-agent"
	}

	childArgs := []string{"run"}
	if cfgFile != "" {
		childArgs = append(childArgs, "--config", cfgFile)
	}

	sup, err := supervisor.New(supervisor.Config{
		ChildCommand:    self,
		ChildArgs:       childArgs,
		StatusPort:      cfg.StatusPort,
		ChildStatusPort: cfg.ChildStatusPort,
		StopTimeout:     time.Duration(cfg.StopTimeoutMs) * time.Millisecond,
		OverridesPath:   cfg.OverridesPath,
		ClassCatalog:    cfg.ClassesFilter,
	})
	if err != nil {
		log.Error("failed to build supervisor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Autostart {
		if err := sup.Start(ctx); err != nil {
			log.Error("failed to autostart child", "error", err)
		}
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.StatusPort),
		Handler: sup.Router(),
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("supervisor http server failed", "error", err)
		}
	}()

	log.Info("supervisor is running", "statusPort", cfg.StatusPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down supervisor")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = sup.Stop(shutdownCtx)
}
