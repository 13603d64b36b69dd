package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/intale-ai/intentd/internal/api"
	"github.com/intale-ai/intentd/internal/config"
	"github.com/intale-ai/intentd/internal/distill"
	"github.com/intale-ai/intentd/internal/events"
	"github.com/intale-ai/intentd/internal/labels"
	"github.com/intale-ai/intentd/internal/metrics"
	"github.com/intale-ai/intentd/internal/oracle"
	"github.com/intale-ai/intentd/internal/pipeline"
	"github.com/intale-ai/intentd/internal/student"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the intentd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running intentd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show intentd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "intentd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "intentd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if cfg.Oracle.APIKey == "" {
		slog.Warn("no oracle API key configured; serving from the local model and fallback only",
			"env", "INTENTD_ORACLE_API_KEY")
	}

	// Refuse to start a second instance against the same data dir.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("intentd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("intentd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := events.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing event store: %v\n", err)
		}
	}()

	thresholds := distill.Thresholds{
		AgreeMinConf:    cfg.Distill.AgreeMinConf,
		TeacherHighConf: cfg.Distill.TeacherHighConf,
		StudentLowConf:  cfg.Distill.StudentLowConf,
	}

	// The label space is frozen for the life of the process: a configured
	// file wins, otherwise it is derived from stored events plus the base
	// classes.
	var space labels.Space
	if cfg.Storage.LabelsFile != "" {
		space, err = labels.LoadFile(cfg.Storage.LabelsFile)
		if err != nil {
			return fmt.Errorf("loading label space: %w", err)
		}
		slog.Info("label space loaded from file", "path", cfg.Storage.LabelsFile, "labels", space.Len())
	} else {
		space, err = distill.DeriveLabelSpace(store, thresholds, cfg.Distill.MaxDays, 0)
		if err != nil {
			return fmt.Errorf("deriving label space: %w", err)
		}
		slog.Info("label space derived from events", "labels", space.Len())
	}

	modelPath := cfg.ModelPath()
	if err := os.MkdirAll(filepath.Dir(modelPath), 0o755); err != nil {
		return fmt.Errorf("creating model dir: %w", err)
	}
	classifier := student.NewClassifier(modelPath)
	if classifier.IsAvailable() {
		slog.Info("student model loaded", "version", classifier.Version(), "labels", len(classifier.Classes()))
	} else {
		slog.Info("no student model on disk; starting untrained", "path", modelPath)
	}

	oracleClient := oracle.New(oracle.Config{
		BaseURL: cfg.Oracle.BaseURL,
		Model:   cfg.Oracle.Model,
		APIKey:  cfg.Oracle.APIKey,
		Labels:  space.Names(),
	})

	collector := metrics.NewCollector()

	resolver := pipeline.NewResolver(pipeline.Config{
		Mode:            pipeline.Mode(cfg.Pipeline.Mode),
		Timeout:         time.Duration(cfg.Pipeline.IntentTimeoutS * float64(time.Second)),
		LocalAcceptConf: cfg.Pipeline.LocalAcceptConf,
		AgreeMinConf:    cfg.Distill.AgreeMinConf,
	}, oracleClient, classifier, store, collector, slog.Default())

	trainer := distill.NewTrainer(distill.Params{
		Thresholds:   thresholds,
		BatchSize:    cfg.Distill.BatchSize,
		HotSwapMinF1: cfg.Distill.HotSwapMinF1,
		MaxDays:      cfg.Distill.MaxDays,
	}, store, classifier, space, collector, slog.Default())

	if cfg.Distill.TrainIntervalS > 0 {
		interval := time.Duration(cfg.Distill.TrainIntervalS) * time.Second
		scheduler := distill.NewScheduler(trainer, store, interval, slog.Default())
		go scheduler.Run(ctx)
		slog.Info("training scheduler started", "interval", interval)
	} else {
		slog.Info("training scheduler disabled; train via POST /v1/train")
	}

	deps := api.Deps{
		Resolver:   resolver,
		Trainer:    trainer,
		Classifier: classifier,
		Oracle:     oracleClient,
		Metrics:    collector,
		Token:      cfg.Server.APIToken,
		TimeoutS:   cfg.Pipeline.IntentTimeoutS,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP over stdio runs alongside the HTTP server.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "intentd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Let in-flight event appends and verification calls finish so the
	// training corpus does not lose the tail of the session.
	resolver.Drain()
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("intentd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop intentd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to intentd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)

	statusResp, err := client.get(ctx, "/v1/status")
	if err != nil {
		return err
	}
	var status api.StatusResponse
	if err := decodeJSON(statusResp, &status); err != nil {
		return err
	}

	printStatus("Mode", "%s", status.Mode)
	if status.Oracle.Available {
		printStatus("Oracle", "available (%s)", status.Oracle.Model)
	} else {
		printStatus("Oracle", "unconfigured — degraded mode")
	}
	if status.Student.Available {
		printStatus("Student", "version %s (%d labels)", status.Student.Version, status.Student.LabelCount)
	} else {
		printStatus("Student", "untrained")
	}
	if status.Metrics.AgreementRate != nil {
		printStatus("Agreement", "%.1f%% over %d comparable calls",
			*status.Metrics.AgreementRate*100, status.Metrics.ComparableTotal)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
