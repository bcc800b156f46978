package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/devinv/internal/api"
	"github.com/kalambet/devinv/internal/cache"
	"github.com/kalambet/devinv/internal/config"
	"github.com/kalambet/devinv/internal/connectivity"
	"github.com/kalambet/devinv/internal/gateway"
	"github.com/kalambet/devinv/internal/queue"
	"github.com/kalambet/devinv/internal/reconcile"
	"github.com/kalambet/devinv/internal/resolve"
	"github.com/kalambet/devinv/internal/router"
	"github.com/kalambet/devinv/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the devinv daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running devinv daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, connectivity and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "devinv.pid")
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

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func newSensor(cfg config.Config) connectivity.Sensor {
	if cfg.Connectivity.ForceOffline {
		slog.Warn("connectivity forced offline; every write will be queued")
		return connectivity.NewStaticSensor(false)
	}
	return connectivity.NewHTTPSensor(cfg.ProbeTarget())
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "devinv version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("devinv is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("devinv is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	oracle := connectivity.NewOracle(newSensor(cfg), cfg.Connectivity.IntervalDuration())
	gw := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.TimeoutDuration())
	queueMgr := queue.NewManager(store)
	lastFetched := cache.NewLastKnownGood(store)

	writes := router.New(oracle, gw, queueMgr)
	reads := resolve.New(oracle, gw, queueMgr, lastFetched)
	reconciler := reconcile.New(reconcile.Deps{
		Conn:      oracle,
		Gateway:   gw,
		Queue:     queueMgr,
		Consumers: []reconcile.RemapConsumer{lastFetched},
		Recorder:  store,
	})

	if n, err := queueMgr.Len(ctx); err == nil && n > 0 {
		slog.Info("offline queue restored", "pending", n)
	}

	handler := api.NewAppHandler(api.AppDeps{
		Router:     writes,
		Resolver:   reads,
		Reconciler: reconciler,
		Queue:      queueMgr,
		Runs:       store,
		Conn:       oracle,
		Token:      cfg.Server.APIToken,
	})
	if cfg.Server.APIToken == "" {
		slog.Warn("no API token configured; local API is unauthenticated")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Router:     writes,
		Resolver:   reads,
		Reconciler: reconciler,
		Queue:      queueMgr,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	// Subscribe before the first poll so a queue left over from the last run
	// is replayed as soon as the device is seen online.
	unsubscribe := reconciler.Subscribe(ctx, oracle)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		oracle.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "devinv listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Background replays hold the store; let them finish before it closes.
	reconciler.Wait()
	return err
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
		printError("devinv is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop devinv (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to devinv (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
	Online bool   `json:"online"`
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	printStatus("Gateway", "%s", cfg.Gateway.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return nil
	}
	var health healthResponse
	if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}
	printStatus("Server", "running on port %d", cfg.Server.Port)
	if health.Online {
		printStatus("Connectivity", "%s", colorize(colorGreen, "online"))
	} else {
		printStatus("Connectivity", "%s", colorize(colorYellow, "offline"))
	}

	return printQueueAndRuns(ctx, client)
}

func printQueueAndRuns(ctx context.Context, client *apiClient) error {
	resp, err := client.get(ctx, "/queue")
	if err != nil {
		return err
	}
	var q api.QueueResponse
	if err := decodeJSON(resp, &q); err != nil {
		return err
	}
	printStatus("Queued", "%d", q.Count)

	resp, err = client.get(ctx, "/sync/runs?limit=1")
	if err != nil {
		return err
	}
	var runs []storage.SyncRun
	if err := decodeJSON(resp, &runs); err != nil {
		return err
	}
	if len(runs) == 0 {
		printStatus("Last sync", "never")
		return nil
	}
	last := runs[0]
	summary := fmt.Sprintf("%s (%d synced, %d failed, %d remaining)",
		last.FinishedAt.Local().Format(time.DateTime), last.Synced, last.Failed, last.Remaining)
	if last.Error != "" {
		summary += ": " + last.Error
	}
	printStatus("Last sync", "%s", summary)
	return nil
}
