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
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tfmt/internal/api"
	"github.com/kalambet/tfmt/internal/clipboard"
	"github.com/kalambet/tfmt/internal/config"
	"github.com/kalambet/tfmt/internal/errlog"
	"github.com/kalambet/tfmt/internal/ipc"
	"github.com/kalambet/tfmt/internal/ollama"
	"github.com/kalambet/tfmt/internal/schema"
	"github.com/kalambet/tfmt/internal/storage"
	"github.com/kalambet/tfmt/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var noMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the command catalog over HTTP and MCP stdio (foreground)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), !noMCP)
		},
	}
	cmd.Flags().BoolVar(&noMCP, "no-mcp", false, "do not serve MCP on stdin/stdout")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running tfmt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopServer()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tfmt status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(cmd.Context())
		},
	}
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tfmt.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
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
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func serverRunning(port int) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// openStore opens and migrates the store described by cfg. A store written
// by a newer build is refused.
func openStore(cfg config.Config) (*storage.Store, error) {
	llm, err := config.LoadLLMEnv()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Options{
		DataDir: cfg.Storage.DataDir,
		Backend: cfg.Storage.Backend,
		Seed:    storage.Seed{LLMBaseURL: llm.BaseURL, LLMAPIKey: llm.APIKey},
		Logger:  slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if _, err := storage.Migrate(store); err != nil {
		store.Close()
		if errors.Is(err, storage.ErrFutureSchema) {
			return nil, fmt.Errorf("%w; upgrade tfmt to open this data directory", err)
		}
		return nil, fmt.Errorf("migrating storage: %w", err)
	}
	return store, nil
}

func runServer(parent context.Context, withMCP bool) error {
	if parent == nil {
		parent = context.Background()
	}
	fmt.Fprintf(os.Stderr, "tfmt version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("getting API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if serverRunning(cfg.Server.Port) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tfmt is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tfmt is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, "tfmt", version, cfg.Telemetry.Insecure)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	slog.Info("store ready", "backend", cfg.Storage.Backend, "schema_version", store.SchemaVersion())

	retryOpts := cfg.RetryOptions()
	retryOpts.Logger = slog.Default()

	errs := errlog.New(filepath.Join(cfg.Storage.DataDir, "logs"), slog.Default())
	d := ipc.New(errs, slog.Default())
	if err := ipc.RegisterCatalog(d, ipc.Services{
		Store:     store,
		Clipboard: clipboard.NewSystem(),
		Retry:     retryOpts,
		Lifecycle: ctx,
		Version:   version,
		Logger:    slog.Default(),
		ErrorLog:  errs,
	}); err != nil {
		return err
	}
	if err := d.Arm(); err != nil {
		return err
	}
	slog.Info("dispatcher armed", "commands", len(schema.Commands()))

	snap := store.Snapshot()
	apiKey := ""
	if snap.LLMAPIKey != nil {
		apiKey = *snap.LLMAPIKey
	}
	if !ollama.New(snap.LLMBaseURL, apiKey).IsRunning(ctx) {
		printWarning("no inference server answering at %s; model refresh will fail until it is started", snap.LLMBaseURL)
	}

	ln, err := api.Listen(cfg.Server.Port, cfg.Server.MaxConns)
	if err != nil {
		return err
	}
	srv := api.NewServer(ctx, api.NewHandler(d, apiToken))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "tfmt listening on %s\n", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(d, version))
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
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
		printError("tfmt is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tfmt (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tfmt (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	running := serverRunning(cfg.Server.Port)
	if running {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Backend", "%s", cfg.Storage.Backend)

	if !running {
		return nil
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var hist ipc.HistoryResponse
	if err := client.callInto(ctx, schema.StoreGetHistory, nil, &hist); err == nil {
		printStatus("History", "%d items", hist.Total)
	}
	var baseURL string
	if err := client.callInto(ctx, schema.StoreGet, map[string]string{"key": string(storage.KeyLLMBaseURL)}, &baseURL); err == nil {
		state := "not running"
		if ollama.New(baseURL, "").IsRunning(ctx) {
			state = "running"
		}
		printStatus("LLM server", "%s at %s", state, baseURL)
	}
	return nil
}
