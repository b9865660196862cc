package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/cloudvoice/internal/backend"
	"github.com/joescharf/cloudvoice/internal/daemon"
	"github.com/joescharf/cloudvoice/internal/knowledge"
	"github.com/joescharf/cloudvoice/internal/llm"
)

const backendProcessName = "cloudvoice-backend"

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the development agent backend",
	Long: `Run a local agent backend that answers POST /chat.

It estimates carbon footprints, simulates deployments (GPU instances need
approval) and searches the Green-AI knowledge base. With an Anthropic API key
prompts are routed by the model; otherwise keyword rules are used.

Runs in the foreground by default. Use 'backend start' to run it detached.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return backendRun(cmd.Context())
	},
}

var backendStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the backend in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return backendStartRun()
	},
}

var backendStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return backendStopRun()
	},
}

var backendStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background backend is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return backendStatusRun()
	},
}

func init() {
	backendCmd.PersistentFlags().IntP("port", "p", 8000, "port to listen on")
	_ = viper.BindPFlag("backend.port", backendCmd.PersistentFlags().Lookup("port"))

	backendCmd.AddCommand(backendStartCmd)
	backendCmd.AddCommand(backendStopCmd)
	backendCmd.AddCommand(backendStatusCmd)
	rootCmd.AddCommand(backendCmd)
}

func backendProcess() *daemon.Process {
	return daemon.NewProcess(viper.GetString("state_dir"), backendProcessName)
}

// newBackendServer assembles the backend from config.
func newBackendServer(ctx context.Context, logger *slog.Logger) *backend.Server {
	var classifier backend.Classifier = backend.KeywordClassifier{}
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		client := llm.NewClient(apiKey, viper.GetString("anthropic.model"))
		classifier = backend.FallbackClassifier{
			Primary:  client,
			Fallback: backend.KeywordClassifier{},
			Logger:   logger,
		}
		logger.Info("intent classification via Anthropic", "model", viper.GetString("anthropic.model"))
	} else {
		logger.Info("no Anthropic API key, using keyword routing")
	}

	var kb backend.Searcher
	base, err := knowledge.Open(ctx, viper.GetString("knowledge.persist_path"))
	if err != nil {
		logger.Warn("knowledge base unavailable", "error", err)
	} else {
		kb = base
		logger.Info("knowledge base ready", "collection", knowledge.CollectionName, "documents", base.Count())
	}

	return backend.NewServer(classifier, kb, logger, viper.GetString("backend.allowed_origin"))
}

func backendRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, interruptSignals()...)
	defer stop()

	logger := newLogger(os.Stderr)
	port := viper.GetInt("backend.port")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newBackendServer(ctx, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("backend listening", "addr", srv.Addr, "chat", fmt.Sprintf("http://localhost:%d/chat", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func backendStartRun() error {
	p := backendProcess()
	if pid, running := p.Status(); running {
		return fmt.Errorf("backend already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	port := viper.GetInt("backend.port")
	args := []string{"backend", "--port", strconv.Itoa(port)}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if jsonLogs {
		args = append(args, "--json-logs")
	}

	if dryRun {
		ui.DryRunMsg("Would run %s %v (logs: %s)", exe, args, p.LogPath())
		return nil
	}

	child := exec.Command(exe, args...)
	child.SysProcAttr = detachAttrs()
	pid, err := p.Start(child)
	if err != nil {
		return err
	}

	ui.Success("Backend started (PID %d) on http://localhost:%d/chat", pid, port)
	ui.Info("Logs: %s", p.LogPath())
	return nil
}

func backendStopRun() error {
	p := backendProcess()
	if _, running := p.Status(); !running {
		return fmt.Errorf("backend is not running")
	}
	if dryRun {
		ui.DryRunMsg("Would stop backend (PID file %s)", p.PIDFile().Path)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	term, kill := stopSignals()
	if err := p.Stop(ctx, term, kill); err != nil {
		return err
	}
	ui.Success("Backend stopped")
	return nil
}

func backendStatusRun() error {
	p := backendProcess()
	pid, running := p.Status()
	if !running {
		ui.Info("Backend not running")
		return nil
	}

	ui.Success("Backend running (PID %d)", pid)
	url := fmt.Sprintf("http://localhost:%d/healthz", viper.GetInt("backend.port"))
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		ui.Warning("Health check failed: %v", err)
		return nil
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		ui.Info("Health check OK: %s", url)
	} else {
		ui.Warning("Health check returned %s", resp.Status)
	}
	return nil
}
