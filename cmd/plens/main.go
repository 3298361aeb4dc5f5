// Command plens runs the audit-logging reverse proxy: every request is
// forwarded verbatim to the configured upstream OpenAI-compatible API,
// and the prompt/response exchange is appended to a structured JSONL
// audit log. The prompt is logged before dispatch; a buffered response is
// logged before the client sees it, a streamed one once the stream ends.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"crypto/tls"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/plens/plens/internal/config"
	"github.com/plens/plens/internal/logwriter"
	"github.com/plens/plens/internal/pidguard"
	"github.com/plens/plens/internal/proxy"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[plens] %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		host           string
		port           int
		logDir         string
		upstreamURL    string
		timeoutSeconds float64
		maxFileBytes   int64
		maxPromptBytes int
		pidFilePath    string
		showVersion    bool
	)

	cmd := &cobra.Command{
		Use:           "plens",
		Short:         "Audit-logging reverse proxy for OpenAI-compatible LLM APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("plens %s\n", version)
				return nil
			}
			if configPath == "" && upstreamURL == "" {
				return fmt.Errorf("either --config or --upstream must be set")
			}
			return run(runArgs{
				configPath:     configPath,
				host:           host,
				port:           port,
				logDir:         logDir,
				upstreamURL:    upstreamURL,
				timeoutSeconds: timeoutSeconds,
				maxFileBytes:   maxFileBytes,
				maxPromptBytes: maxPromptBytes,
				pidFilePath:    pidFilePath,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a TOML config file")
	flags.StringVar(&host, "host", "", "override server.host")
	flags.IntVar(&port, "port", 0, "override server.port")
	flags.StringVar(&logDir, "log-dir", "", "override logging.log_dir")
	flags.StringVar(&upstreamURL, "upstream", "", "override upstream.base_url")
	flags.Float64Var(&timeoutSeconds, "timeout", 0, "override upstream.timeout_s")
	flags.Int64Var(&maxFileBytes, "max-file-bytes", 0, "override logging.max_file_bytes")
	flags.IntVar(&maxPromptBytes, "max-prompt-bytes", 0, "override logging.max_prompt_bytes")
	flags.StringVar(&pidFilePath, "pid-file", "", "pidfile path (default <log_dir>/plens.pid)")
	flags.BoolVar(&showVersion, "version", false, "print the version and exit")

	return cmd
}

type runArgs struct {
	configPath     string
	host           string
	port           int
	logDir         string
	upstreamURL    string
	timeoutSeconds float64
	maxFileBytes   int64
	maxPromptBytes int
	pidFilePath    string
}

func run(a runArgs) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	overrides := config.Overrides{}
	if a.host != "" {
		overrides.Host = &a.host
	}
	if a.port != 0 {
		overrides.Port = &a.port
	}
	if a.logDir != "" {
		overrides.LogDir = &a.logDir
	}
	if a.upstreamURL != "" {
		overrides.UpstreamURL = &a.upstreamURL
	}
	if a.timeoutSeconds != 0 {
		overrides.TimeoutSeconds = &a.timeoutSeconds
	}
	if a.maxFileBytes != 0 {
		overrides.MaxFileBytes = &a.maxFileBytes
	}
	if a.maxPromptBytes != 0 {
		overrides.MaxPromptBytes = &a.maxPromptBytes
	}
	merged := cfg.WithOverrides(overrides)

	if merged.Upstream.BaseURL == "" {
		return fmt.Errorf("invalid config: upstream.base_url must be set (via --config or --upstream)")
	}
	if err := config.Validate(&merged); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(merged.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	pidPath := a.pidFilePath
	if pidPath == "" {
		pidPath = filepath.Join(merged.Logging.LogDir, "plens.pid")
	}
	if err := os.MkdirAll(merged.Logging.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	guard, err := pidguard.Acquire(pidPath)
	if err != nil {
		return err
	}
	defer guard.Release()

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   true,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !merged.Upstream.VerifySSL},
	}
	upstreamClient := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(merged.Upstream.TimeoutSeconds * float64(time.Second)),
	}

	writer := logwriter.New(merged.Logging.LogDir, merged.Logging.Filename, merged.Logging.MaxFileBytes)
	proxyHandler := proxy.New(&merged, writer, upstreamClient)

	addr := fmt.Sprintf("%s:%d", merged.Server.Host, merged.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           proxyHandler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout/ReadTimeout: upstream streaming responses can
		// run for minutes and must not be cut off at the HTTP layer.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr, "upstream", merged.Upstream.BaseURL)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down (signal received)")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	return nil
}
