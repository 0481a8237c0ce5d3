// ABOUTME: Entry point for the logicle gateway server
// ABOUTME: Wires store, provider, satellite hub and HTTP API together

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/logicleai/logicle/internal/api"
	"github.com/logicleai/logicle/internal/auth"
	"github.com/logicleai/logicle/internal/builtins"
	"github.com/logicleai/logicle/internal/chat"
	"github.com/logicleai/logicle/internal/config"
	"github.com/logicleai/logicle/internal/conversation"
	"github.com/logicleai/logicle/internal/models"
	"github.com/logicleai/logicle/internal/provider"
	"github.com/logicleai/logicle/internal/satellite"
	"github.com/logicleai/logicle/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _             _      _
| | ___   __ _(_) ___| | ___
| |/ _ \ / _' | |/ __| |/ _ \
| | (_) | (_| | | (__| |  __/
|_|\___/ \__, |_|\___|_|\___|
         |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: LOGICLE_CONFIG env var > XDG_CONFIG_HOME/logicle/gateway.yaml > ~/.config/logicle/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOGICLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "logicle", "gateway.yaml")
}

// getDataPath returns the path to the logicle data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "logicle")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: logicle-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	// Local development secrets live in .env; missing file is fine.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Provider: %s\n", cfg.Provider.BaseURL)
	fmt.Println()

	logger.Info("starting logicle-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	filesDir := cfg.Files.Dir
	if filesDir == "" {
		filesDir = filepath.Join(getDataPath(), "uploads")
	}
	files, err := store.NewDiskFiles(filesDir)
	if err != nil {
		return fmt.Errorf("opening attachment storage: %w", err)
	}

	catalog := models.Default()
	if cfg.Models.CatalogPath != "" {
		catalog, err = models.Load(cfg.Models.CatalogPath)
		if err != nil {
			return fmt.Errorf("loading model catalog: %w", err)
		}
	}

	var resolver auth.ProfileResolver
	switch {
	case cfg.Auth.ProfileURL != "":
		resolver = auth.NewProfileClient(cfg.Auth.ProfileURL)
	case cfg.Auth.JWTSecret != "":
		// No profile endpoint: fall back to verifying locally issued
		// tokens offline.
		resolver = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("using local token verification for authentication")
	default:
		logger.Warn("no profile endpoint or jwt secret configured, authentication disabled")
	}

	hub := satellite.NewHub(logger)
	dispatcher := satellite.NewDispatcher(builtins.Default(files), hub)
	satServer := satellite.NewServer(hub, resolver, logger)

	client := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, logger)
	converter := chat.NewConverter(files, logger)
	service := conversation.New(st,
		timeoutCompleter{
			inner:   conversation.ProviderCompleter{Client: client},
			timeout: cfg.Provider.StreamTimeout,
		},
		converter,
		timeoutDispatcher{inner: dispatcher, timeout: cfg.Satellites.CallTimeout},
		catalog, nil, logger)

	apiServer := api.NewServer(service, st, hub, satServer, api.Options{
		Resolver:       resolver,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: apiServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// timeoutCompleter bounds each provider call by the configured stream
// timeout on top of whatever the request context carries.
type timeoutCompleter struct {
	inner   conversation.Completer
	timeout time.Duration
}

func (c timeoutCompleter) Stream(ctx context.Context, req *provider.ChatRequest) (conversation.ChunkStream, error) {
	streamCtx, cancel := context.WithTimeout(ctx, c.timeout)
	stream, err := c.inner.Stream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancellingStream{ChunkStream: stream, cancel: cancel}, nil
}

type cancellingStream struct {
	conversation.ChunkStream
	cancel context.CancelFunc
}

func (s *cancellingStream) Close() error {
	s.cancel()
	return s.ChunkStream.Close()
}

// timeoutDispatcher bounds each tool invocation by the configured
// satellite call timeout. Cancelling the context removes the pending
// call from the satellite connection.
type timeoutDispatcher struct {
	inner   *satellite.Dispatcher
	timeout time.Duration
}

func (d timeoutDispatcher) Lookup(toolName string) (bool, bool) {
	return d.inner.Lookup(toolName)
}

func (d timeoutDispatcher) Descriptors() []satellite.ToolDescriptor {
	return d.inner.Descriptors()
}

func (d timeoutDispatcher) Invoke(ctx context.Context, toolName string, params json.RawMessage, uiLink satellite.ToolUILink) (json.RawMessage, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.inner.Invoke(ctx, toolName, params, uiLink)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("logicle-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Provider Configuration ---")
	providerURL := prompt(reader, "Provider base URL", "https://api.openai.com/v1")
	apiKeyEnv := prompt(reader, "API key environment variable", "OPENAI_API_KEY")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# logicle-gateway configuration\n")
	cfg.WriteString("# Generated by logicle-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("provider:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", providerURL))
	cfg.WriteString(fmt.Sprintf("  api_key: \"${%s}\"\n", apiKeyEnv))
	cfg.WriteString("  stream_timeout: \"10m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("satellites:\n")
	cfg.WriteString("  call_timeout: \"2m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  logicle-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
