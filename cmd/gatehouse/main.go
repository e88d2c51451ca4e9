package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/loomcms/gatehouse/internal/apikey"
	"github.com/loomcms/gatehouse/internal/config"
	"github.com/loomcms/gatehouse/internal/dispatch"
	"github.com/loomcms/gatehouse/internal/events"
	"github.com/loomcms/gatehouse/internal/gateway"
	"github.com/loomcms/gatehouse/internal/lock"
	"github.com/loomcms/gatehouse/internal/log"
	"github.com/loomcms/gatehouse/internal/ratelimit"
	"github.com/loomcms/gatehouse/internal/server"
	"github.com/loomcms/gatehouse/internal/storage"
	"github.com/loomcms/gatehouse/internal/tui/watch"
	"github.com/loomcms/gatehouse/internal/usage"
	"github.com/loomcms/gatehouse/internal/webhook"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystem(args))
	case "key":
		os.Exit(runKey(args))
	case "endpoint":
		os.Exit(runEndpoint(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("gatehouse version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`gatehouse - API-key gateway and webhook dispatch for workspace content

Usage:
  gatehouse <command> [flags]

Commands:
  system start      Run the gateway service in foreground
  key new           Mint a workspace API key (raw key printed once)
  key list          List a workspace's keys
  endpoint add      Register a webhook endpoint
  endpoint list     List a workspace's webhook endpoints
  watch             Live delivery monitor (requires admin token)
  version           Show version information
  help              Show this help message

Common flags:
  --config <path>   Config file (default: $GATEHOUSE_CONFIG, ./gatehouse.yaml)
`)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	return config.Load(path)
}

func runSystem(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: gatehouse system <start> [flags]")
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("gatehouse starting", "version", version)

	pidPath := filepath.Join(filepath.Dir(cfg.Store.Path), "gatehouse.pid")
	pidLock, err := lock.Acquire(pidPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Store.Path)

	keys := apikey.NewStore(db)
	endpoints := webhook.NewStore(db)
	recorder := usage.NewRecorder(db)
	hub := events.NewHub(cfg.Events.RingCapacity)

	limiter := ratelimit.New(keys)
	authenticator := gateway.NewAuthenticator(keys, limiter)
	gate := gateway.NewMiddleware(authenticator, recorder, log.WithComponent("gateway"))

	dispatcher := dispatch.New(
		webhook.NewRegistry(endpoints),
		webhook.NewAdapterRegistry(),
		webhook.NewClient(cfg.Delivery.Timeout, cfg.Delivery.UserAgent),
		recorder,
		hub,
		dispatch.Config{
			SignatureHeader: cfg.Delivery.SignatureHeader,
			AttemptTimeout:  cfg.Delivery.Timeout,
		},
	)

	srv := server.New(server.Config{
		Listen:       cfg.Gateway.Listen,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
		MaxEventBody: cfg.Delivery.MaxBodyBytes,
		AdminToken:   cfg.Admin.Token,
	}, gate, dispatcher, endpoints, hub, log.WithComponent("server"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()

	logger.Info("gatehouse running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		cancel()
		exitCode = 1
	}

	// Let in-flight webhook deliveries finish; they are decoupled from the
	// requests that triggered them but not from process lifetime.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		logger.Warn("dispatch drain timed out", "error", err)
	}

	logger.Info("gatehouse stopped")
	return exitCode
}

func runKey(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: gatehouse key <new|list> [flags]")
		return 1
	}
	action := args[0]
	args = args[1:]

	switch action {
	case "new":
		return runKeyNew(args)
	case "list":
		return runKeyList(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown key action: %s\n", action)
		return 1
	}
}

func runKeyNew(args []string) int {
	fs := flag.NewFlagSet("key new", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	workspaceID := fs.String("workspace", "", "Workspace the key belongs to")
	kind := fs.String("kind", apikey.KindStandard, "Key kind (standard, server, content)")
	scopes := fs.String("scopes", "*", "Comma-separated scopes")
	expiresIn := fs.Duration("expires-in", 0, "Optional expiry relative to now (e.g. 720h)")
	limit := fs.Int("limit", 0, "Max requests per window (0 = unlimited)")
	window := fs.Duration("window", 0, "Rate limit window (e.g. 1m)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *workspaceID == "" {
		fmt.Fprintln(os.Stderr, "--workspace is required")
		return 1
	}

	db, cleanup, err := openStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cleanup()

	req := apikey.CreateRequest{
		WorkspaceID:     *workspaceID,
		Kind:            *kind,
		Scopes:          splitCSV(*scopes),
		RateLimitWindow: *window,
		RateLimitMax:    *limit,
	}
	if *expiresIn > 0 {
		t := time.Now().UTC().Add(*expiresIn)
		req.ExpiresAt = &t
	}

	rec, raw, err := apikey.NewStore(db).Create(context.Background(), req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create key: %v\n", err)
		return 1
	}

	fmt.Printf("Created key %s for workspace %s\n", rec.ID, rec.WorkspaceID)
	fmt.Printf("  kind:   %s\n", rec.Kind)
	fmt.Printf("  scopes: %s\n", strings.Join(rec.Scopes, ", "))
	if rec.Limited() {
		fmt.Printf("  limit:  %d per %s\n", rec.RateLimitMax, rec.RateLimitWindow)
	}
	if rec.ExpiresAt != nil {
		fmt.Printf("  expires: %s\n", rec.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("\n%s\n\nStore this key now; it cannot be recovered.\n", raw)
	return 0
}

func runKeyList(args []string) int {
	fs := flag.NewFlagSet("key list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	workspaceID := fs.String("workspace", "", "Workspace to list keys for")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *workspaceID == "" {
		fmt.Fprintln(os.Stderr, "--workspace is required")
		return 1
	}

	db, cleanup, err := openStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cleanup()

	recs, err := apikey.NewStore(db).ListByWorkspace(context.Background(), *workspaceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list keys: %v\n", err)
		return 1
	}
	if len(recs) == 0 {
		fmt.Println("No keys.")
		return 0
	}

	for _, rec := range recs {
		state := "enabled"
		if !rec.Enabled {
			state = "disabled"
		}
		if rec.Expired(time.Now()) {
			state = "expired"
		}
		lastUsed := "never"
		if rec.LastUsedAt != nil {
			lastUsed = rec.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-8s %-9s scopes=[%s] last_used=%s\n",
			rec.ID, rec.Kind, state, strings.Join(rec.Scopes, ","), lastUsed)
	}
	return 0
}

func runEndpoint(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: gatehouse endpoint <add|list> [flags]")
		return 1
	}
	action := args[0]
	args = args[1:]

	switch action {
	case "add":
		return runEndpointAdd(args)
	case "list":
		return runEndpointList(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown endpoint action: %s\n", action)
		return 1
	}
}

func runEndpointAdd(args []string) int {
	fs := flag.NewFlagSet("endpoint add", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	workspaceID := fs.String("workspace", "", "Workspace the endpoint belongs to")
	url := fs.String("url", "", "Delivery URL")
	secret := fs.String("secret", "", "Signing secret (required for json format)")
	format := fs.String("format", "json", "Wire format: json, discord, slack")
	eventNames := fs.String("events", "", "Comma-separated subscribed event names")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *workspaceID == "" || *url == "" || *eventNames == "" {
		fmt.Fprintln(os.Stderr, "--workspace, --url and --events are required")
		return 1
	}

	db, cleanup, err := openStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cleanup()

	ep, err := webhook.NewStore(db).Create(context.Background(), webhook.CreateRequest{
		WorkspaceID:      *workspaceID,
		URL:              *url,
		Secret:           *secret,
		Format:           webhook.Format(*format),
		SubscribedEvents: splitCSV(*eventNames),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create endpoint: %v\n", err)
		return 1
	}

	fmt.Printf("Registered endpoint %s (%s, %s) for workspace %s\n",
		ep.ID, ep.Format, ep.URL, ep.WorkspaceID)
	return 0
}

func runEndpointList(args []string) int {
	fs := flag.NewFlagSet("endpoint list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	workspaceID := fs.String("workspace", "", "Workspace to list endpoints for")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *workspaceID == "" {
		fmt.Fprintln(os.Stderr, "--workspace is required")
		return 1
	}

	db, cleanup, err := openStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer cleanup()

	eps, err := webhook.NewStore(db).ListByWorkspace(context.Background(), *workspaceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list endpoints: %v\n", err)
		return 1
	}
	if len(eps) == 0 {
		fmt.Println("No endpoints.")
		return 0
	}

	for _, ep := range eps {
		state := "enabled"
		if !ep.Enabled {
			state = "disabled"
		}
		fmt.Printf("%s  %-7s %-9s %s events=[%s]\n",
			ep.ID, ep.Format, state, ep.URL, strings.Join(ep.SubscribedEvents, ","))
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8470", "Gatehouse base URL")
	token := fs.String("token", os.Getenv("GATEHOUSE_ADMIN_TOKEN"), "Admin token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "--token (or GATEHOUSE_ADMIN_TOKEN) is required")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

// openStore opens the sqlite database for a management command.
func openStore(configPath string) (*sql.DB, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := storage.OpenSQLite(context.Background(), cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, func() { db.Close() }, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
