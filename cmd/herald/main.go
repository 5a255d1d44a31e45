// ABOUTME: Entry point for the herald auto-greeting responder
// ABOUTME: Wires config, reply store, WhatsApp transport, session controller, and status server

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/heraldbot/herald/internal/auth"
	"github.com/heraldbot/herald/internal/config"
	"github.com/heraldbot/herald/internal/replystore"
	"github.com/heraldbot/herald/internal/session"
	"github.com/heraldbot/herald/internal/web"
	"github.com/heraldbot/herald/internal/whatsapp"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                    _     _
| |__   ___ _ __ __ _| | __| |
| '_ \ / _ \ '__/ _' | |/ _' |
| | | |  __/ |  | (_| | | (_| |
|_| |_|\___|_|   \__,_|_|\__,_|
`

// shutdownTimeout bounds the best-effort shutdown sequence (persist the
// reply store, release the WhatsApp session).
const shutdownTimeout = 5 * time.Second

// getConfigPath returns the path to the herald config file.
// Priority: HERALD_CONFIG env var > XDG_CONFIG_HOME/herald/herald.toml > ~/.config/herald/herald.toml
func getConfigPath() string {
	if envPath := os.Getenv("HERALD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "herald.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "herald", "herald.toml")
}

// getDataPath returns the path to the herald data directory.
// Priority: XDG_DATA_HOME/herald > ~/.local/share/herald
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "herald")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: herald <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the responder")
		fmt.Println("  init    Create a new config file interactively")
		fmt.Println("  token   Mint an operator token for the status API")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
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
	dataPath := getDataPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Ensure data directory exists
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	storePath := cfg.WhatsApp.StorePath
	if storePath == "" {
		storePath = filepath.Join(dataPath, "session.db")
	}
	repliedPath := cfg.Storage.RepliedPath
	if repliedPath == "" {
		repliedPath = filepath.Join(dataPath, "replied.json")
	}

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Session:  %s\n", storePath)
	green.Print("    ▶ ")
	fmt.Printf("Replied:  %s\n", repliedPath)
	green.Print("    ▶ ")
	fmt.Printf("Status:   http://%s/\n", cfg.Server.HTTPAddr)
	fmt.Println()

	logger.Info("starting herald",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	store := replystore.Open(repliedPath, logger)

	client, err := whatsapp.New(ctx, storePath, logger)
	if err != nil {
		return fmt.Errorf("creating whatsapp client: %w", err)
	}

	controller := session.New(session.Config{
		Greeting:    cfg.Reply.Greeting,
		BaseDelay:   cfg.Session.BaseDelay,
		MaxAttempts: cfg.Session.MaxAttempts,
	}, client, store, logger)
	client.SetHandler(controller.HandleEvent)

	var verifier *auth.Verifier
	if cfg.Auth.Secret != "" {
		verifier = auth.NewVerifier(cfg.Auth.Secret)
	}
	server := web.New(cfg.Server.HTTPAddr, controller, verifier, logger)

	controller.Start(ctx)

	// Blocks until the context is cancelled by SIGINT/SIGTERM.
	serveErr := server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	controller.Shutdown(shutdownCtx)

	return serveErr
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
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	operator := fs.String("operator", "ops", "operator name embedded in the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not set in the config; the status API is unauthenticated")
	}

	token, err := auth.NewVerifier(cfg.Auth.Secret).Mint(*operator, *ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	green.Print("    ▶ ")
	fmt.Print("Greeting text (empty = default): ")
	greeting, _ := reader.ReadString('\n')
	greeting = strings.TrimSpace(greeting)

	green.Print("    ▶ ")
	fmt.Print("Status server address [127.0.0.1:8420]: ")
	httpAddr, _ := reader.ReadString('\n')
	httpAddr = strings.TrimSpace(httpAddr)
	if httpAddr == "" {
		httpAddr = "127.0.0.1:8420"
	}

	green.Print("    ▶ ")
	fmt.Print("Status API secret (empty = no auth): ")
	secret, _ := reader.ReadString('\n')
	secret = strings.TrimSpace(secret)

	cfgText := "# herald configuration\n# Generated by herald init\n\n"

	if greeting != "" {
		cfgText += fmt.Sprintf("[reply]\ngreeting = %q\n\n", greeting)
	}

	cfgText += fmt.Sprintf(`[session]
# Linear backoff: delay = base_delay * attempt, capped at max_attempts
base_delay = "5s"
max_attempts = 5

[server]
http_addr = %q
`, httpAddr)

	if secret != "" {
		cfgText += fmt.Sprintf("\n[auth]\nsecret = %q\n", secret)
	}

	cfgText += "\n[logging]\nlevel = \"info\"\n"

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfgText), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: herald serve")
	fmt.Println("    2. Open the status page and scan the QR code")
	fmt.Println()

	return nil
}
