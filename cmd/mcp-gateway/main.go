// ABOUTME: Entry point for the mcp-gateway protocol server
// ABOUTME: Serves sessions and manages credentials, tokens and configuration from the command line

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/auth"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/config"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/credential"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/gateway"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/logging"
	"github.com/balupeddireddy08/Model-Context-Protocol-for-AI/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                        _
  _ __ ___   ___ _ __         __ _  __ _| |_ _____      ____ _ _   _
 | '_ ' _ \ / __| '_ \ _____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | | | | | (__| |_) |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_| |_| |_|\___| .__/       \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                |_|          |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: MCP_CONFIG env var > XDG_CONFIG_HOME/mcp/gateway.yaml > ~/.config/mcp/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MCP_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "mcp", "gateway.yaml")
}

// getDataPath returns the path to the mcp data directory.
// Priority: XDG_DATA_HOME/mcp > ~/.local/share/mcp
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mcp")
}

func usage() {
	fmt.Println("Usage: mcp-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the gateway server")
	fmt.Println("  init                                Create a new config file interactively")
	fmt.Println("  bootstrap --identity NAME           Create config, database and a first credential")
	fmt.Println("  credential add|rotate NAME          Register or rotate a credential (secret from MCP_SECRET or generated)")
	fmt.Println("  credential remove NAME              Remove a credential")
	fmt.Println("  credential list                     List registered identities")
	fmt.Println("  token --identity NAME               Issue a token (secret from MCP_SECRET)")
	fmt.Println("  audit [--limit N]                   Show recent audit log entries")
	fmt.Println("  health                              Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
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
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "credential":
		err = runCredential(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "audit":
		err = runAudit(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "help", "-h", "--help":
		usage()
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

	logger := logging.New(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:       %s\n", cfg.Server.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Handler:    %s\n", cfg.Handler.Kind)
	green.Print("    ▶ ")
	fmt.Printf("Rate limit: %d per %s (%s)\n", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, cfg.RateLimit.Strategy)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Database.Path == "" && os.Getenv("MCP_DB_PATH") == "" {
		yellow.Println("    ! no database configured, credentials are kept in memory")
	}

	fmt.Println()

	logger.Info("starting mcp-gateway",
		"config", configPath,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// openStore opens the configured credential database. Management commands
// need a persistent store; an in-memory one would lose every change.
func openStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MCP_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" || dbPath == ":memory:" {
		return nil, errors.New("database.path must name a file for credential management")
	}
	s, err := store.NewSQLiteStore(dbPath, logging.Discard())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

// credentialService opens the store and wraps it in a credential service.
// The caller closes the returned store.
func credentialService(cfg *config.Config) (*credential.Service, store.Store, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := credential.NewService(s,
		credential.WithIterations(cfg.Auth.PBKDF2Iterations),
		credential.WithAudit(s),
		credential.WithLogger(logging.Discard()),
	)
	if err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("creating credential service: %w", err)
	}
	return svc, s, nil
}

// generateSecret returns a random URL-safe secret.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// secretFromEnv returns MCP_SECRET, or a generated secret when unset.
func secretFromEnv() (secret string, generated bool, err error) {
	if s := os.Getenv("MCP_SECRET"); s != "" {
		return s, false, nil
	}
	s, err := generateSecret(24)
	return s, true, err
}

// parseFlag extracts --name value or --name=value from args.
// Supports both "--name value" and "--name=value" formats.
func parseFlag(args []string, name string) (value string, rest []string, err error) {
	long := "--" + name
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == long:
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s requires a value", long)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(arg, long+"="):
			value = strings.TrimPrefix(arg, long+"=")
		default:
			rest = append(rest, arg)
		}
	}
	return value, rest, nil
}

// validateIdentity trims and bounds an identity given on the command line.
func validateIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", fmt.Errorf("identity cannot be empty or whitespace only")
	}
	if len(identity) > 100 {
		return "", fmt.Errorf("identity exceeds maximum length of 100 characters")
	}
	return identity, nil
}

func runCredential(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: mcp-gateway credential add|rotate|remove|list [NAME]")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	svc, s, err := credentialService(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	sub := args[0]
	if sub == "list" {
		creds, err := svc.List(ctx)
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No credentials registered.")
			return nil
		}
		fmt.Printf("%-30s %-10s %-22s %s\n", "IDENTITY", "ITERATIONS", "CREATED", "ROTATED")
		for _, c := range creds {
			rotated := "-"
			if c.RotatedAt != nil {
				rotated = c.RotatedAt.Local().Format(time.DateTime)
			}
			fmt.Printf("%-30s %-10d %-22s %s\n", c.Identity, c.Iterations, c.CreatedAt.Local().Format(time.DateTime), rotated)
		}
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("usage: mcp-gateway credential %s NAME", sub)
	}
	identity, err := validateIdentity(args[1])
	if err != nil {
		return err
	}

	switch sub {
	case "add", "rotate":
		secret, generated, err := secretFromEnv()
		if err != nil {
			return err
		}
		verb := "Registered"
		if sub == "add" {
			err = svc.Register(ctx, identity, secret)
		} else {
			verb = "Rotated"
			err = svc.Rotate(ctx, identity, secret)
		}
		if err != nil {
			return err
		}
		green.Printf("  ✓ %s credential for %s\n", verb, identity)
		if generated {
			yellow.Println("  Secret (shown once, store it safely):")
			fmt.Printf("  %s\n", secret)
		}
	case "remove":
		if err := svc.Remove(ctx, identity); err != nil {
			return err
		}
		green.Printf("  ✓ Removed credential for %s\n", identity)
	default:
		return fmt.Errorf("unknown credential command: %s", sub)
	}
	return nil
}

func runToken(ctx context.Context, args []string) error {
	identity, _, err := parseFlag(args, "identity")
	if err != nil {
		return err
	}
	if identity == "" {
		return fmt.Errorf("--identity flag is required")
	}
	secret := os.Getenv("MCP_SECRET")
	if secret == "" {
		return fmt.Errorf("MCP_SECRET must hold the identity's secret")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	svc, s, err := credentialService(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := svc.Authenticate(ctx, identity, secret); err != nil {
		return err
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	tok, err := tokens.Issue(identity, 0)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	if err := s.AppendAuditLog(ctx, &store.AuditEntry{
		ID:         uuid.New().String(),
		Actor:      "operator",
		Action:     store.AuditIssueToken,
		TargetType: "token",
		TargetID:   tok.ID,
		Timestamp:  time.Now().UTC(),
		Detail:     map[string]any{"identity": identity, "expires_at": tok.ExpiresAt.Format(time.RFC3339)},
	}); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}

	fmt.Println(tok.Value)
	return nil
}

func runAudit(ctx context.Context, args []string) error {
	limitStr, _, err := parseFlag(args, "limit")
	if err != nil {
		return err
	}
	limit := 20
	if limitStr != "" {
		if _, err := fmt.Sscanf(limitStr, "%d", &limit); err != nil || limit < 1 {
			return fmt.Errorf("--limit must be a positive integer")
		}
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListAuditLog(ctx, store.AuditFilter{Limit: limit})
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, e := range entries {
		gray.Printf("%s ", e.Timestamp.Local().Format(time.DateTime))
		fmt.Printf("%-20s %-12s %s", e.Action, e.Actor, e.TargetID)
		if len(e.Detail) > 0 {
			gray.Printf(" %v", e.Detail)
		}
		fmt.Println()
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates the database and registers the first credential
// 3. Issues a token for it and saves it next to the config
//
// This is a one-command setup: mcp-gateway bootstrap --identity alice
func runBootstrap(ctx context.Context, args []string) error {
	identity, rest, err := parseFlag(args, "identity")
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if identity == "" {
		return fmt.Errorf("--identity flag is required")
	}
	identity, err = validateIdentity(identity)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		jwtSecret, err := generateSecret(32)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# mcp-gateway configuration
# Generated by mcp-gateway bootstrap

server:
  grpc_addr: "localhost:8001"
  http_addr: "localhost:8000"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "1h"

rate_limit:
  max_requests: 100
  window: "60s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	svc, s, err := credentialService(cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	existing, err := svc.List(ctx)
	if err != nil {
		return fmt.Errorf("checking credentials: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: %d credential(s) exist", len(existing))
	}

	secret, generated, err := secretFromEnv()
	if err != nil {
		return err
	}
	if err := svc.Register(ctx, identity, secret); err != nil {
		return fmt.Errorf("registering credential: %w", err)
	}
	green.Printf("  ✓ Registered credential: %s\n", identity)

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.JWTSecret), auth.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	tok, err := tokens.Issue(identity, 0)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(tok.Value), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Credential")
	cyan.Println("  ----------")
	fmt.Printf("  Identity: %s\n", identity)
	if generated {
		fmt.Printf("  Secret:   %s (shown once)\n", secret)
	}
	fmt.Printf("  Token:    %s (expires %s)\n", tokenPath, tok.ExpiresAt.Local().Format(time.DateTime))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    mcp-gateway serve                          # start the gateway")
	fmt.Printf("    mcp-chat --identity %s --secret ...  # start chatting\n", identity)
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mcp-gateway configuration setup")
	fmt.Println("===============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	grpcAddr := prompt(reader, "gRPC address", "localhost:8001")
	httpAddr := prompt(reader, "HTTP address", "localhost:8000")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Authentication ---")
	tokenTTL := prompt(reader, "Token lifetime", "1h")
	maxAttempts := prompt(reader, "Authentication attempts per session", "3")
	revocation := isYes(prompt(reader, "Enable token revocation?", "no"))

	fmt.Println("\n--- Rate Limiting ---")
	maxRequests := prompt(reader, "Requests per window", "100")
	window := prompt(reader, "Window", "60s")

	fmt.Println("\n--- Message Handler ---")
	handlerKind := prompt(reader, "Handler (echo/assistant/webhook)", "echo")
	var webhookURL string
	if handlerKind == "webhook" {
		webhookURL = prompt(reader, "Webhook URL", "")
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "mcp-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	jwtSecret, err := generateSecret(32)
	if err != nil {
		return err
	}

	var cfg strings.Builder
	cfg.WriteString("# mcp-gateway configuration\n")
	cfg.WriteString("# Generated by mcp-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  grpc_addr: \"%s\"\n", grpcAddr))
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
	cfg.WriteString(fmt.Sprintf("  token_ttl: \"%s\"\n", tokenTTL))
	cfg.WriteString(fmt.Sprintf("  max_auth_attempts: %s\n", maxAttempts))
	cfg.WriteString(fmt.Sprintf("  revocation: %t\n", revocation))
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  strategy: \"fixed_window\"\n")
	cfg.WriteString(fmt.Sprintf("  max_requests: %s\n", maxRequests))
	cfg.WriteString(fmt.Sprintf("  window: \"%s\"\n", window))
	cfg.WriteString("\n")

	cfg.WriteString("conversations:\n")
	cfg.WriteString("  idle_timeout: \"30m\"\n")
	cfg.WriteString("  sweep_interval: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("shutdown:\n")
	cfg.WriteString("  drain_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("handler:\n")
	cfg.WriteString(fmt.Sprintf("  kind: \"%s\"\n", handlerKind))
	if webhookURL != "" {
		cfg.WriteString(fmt.Sprintf("  webhook_url: \"%s\"\n", webhookURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	// Validate before writing so a typo never lands on disk.
	if _, err := config.Parse([]byte(cfg.String()), false); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo register a first credential and start the server:")
	fmt.Printf("  mcp-gateway credential add <identity>\n")
	fmt.Printf("  mcp-gateway serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
