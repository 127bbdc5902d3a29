// ABOUTME: Entry point for coven-chatd, the realtime chat gateway
// ABOUTME: Serves the query, write and live API and manages login accounts

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/gateway"
	"github.com/2389/coven-chat/internal/hub"
	"github.com/2389/coven-chat/internal/logging"
	"github.com/2389/coven-chat/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
                                          _           _      _
  ___ _____   _____ _ __         ___| |__   __ _| |_ __| |
 / __/ _ \ \ / / _ \ '_ \ _____ / __| '_ \ / _' | __/ _' |
| (_| (_) \ V /  __/ | | |_____| (__| | | | (_| | || (_| |
 \___\___/ \_/ \___|_| |_|      \___|_| |_|\__,_|\__\__,_|
`

// getConfigPath returns the gateway config path.
// Priority: COVEN_CHATD_CONFIG env var > XDG config dir.
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHATD_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultGatewayConfigPath()
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: coven-chatd <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                                   Start the chat gateway")
	fmt.Fprintln(w, "  init                                    Create a new config file interactively")
	fmt.Fprintln(w, "  adduser --email EMAIL [--name NAME]     Create a login account")
	fmt.Fprintln(w, "  users                                   List login accounts")
	fmt.Fprintln(w, "  health                                  Check gateway health")
	fmt.Fprintln(w, "  version                                 Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin, os.Stdout)
	case "adduser":
		err = runAddUser(ctx, os.Args[2:], os.Stdin, os.Stdout)
	case "users":
		err = runUsers(ctx, os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
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
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Push mode: ")
	cyan.Println(cfg.Live.PushMode)
	green.Print("    ▶ ")
	fmt.Printf("Signup:    ")
	if cfg.Auth.SignupEnabled() {
		yellow.Println("open")
	} else {
		gray.Println("closed")
	}
	fmt.Println()

	logger.Info("starting coven-chatd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"push_mode", cfg.Live.PushMode,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// openRegistrar opens the configured database for offline account management.
// The returned close function releases the hub and the store.
func openRegistrar(ctx context.Context) (*gateway.Registrar, store.Store, func(), error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format}, os.Stderr)

	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening store: %w", err)
	}
	h := hub.New(hub.Options{Persister: sqlStore, Logger: logger})
	if err := h.Load(ctx); err != nil {
		sqlStore.Close()
		return nil, nil, nil, fmt.Errorf("loading records: %w", err)
	}
	closeFn := func() {
		h.Close()
		sqlStore.Close()
	}
	return gateway.NewRegistrar(sqlStore, h, logger), sqlStore, closeFn, nil
}

func runAddUser(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	opts, err := parseAddUserArgs(args)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(in)
	if opts.password == "" {
		opts.password = prompt(reader, out, "Password", "")
	}

	registrar, _, closeFn, err := openRegistrar(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	account, err := registrar.Register(ctx, opts.email, opts.name, opts.password)
	if err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			return fmt.Errorf("an account for %s already exists", opts.email)
		}
		return fmt.Errorf("creating account: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, "created %s (%s) id=%s\n", account.Name, account.Email, account.ID)
	fmt.Fprintln(out, "A running gateway picks up the new user record after a restart.")
	return nil
}

type addUserOptions struct {
	email    string
	name     string
	password string
}

func parseAddUserArgs(args []string) (addUserOptions, error) {
	var opts addUserOptions
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.email, "email", "", "account email")
	fs.StringVar(&opts.name, "name", "", "display name (defaults to the email's local part)")
	fs.StringVar(&opts.password, "password", "", "password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("adduser: %w", err)
	}
	if strings.TrimSpace(opts.email) == "" {
		return opts, errors.New("adduser: --email is required")
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("adduser: unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

func runUsers(ctx context.Context, out io.Writer) error {
	_, accounts, closeFn, err := openRegistrar(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	list, err := accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No accounts")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tCREATED\tLAST LOGIN")
	for _, a := range list {
		last := "never"
		if a.LastLoginAt != nil {
			last = a.LastLoginAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Email, a.Name, a.CreatedAt.Local().Format(time.DateTime), last)
	}
	return tw.Flush()
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
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

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "coven-chatd configuration setup")
	fmt.Fprintln(out, "===============================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	dbPath := prompt(reader, out, "SQLite database path", config.DefaultDatabasePath())

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file carries the signing secret.
	if err := os.WriteFile(outputFile, []byte(config.RenderTemplate(dbPath, secret)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  coven-chatd serve")
	return nil
}

// generateSecret returns a random URL-safe JWT signing secret.
func generateSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
