package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anesxvito/MediChat-sub001/internal/api"
	"github.com/anesxvito/MediChat-sub001/internal/genai"
	"github.com/anesxvito/MediChat-sub001/internal/intake"
	"github.com/anesxvito/MediChat-sub001/internal/notify"
	"github.com/anesxvito/MediChat-sub001/internal/store"
	"github.com/anesxvito/MediChat-sub001/internal/twiliosms"
	"github.com/anesxvito/MediChat-sub001/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for MediChat state data
	DefaultStateDir = "/var/lib/medichat"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "medichat.db"
	// DefaultOutboxPollInterval is how often the outbox sender polls for due messages
	DefaultOutboxPollInterval = 5 * time.Second
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping MediChat with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := run(ctx, config, flags); err != nil {
		slog.Error("MediChat failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("MediChat exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN    string
	StateDir       string
	OpenAIKey      string
	OpenAIModel    string
	APIAddr        string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	PhoneDirectory string
	TurnTimeout    time.Duration
	SummaryTimeout time.Duration
	OutboxPoll     time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	openaiKey   *string
	openaiModel *string
	apiAddr     *string
	phoneDir    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		StateDir:       os.Getenv("MEDICHAT_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		APIAddr:        os.Getenv("API_ADDR"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		PhoneDirectory: os.Getenv("MEDICHAT_PHONE_DIRECTORY"),
		TurnTimeout:    util.ParseDurationEnv("MEDICHAT_TURN_TIMEOUT", intake.DefaultTurnTimeout),
		SummaryTimeout: util.ParseDurationEnv("MEDICHAT_SUMMARY_TIMEOUT", intake.DefaultSummaryTimeout),
		OutboxPoll:     util.ParseDurationEnv("MEDICHAT_OUTBOX_POLL_INTERVAL", DefaultOutboxPollInterval),
	}

	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
		if config.DatabaseDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No MEDICHAT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("MEDICHAT_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"MEDICHAT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"TWILIO_CONFIGURED", config.TwilioSID != "" && config.TwilioToken != "" && config.TwilioFrom != "",
		"MEDICHAT_PHONE_DIRECTORY", config.PhoneDirectory,
		"turn_timeout", config.TurnTimeout,
		"summary_timeout", config.SummaryTimeout)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for MediChat data (overrides $MEDICHAT_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseDSN, "database DSN for the conversation store (overrides $DATABASE_DSN or $DATABASE_URL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel: flag.String("openai-model", config.OpenAIModel, "OpenAI model for intake and summaries (overrides $OPENAI_MODEL)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		phoneDir:    flag.String("phone-directory", config.PhoneDirectory, "path to a JSON file mapping user ids to phone numbers (overrides $MEDICHAT_PHONE_DIRECTORY)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"apiAddr", *flags.apiAddr,
		"phoneDir", *flags.phoneDir)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// persistence bundles the three storage roles one backend serves.
type persistence struct {
	store  store.Store
	dedup  store.TurnDedupRepo
	outbox store.OutboxRepo
}

// buildPersistence opens the conversation store for the configured DSN
func buildPersistence(flags Flags) (*persistence, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		st, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return &persistence{store: st, dedup: st, outbox: st}, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return &persistence{store: st, dedup: st, outbox: st}, nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildNotifier chooses the notification transport. With Twilio credentials
// configured it delivers SMS through the durable outbox; otherwise events are
// logged only.
func buildNotifier(config Config, flags Flags, p *persistence) (notify.Notifier, store.OutboxSendFunc, error) {
	if config.TwilioSID == "" || config.TwilioToken == "" || config.TwilioFrom == "" {
		slog.Debug("Twilio not configured, notifications will be logged only")
		return notify.NewLogNotifier(), nil, nil
	}

	sender, err := twiliosms.NewClient(
		twiliosms.WithAccountSID(config.TwilioSID),
		twiliosms.WithAuthToken(config.TwilioToken),
		twiliosms.WithFromNumber(config.TwilioFrom),
	)
	if err != nil {
		return nil, nil, err
	}

	lookup, err := loadPhoneDirectory(*flags.phoneDir)
	if err != nil {
		return nil, nil, err
	}

	delegate := notify.NewSMSNotifier(sender, lookup)
	// Publishes enqueue into the outbox; the sender loop delivers with retries.
	return notify.NewOutboxNotifier(p.outbox), notify.OutboxSendFunc(delegate), nil
}

// loadPhoneDirectory reads a JSON object of user id to E.164 phone number.
// An empty path yields a lookup that never resolves.
func loadPhoneDirectory(path string) (notify.PhoneLookupFunc, error) {
	if path == "" {
		slog.Warn("No phone directory configured, SMS recipients will not resolve")
		return func(userID string) (string, bool) { return "", false }, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var directory map[string]string
	if err := json.Unmarshal(data, &directory); err != nil {
		return nil, err
	}
	slog.Debug("Phone directory loaded", "path", path, "entries", len(directory))
	return func(userID string) (string, bool) {
		phone, ok := directory[userID]
		return phone, ok
	}, nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

// run assembles the modules and serves until the context is cancelled.
func run(ctx context.Context, config Config, flags Flags) error {
	p, err := buildPersistence(flags)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.store.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	notifier, sendFunc, err := buildNotifier(config, flags, p)
	if err != nil {
		return err
	}
	if sendFunc != nil {
		outboxSender := store.NewOutboxSender(p.outbox, sendFunc, config.OutboxPoll)
		if err := outboxSender.RecoverStaleMessages(); err != nil {
			slog.Error("Failed to recover stale outbox messages", "error", err)
		}
		go outboxSender.Run(ctx)
	}

	orchestrator := intake.NewOrchestrator(p.store, client,
		intake.WithNotifier(notifier),
		intake.WithDedupRepo(p.dedup),
		intake.WithTurnTimeout(config.TurnTimeout),
		intake.WithSummaryTimeout(config.SummaryTimeout),
	)

	server := api.NewServer(orchestrator, buildAPIOptions(flags)...)
	return server.Run(ctx)
}
