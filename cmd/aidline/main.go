package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kynelabs/aidline/internal/api"
	"github.com/kynelabs/aidline/internal/embedding"
	"github.com/kynelabs/aidline/internal/flow"
	"github.com/kynelabs/aidline/internal/genai"
	"github.com/kynelabs/aidline/internal/knowledge"
	"github.com/kynelabs/aidline/internal/session"
	"github.com/kynelabs/aidline/internal/store"
	"github.com/kynelabs/aidline/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Aidline state data
	DefaultStateDir = "/var/lib/aidline"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "aidline.db"
	// DefaultKBFile is the default knowledge base asset
	DefaultKBFile = "data/intents.json"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Aidline")
	if err := run(ctx, flags); err != nil {
		slog.Error("Aidline failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Aidline exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DBDSN          string
	OpenAIKey      string
	OpenAIModel    string
	EmbedProvider  string
	EmbedModel     string
	OllamaEndpoint string
	APIAddr        string
	KBFile         string
	PromptFile     string
	StaticDir      string
	MinScore       float64
	HistoryLimit   int
	TerminalFinal  bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	openaiModel    *string
	embedProvider  *string
	embedModel     *string
	ollamaEndpoint *string
	apiAddr        *string
	kbFile         *string
	promptFile     *string
	staticDir      *string
	minScore       *float64
	historyLimit   *int
	sessionTTL     *time.Duration
	llmTimeout     *time.Duration
	kbTimeout      *time.Duration
	terminalFinal  *bool
}

// initializeLogger sets up structured logging with the level taken from AIDLINE_DEBUG
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("AIDLINE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		StateDir:       os.Getenv("AIDLINE_STATE_DIR"),
		DBDSN:          os.Getenv("AIDLINE_DB_DSN"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		EmbedProvider:  os.Getenv("EMBEDDING_PROVIDER"),
		EmbedModel:     os.Getenv("EMBEDDING_MODEL"),
		OllamaEndpoint: os.Getenv("OLLAMA_ENDPOINT"),
		APIAddr:        os.Getenv("API_ADDR"),
		KBFile:         os.Getenv("AIDLINE_KB_FILE"),
		PromptFile:     os.Getenv("AIDLINE_PROMPT_FILE"),
		StaticDir:      os.Getenv("AIDLINE_STATIC_DIR"),
		MinScore:       util.ParseFloatEnv("AIDLINE_MIN_SCORE", 0),
		HistoryLimit:   util.ParseIntEnv("AIDLINE_HISTORY_LIMIT", flow.DefaultHistoryLimit),
		TerminalFinal:  util.ParseBoolEnv("AIDLINE_TERMINAL_FINAL", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No AIDLINE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DBDSN == "" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}
	if config.KBFile == "" {
		config.KBFile = DefaultKBFile
	}

	slog.Debug("environment variables loaded",
		"AIDLINE_STATE_DIR", config.StateDir,
		"AIDLINE_DB_DSN_SET", config.DBDSN != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"EMBEDDING_PROVIDER", config.EmbedProvider,
		"API_ADDR", config.APIAddr,
		"AIDLINE_KB_FILE", config.KBFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for Aidline data (overrides $AIDLINE_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DBDSN, "SQLite DSN for the knowledge index (overrides $AIDLINE_DB_DSN)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:    flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		embedProvider:  flag.String("embed-provider", config.EmbedProvider, "embedding provider: openai or ollama (overrides $EMBEDDING_PROVIDER)"),
		embedModel:     flag.String("embed-model", config.EmbedModel, "embedding model name (overrides $EMBEDDING_MODEL)"),
		ollamaEndpoint: flag.String("ollama-endpoint", config.OllamaEndpoint, "Ollama base URL (overrides $OLLAMA_ENDPOINT)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		kbFile:         flag.String("kb-file", config.KBFile, "knowledge base intents JSON file (overrides $AIDLINE_KB_FILE)"),
		promptFile:     flag.String("prompt-file", config.PromptFile, "system prompt template file (overrides $AIDLINE_PROMPT_FILE)"),
		staticDir:      flag.String("static-dir", config.StaticDir, "directory of static files to serve at / (overrides $AIDLINE_STATIC_DIR)"),
		minScore:       flag.Float64("min-score", config.MinScore, "minimum retrieval confidence score (overrides $AIDLINE_MIN_SCORE)"),
		historyLimit:   flag.Int("history-limit", config.HistoryLimit, "maximum conversation turns retained per session (overrides $AIDLINE_HISTORY_LIMIT)"),
		sessionTTL:     flag.Duration("session-ttl", session.DefaultIdleTTL, "idle session time-to-live"),
		llmTimeout:     flag.Duration("llm-timeout", genai.DefaultTimeout, "timeout for one LLM gateway call"),
		kbTimeout:      flag.Duration("kb-timeout", flow.DefaultRetrievalTimeout, "timeout for one knowledge base lookup"),
		terminalFinal:  flag.Bool("terminal-final", config.TerminalFinal, "treat FINAL as a terminal state (overrides $AIDLINE_TERMINAL_FINAL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"embedProvider", *flags.embedProvider,
		"apiAddr", *flags.apiAddr,
		"kbFile", *flags.kbFile,
		"minScore", *flags.minScore,
		"terminalFinal", *flags.terminalFinal)

	// Track the database with the state directory unless a DSN was given explicitly
	if *flags.dbDSN == filepath.Join(DefaultStateDir, DefaultDBFileName) && *flags.stateDir != DefaultStateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated db-dsn based on state directory", "db_dsn", *flags.dbDSN)
	}

	return flags
}

// run wires the modules together and serves until the context is canceled.
func run(ctx context.Context, flags Flags) error {
	// Knowledge index persistence
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	// Embedding engine
	embedder, err := embedding.NewEmbedder(embedding.Config{
		Provider:       *flags.embedProvider,
		OpenAIAPIKey:   *flags.openaiKey,
		OpenAIModel:    *flags.embedModel,
		OllamaEndpoint: *flags.ollamaEndpoint,
		OllamaModel:    *flags.embedModel,
	})
	if err != nil {
		return err
	}

	// Retrieval index
	idx, err := knowledge.NewIndex(embedder, st, knowledge.WithMinScore(*flags.minScore))
	if err != nil {
		return err
	}
	if err := ensureIndex(ctx, idx, *flags.kbFile); err != nil {
		return err
	}

	// LLM gateway
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	genaiOpts = append(genaiOpts, genai.WithTimeout(*flags.llmTimeout))
	gateway, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	// Prompt renderer
	renderer, err := flow.NewPromptRenderer(*flags.promptFile)
	if err != nil {
		return err
	}

	// Session registry: each session owns one receptionist
	instrGateway := api.InstrumentGateway(gateway)
	instrSearcher := api.InstrumentSearcher(idx)
	mgr := session.NewManager(func() *flow.Receptionist {
		return flow.NewReceptionist(instrGateway, instrSearcher, renderer,
			flow.WithHistoryLimit(*flags.historyLimit),
			flow.WithTerminalFinal(*flags.terminalFinal),
			flow.WithRetrievalTimeout(*flags.kbTimeout),
		)
	}, session.WithIdleTTL(*flags.sessionTTL))
	mgr.Start()
	defer mgr.Stop()

	// API server
	apiOpts := []api.Option{api.WithIntentsPath(*flags.kbFile)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.staticDir != "" {
		apiOpts = append(apiOpts, api.WithStaticDir(*flags.staticDir))
	}
	server := api.NewServer(mgr, idx, apiOpts...)
	return server.Run(ctx)
}

// buildStore opens the SQLite store for knowledge index persistence.
func buildStore(flags Flags) (*store.SQLiteStore, error) {
	slog.Debug("Opening knowledge store", "db_dsn", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// ensureIndex builds the retrieval index on first boot. The knowledge
// base file must at least parse; embedding only runs when the persisted
// index is empty or built with a different engine.
func ensureIndex(ctx context.Context, idx *knowledge.Index, kbFile string) error {
	intents, err := knowledge.LoadIntentsFile(kbFile)
	if err != nil {
		return err
	}
	if idx.Len() > 0 {
		slog.Info("Knowledge index loaded from store", "entries", idx.Len(), "engine", idx.Meta().Engine)
		return nil
	}
	slog.Info("Knowledge index empty, building from file", "kb_file", kbFile, "intents", len(intents))
	return idx.Reindex(ctx, intents)
}
