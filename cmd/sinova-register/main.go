package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/sinova-register/internal/extraction"
	"github.com/zombor/sinova-register/internal/registration"
	"github.com/zombor/sinova-register/internal/verification"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("sinova-register")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		store             = fs.StringLong("store", "bolt", "Team store: 'bolt', 'postgres' or 'firestore'")
		dbPath            = fs.StringLong("db", "sinova.db", "BoltDB file path (store=bolt)")
		databaseURL       = fs.StringLong("database-url", "", "PostgreSQL connection string (store=postgres)")
		firestoreProject  = fs.StringLong("firestore-project", "", "Google Cloud project ID (store=firestore)")
		extractorType     = fs.StringLong("extractor", "gemini", "Text extractor: 'gemini', 'vertex', 'ollama' or 'yandex'")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		vertexProject     = fs.StringLong("vertex-project", "", "Vertex AI project ID")
		vertexRegion      = fs.StringLong("vertex-region", "us-central1", "Vertex AI region")
		vertexModel       = fs.StringLong("vertex-model", "gemini-1.5-pro", "Vertex AI model name")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		yandexToken       = fs.StringLong("yandex-oauth-token", "", "Yandex Cloud OAuth token")
		yandexFolder      = fs.StringLong("yandex-folder-id", "", "Yandex Cloud folder ID")
		fee               = fs.IntLong("fee", verification.DefaultFee, "Registration fee in rupees")
		capacity          = fs.IntLong("capacity", registration.DefaultCapacity, "Number of confirmed team slots")
		extractionTimeout = fs.DurationLong("extraction-timeout", verification.DefaultExtractionTimeout, "Maximum time for one text extraction")
		sessionTTL        = fs.DurationLong("session-ttl", registration.DefaultSessionTTL, "How long an idle form session keeps its verdict")
		authUser          = fs.StringLong("auth-user", "", "Admin basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Admin basic auth password (optional)")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat         = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		showVersion       = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SINOVA"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing team store...", "store", *store)
	db, err := openStore(ctx, *store, *dbPath, *databaseURL, *firestoreProject)
	if err != nil {
		slog.Error("Failed to initialize team store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	slog.Info("Initializing text extractor...", "extractor", *extractorType)
	extractor, err := extraction.New(ctx, extraction.Config{
		Backend:          *extractorType,
		GeminiAPIKey:     apiKey,
		GeminiModel:      *geminiModel,
		VertexProject:    *vertexProject,
		VertexRegion:     *vertexRegion,
		VertexModel:      *vertexModel,
		OllamaURL:        *ollamaURL,
		OllamaModel:      *ollamaModel,
		YandexOAuthToken: *yandexToken,
		YandexFolderID:   *yandexFolder,
	})
	if err != nil {
		slog.Error("Failed to initialize text extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	service := registration.NewService(db, extractor, registration.Config{
		Fee:               *fee,
		Capacity:          *capacity,
		ExtractionTimeout: *extractionTimeout,
		SessionTTL:        *sessionTTL,
	})

	server := registration.NewServer(service, registration.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	if *authUser != "" || *authPass != "" {
		slog.Info("Admin basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down")
}

// openStore creates the team store named by kind
func openStore(ctx context.Context, kind, dbPath, databaseURL, firestoreProject string) (registration.DB, error) {
	switch kind {
	case "bolt":
		return registration.NewBoltDB(dbPath)
	case "postgres":
		if databaseURL == "" {
			return nil, fmt.Errorf("--database-url is required for the postgres store")
		}
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return registration.NewPostgresDB(connectCtx, databaseURL)
	case "firestore":
		return registration.NewFirestoreDB(ctx, firestoreProject)
	default:
		return nil, fmt.Errorf("invalid store %q (must be bolt, postgres or firestore)", kind)
	}
}

// setupLogging installs the default slog handler
func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", format)
	}
	return nil
}
