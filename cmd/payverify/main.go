package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/schollz/progressbar/v3"

	"github.com/zombor/sinova-register/internal/batch"
	"github.com/zombor/sinova-register/internal/extraction"
	"github.com/zombor/sinova-register/internal/registration"
	"github.com/zombor/sinova-register/internal/verification"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run verifies the screenshots named on the command line and returns the exit
// code: 0 when every file was accepted, 2 when any failed or was rejected, 1 on
// setup errors.
func run(args []string, stdout, stderr io.Writer) int {
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Fprintln(stdout, version)
			return 0
		}
	}

	fs := ff.NewFlagSet("payverify")
	var (
		registryPath      = fs.StringLong("registry", "", "BoltDB team store to check for reused screenshots (optional)")
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
		extractionTimeout = fs.DurationLong("extraction-timeout", verification.DefaultExtractionTimeout, "Maximum time for one text extraction")
		concurrency       = fs.IntLong("concurrency", 2, "Number of screenshots verified at once")
		quiet             = fs.BoolLong("quiet", "Hide the progress bar")
		logLevel          = fs.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
		_                 = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("SINOVA"),
	); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	paths := fs.GetArgs()
	if len(paths) == 0 {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(stderr, "error: at least one screenshot path is required")
		return 1
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(stderr, "error: invalid log level %q\n", *logLevel)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry verification.HashRegistry
	if *registryPath != "" {
		db, err := registration.NewBoltDB(*registryPath)
		if err != nil {
			slog.Error("Failed to open registry", "path", *registryPath, "error", err)
			return 1
		}
		defer db.Close()
		registry = db
	}

	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
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
		return 1
	}
	defer extractor.Close()

	var onProgress func(int)
	if !*quiet {
		bar := progressbar.NewOptions(100*len(paths),
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]Verifying %d screenshot(s)...[reset]", len(paths))),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(stderr)
			}),
		)
		onProgress = func(delta int) {
			_ = bar.Add(delta)
		}
	}

	cfg := verification.Config{Fee: *fee, ExtractionTimeout: *extractionTimeout}
	runner := batch.NewRunner(func() *verification.Verifier {
		return verification.NewVerifier(registry, extractor, cfg)
	}, *concurrency, onProgress)

	reports := runner.Run(ctx, paths)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		slog.Error("Failed to write results", "error", err)
		return 1
	}

	for _, r := range reports {
		if r.Failed() {
			return 2
		}
	}
	return 0
}
