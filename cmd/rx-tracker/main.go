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

	"github.com/zombor/rx-tracker/internal/catalog"
	"github.com/zombor/rx-tracker/internal/prescription"
	"github.com/zombor/rx-tracker/internal/recognition"
	"github.com/zombor/rx-tracker/internal/recognition/tesseract"
	"github.com/zombor/rx-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// firstKey returns the first usable API key among the flag value and env vars
func firstKey(flagValue string, envVars ...string) string {
	if !scanning.IsPlaceholderKey(flagValue) {
		return flagValue
	}
	for _, name := range envVars {
		if v := os.Getenv(name); !scanning.IsPlaceholderKey(v) {
			return v
		}
	}
	return ""
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("rx-tracker")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "rx-tracker.db", "Database file path")
		strategy        = fs.StringLong("strategy", string(scanning.ModeMultiple), "Structuring strategy: gemini, groq, multiple or pattern")
		geminiKey       = fs.StringLong("gemini-key", "", "Google AI API key (or set GEMINI_API_KEY / GOOGLE_AI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google AI model name")
		groqKey         = fs.StringLong("groq-key", "", "Groq API key (or set GROQ_API_KEY env var)")
		groqModel       = fs.StringLong("groq-model", "llama-3.3-70b-versatile", "Groq model name")
		groqURL         = fs.StringLong("groq-url", "https://api.groq.com/openai/v1", "Groq OpenAI-compatible API base URL")
		providerTimeout = fs.DurationLong("provider-timeout", 30*time.Second, "Time limit for a single AI provider call")
		ocrLang         = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		tessdata        = fs.StringLong("tessdata", "", "Tesseract tessdata directory (optional)")
		catalogPath     = fs.StringLong("catalog", "", "Medicine catalog JSON file (defaults to the built-in catalog)")
		ocrAttempts     = fs.IntLong("ocr-attempts", 2, "OCR attempts per image")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RX_TRACKER"),
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

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	mode, err := scanning.ParseMode(*strategy)
	if err != nil {
		slog.Error("Invalid strategy", "error", err)
		os.Exit(1)
	}

	// Initialize catalog
	var kb *catalog.Catalog
	if *catalogPath != "" {
		slog.Info("Loading medicine catalog...", "path", *catalogPath)
		kb, err = catalog.LoadFile(*catalogPath)
	} else {
		kb, err = catalog.Default()
	}
	if err != nil {
		slog.Error("Failed to load medicine catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Medicine catalog loaded", "medicines", kb.Len())

	// Initialize database
	slog.Info("Initializing database...")
	db, err := prescription.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize OCR engine; the worker starts on first use
	engine := recognition.NewEngine(
		tesseract.Factory(tesseract.Config{Language: *ocrLang, TessdataDir: *tessdata}),
		recognition.WithAttempts(*ocrAttempts),
	)
	defer engine.Close()

	// Initialize AI providers. Missing keys leave a provider unconfigured.
	gemini, err := scanning.NewGemini(context.Background(), scanning.GeminiConfig{
		APIKey:  firstKey(*geminiKey, "GEMINI_API_KEY", "GOOGLE_AI_API_KEY"),
		Model:   *geminiModel,
		Timeout: *providerTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize Google AI", "error", err)
		os.Exit(1)
	}
	defer gemini.Close()

	groq := scanning.NewGroq(scanning.GroqConfig{
		APIKey:  firstKey(*groqKey, "GROQ_API_KEY"),
		Model:   *groqModel,
		BaseURL: *groqURL,
		Timeout: *providerTimeout,
	})

	for _, p := range []scanning.Provider{gemini, groq} {
		if !p.Configured() {
			slog.Warn("AI provider not configured, pattern matching will be used instead", "provider", p.Name())
		}
	}

	analyzer, err := scanning.NewAnalyzer(mode, gemini, groq, scanning.NewPatternMatcher(kb))
	if err != nil {
		slog.Error("Failed to initialize analyzer", "error", err)
		os.Exit(1)
	}
	slog.Info("Structuring strategy selected", "strategy", analyzer.Label())

	// Initialize service
	service := prescription.NewService(prescription.NewLedger(db), engine, analyzer, kb)

	// Initialize server
	basicAuth := prescription.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := prescription.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
