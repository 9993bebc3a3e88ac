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

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/rx-tracker/internal/catalog"
	"github.com/zombor/rx-tracker/internal/recognition"
	"github.com/zombor/rx-tracker/internal/recognition/tesseract"
	"github.com/zombor/rx-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("rx-ocr")
	var (
		ocrLang     = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		tessdata    = fs.StringLong("tessdata", "", "Tesseract tessdata directory (optional)")
		ocrAttempts = fs.IntLong("ocr-attempts", 2, "OCR attempts per image")
		catalogPath = fs.StringLong("catalog", "", "Medicine catalog JSON file (defaults to the built-in catalog)")
		logLevel    = fs.StringLong("log-level", "warn", "Log level: debug, info, warn or error")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RX_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

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

	paths := fs.GetArgs()
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "usage: rx-ocr [flags] image...\n")
		os.Exit(1)
	}

	kb, err := loadCatalog(*catalogPath)
	if err != nil {
		slog.Error("Failed to load medicine catalog", "error", err)
		os.Exit(1)
	}
	matcher := scanning.NewPatternMatcher(kb)

	inputs := make([]input, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read image", "path", path, "error", err)
			os.Exit(1)
		}
		inputs = append(inputs, input{Path: path, Data: data})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := recognition.NewEngine(
		tesseract.Factory(tesseract.Config{Language: *ocrLang, TessdataDir: *tessdata}),
		recognition.WithAttempts(*ocrAttempts),
	)
	defer engine.Close()

	if err := runBatch(ctx, engine, matcher, inputs, os.Stdout); err != nil {
		if ctx.Err() != nil {
			slog.Warn("Interrupted")
		} else {
			slog.Error("Batch failed", "error", err)
		}
		engine.Close()
		os.Exit(1)
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}
