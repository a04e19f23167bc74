package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-validator/internal/claim"
	"github.com/zombor/expense-validator/internal/extraction"
	"github.com/zombor/expense-validator/internal/notify"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds the flags shared by every subcommand
type rootConfig struct {
	dbPath          *string
	storagePath     *string
	extractorType   *string
	tesseract       *string
	tesseractLang   *string
	maxPages        *int
	geminiKey       *string
	geminiModel     *string
	ollamaURL       *string
	ollamaModel     *string
	currencySymbols *string
	dateLayouts     *string
	currency        *string
	amountTolerance *string
	maxClaim        *string
	notifySinks     *string
	notifyFile      *string
	logLevel        *string
	logFormat       *string
	showVersion     *bool
}

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootFlags := ff.NewFlagSet("expense-validator")
	cfg := &rootConfig{
		dbPath:          rootFlags.StringLong("db", "expense-validator.db", "Database file path"),
		storagePath:     rootFlags.StringLong("storage", "./receipts", "Receipt storage directory"),
		extractorType:   rootFlags.StringLong("extractor", "local", "Text extractor: 'local', 'gemini' or 'ollama'"),
		tesseract:       rootFlags.StringLong("tesseract", "tesseract", "tesseract binary used by the local extractor"),
		tesseractLang:   rootFlags.StringLong("tesseract-lang", "eng", "tesseract language"),
		maxPages:        rootFlags.IntLong("max-pages", 3, "Pages OCR'd from scanned PDFs (0 for all)"),
		geminiKey:       rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:     rootFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:       rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:     rootFlags.StringLong("ollama-model", "llava", "Ollama vision model name"),
		currencySymbols: rootFlags.StringLong("currency-symbols", "$,₹", "Comma-separated currency symbols that prefix receipt amounts"),
		dateLayouts:     rootFlags.StringLong("date-layouts", "02/01/2006", "Comma-separated Go time layouts for receipt dates, tried in order"),
		currency:        rootFlags.StringLong("currency", "₹", "Currency symbol used in approval messages"),
		amountTolerance: rootFlags.StringLong("amount-tolerance", "0.01", "Largest receipt/claim difference treated as a match"),
		maxClaim:        rootFlags.StringLong("max-claim", "5000", "Per-claim ceiling"),
		notifySinks:     rootFlags.StringLong("notify", "console", "Comma-separated notification sinks: "+strings.Join(notify.Names(), ", ")),
		notifyFile:      rootFlags.StringLong("notify-file", "", "File the 'file' sink appends JSON lines to"),
		logLevel:        rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn, error"),
		logFormat:       rootFlags.StringLong("log-format", "text", "Log format: text or json"),
		showVersion:     rootFlags.BoolLong("version", "Show version information"),
	}

	root := &ff.Command{
		Name:      "expense-validator",
		Usage:     "expense-validator [FLAGS] <SUBCOMMAND>",
		ShortHelp: "validate expense claims against their receipts",
		Flags:     rootFlags,
		Exec: func(ctx context.Context, args []string) error {
			if *cfg.showVersion {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return ff.ErrNoExec
		},
		Subcommands: []*ff.Command{
			newServeCommand(cfg, rootFlags, stdout),
			newCheckCommand(cfg, rootFlags, stdout),
			newExportCommand(cfg, rootFlags),
		},
	}

	err := root.Parse(args, ff.WithEnvVarPrefix("EXPENSE_VALIDATOR"))
	if err == nil {
		err = setupLogging(stderr, *cfg.logLevel, *cfg.logFormat)
	}
	if err == nil {
		err = root.Run(ctx)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		selected := root.GetSelected()
		if selected == nil {
			selected = root
		}
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(selected))
		if errors.Is(err, ff.ErrHelp) {
			return nil
		}
		return err
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}
}

func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
	default:
		return fmt.Errorf("invalid log format %q (valid: text, json)", format)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *rootConfig) newExtractor() (extraction.Extractor, error) {
	switch *c.extractorType {
	case "local":
		slog.Info("Initializing local extractor...", "tesseract", *c.tesseract, "lang", *c.tesseractLang)
		return extraction.NewLocal(extraction.LocalConfig{
			Tesseract:     *c.tesseract,
			TesseractLang: *c.tesseractLang,
			MaxPages:      *c.maxPages,
		}, slog.Default()), nil
	case "gemini":
		apiKey := *c.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", *c.geminiModel)
		return extraction.NewGemini(apiKey, *c.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *c.ollamaURL, "model", *c.ollamaModel)
		return extraction.NewOllama(*c.ollamaURL, *c.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid extractor %q (valid: local, gemini, ollama)", *c.extractorType)
	}
}

func (c *rootConfig) options() (claim.Options, error) {
	parser, err := claim.NewParser(claim.ParserConfig{
		CurrencySymbols: splitList(*c.currencySymbols),
		DateLayouts:     splitList(*c.dateLayouts),
	})
	if err != nil {
		return claim.Options{}, fmt.Errorf("configuring parser: %w", err)
	}

	tolerance, err := decimal.NewFromString(*c.amountTolerance)
	if err != nil || tolerance.IsNegative() {
		return claim.Options{}, fmt.Errorf("invalid --amount-tolerance %q", *c.amountTolerance)
	}
	ceiling, err := decimal.NewFromString(*c.maxClaim)
	if err != nil || !ceiling.IsPositive() {
		return claim.Options{}, fmt.Errorf("invalid --max-claim %q", *c.maxClaim)
	}

	return claim.Options{
		Parser:   parser,
		Policy:   claim.Policy{AmountTolerance: tolerance, MaxClaimAmount: ceiling},
		Composer: claim.Composer{CurrencySymbol: *c.currency},
		Logger:   slog.Default(),
	}, nil
}

// app is everything a subcommand needs to run claims
type app struct {
	db        *claim.BoltDB
	extractor extraction.Extractor
	service   *claim.Service
}

func (a *app) Close() {
	if a.extractor != nil {
		a.extractor.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// newApp wires the database, duplicate index, extractor, storage and
// notification sinks into a claim service
func (c *rootConfig) newApp(stdout io.Writer) (*app, error) {
	opts, err := c.options()
	if err != nil {
		return nil, err
	}

	sink, err := notify.Build(splitList(*c.notifySinks), notify.Config{
		Writer:   stdout,
		Logger:   slog.Default(),
		FilePath: *c.notifyFile,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Initializing database...", "path", *c.dbPath)
	db, err := claim.NewBoltDB(*c.dbPath)
	if err != nil {
		return nil, err
	}
	a := &app{db: db}

	a.extractor, err = c.newExtractor()
	if err != nil {
		a.Close()
		return nil, err
	}

	store, err := claim.NewLocalStorage(*c.storagePath)
	if err != nil {
		a.Close()
		return nil, err
	}

	// the Bolt file is also the duplicate index, so accepted receipts
	// stay claimed across restarts
	a.service = claim.NewService(db, db, a.extractor, store, sink, opts)
	return a, nil
}
