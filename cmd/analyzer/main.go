package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/upscqa/analyzer/internal/config"
	"github.com/upscqa/analyzer/internal/handler"
	"github.com/upscqa/analyzer/internal/llm"
	"github.com/upscqa/analyzer/internal/parse"
	"github.com/upscqa/analyzer/internal/pathres"
	"github.com/upscqa/analyzer/internal/progress"
	"github.com/upscqa/analyzer/internal/report"
	"github.com/upscqa/analyzer/internal/session"
	"github.com/upscqa/analyzer/internal/store"
)

// errInterrupted signals that a run stopped on Ctrl+C; main maps it to
// the conventional exit code after deferred cleanup has run.
var errInterrupted = errors.New("analysis interrupted")

func main() {
	os.Exit(exitCode(rootCmd().Execute()))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errInterrupted):
		return 130
	default:
		return 1
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "upsc-analyzer",
		Short:         "Analyze UPSC exam questions with a local Ollama model",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	analyze := analyzeCmd()
	root.AddCommand(analyze, serveCmd(), modelsCmd(), statusCmd(), exportCmd())

	// Make "analyze" the default when no subcommand is given.
	root.RunE = analyze.RunE
	root.Flags().AddFlagSet(analyze.Flags())

	return root
}

func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("config", "c", "", "Configuration file path (default: analyzer.json on the search path)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze question files and write the Excel report",
		RunE:  runAnalyze,
	}
	commonFlags(cmd)
	f := cmd.Flags()
	f.StringP("file", "f", "", "Analyze a specific file instead of the whole input folder")
	f.Bool("no-display", false, "Disable the live display (plain text output)")
	f.String("db", "analyzer.db", "Run history database path (empty disables history)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local web UI",
		RunE:  runServe,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("addr", "a", ":5000", "HTTP listen address")
	cmd.Flags().String("db", "analyzer.db", "Run history database path (empty disables history)")
	return cmd
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models available on the Ollama endpoint",
		RunE:  runModels,
	}
	commonFlags(cmd)
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and endpoint status",
		RunE:  runStatus,
	}
	commonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the run history as JSON",
		RunE:  runExport,
	}
	commonFlags(cmd)
	cmd.Flags().String("db", "analyzer.db", "Run history database path")
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	level := slog.LevelInfo
	switch lv, _ := cmd.Flags().GetString("log-level"); strings.ToLower(lv) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch lf, _ := cmd.Flags().GetString("log-format"); strings.ToLower(lf) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// loadEnv wires up the pieces every subcommand needs.
func loadEnv(cmd *cobra.Command) (config.Config, pathres.Resolver, *viper.Viper) {
	setupLogging(cmd)
	res := pathres.Detect()
	v := config.ForCommand(cmd, res)
	return config.FromViper(v, res), res, v
}

// openHistory opens the run history store, or returns nil when the
// path is empty or the database cannot be opened. History is an aid,
// not a prerequisite.
func openHistory(cmd *cobra.Command, res pathres.Resolver) *store.Store {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		return nil
	}
	st, err := store.New(res.Resolve(dbPath))
	if err != nil {
		slog.Warn("run history disabled", "error", err)
		return nil
	}
	return st
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, res, _ := loadEnv(cmd)
	client := llm.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		stop() // a second Ctrl+C terminates immediately
	}()

	if err := checkPrerequisites(ctx, cfg, client, cmd.OutOrStdout()); err != nil {
		return err
	}

	files, err := inputFiles(cmd, cfg)
	if err != nil {
		return err
	}

	history := openHistory(cmd, res)
	if history != nil {
		defer history.Close()
	}

	noDisplay, _ := cmd.Flags().GetBool("no-display")
	useLive := !noDisplay && isatty.IsTerminal(os.Stdout.Fd())

	multi := len(files) > 1

	exitErrors := false
	interrupted := false
	for _, file := range files {
		name := cfg.ExcelFilename
		if multi {
			base := filepath.Base(file)
			name = strings.TrimSuffix(base, filepath.Ext(base)) + "_" + name
		}
		outPath := filepath.Join(cfg.OutputDir, name)

		var live *progress.Live
		var listener progress.Listener = progress.NewConsole(cmd.OutOrStdout())
		if useLive {
			live = progress.NewLive(0, outPath)
			listener = live
		}

		runner := &session.Runner{
			Parser:   parse.New(),
			Analyzer: client,
			NewSink: func(string) (session.Sink, error) {
				return report.NewWriter(outPath, cfg.SheetName)
			},
			History:  asHistory(history),
			Listener: listener,
			Model:    cfg.Model,
		}
		summary, err := runner.RunFile(ctx, file)
		if live != nil {
			live.Stop()
		}
		if err != nil {
			if errors.Is(err, session.ErrNoQuestions) {
				slog.Error("no questions found", "file", file)
				exitErrors = true
				continue
			}
			return err
		}

		progress.PrintSummary(cmd.OutOrStdout(), summary)
		if summary.Failed > 0 || summary.ParseSkips > 0 {
			exitErrors = true
		}
		if summary.Interrupted {
			interrupted = true
			break
		}
	}

	if interrupted {
		return errInterrupted
	}
	if exitErrors {
		return errors.New("analysis completed with errors")
	}
	return nil
}

// asHistory converts a possibly-nil *store.Store into the session
// history interface without smuggling a typed nil through.
func asHistory(st *store.Store) session.History {
	if st == nil {
		return nil
	}
	return st
}

func checkPrerequisites(ctx context.Context, cfg config.Config, client *llm.Client, w io.Writer) error {
	fmt.Fprintf(w, "Checking prerequisites (model: %s)...\n", cfg.Model)
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("Ollama connection failed (is it running? try: ollama pull %s): %w", cfg.Model, err)
	}
	if _, err := os.Stat(cfg.InputDir); err != nil {
		return fmt.Errorf("input folder %s does not exist", cfg.InputDir)
	}
	return nil
}

func inputFiles(cmd *cobra.Command, cfg config.Config) ([]string, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		if _, err := os.Stat(file); err == nil {
			return []string{file}, nil
		}
		candidate := filepath.Join(cfg.InputDir, file)
		if _, err := os.Stat(candidate); err == nil {
			return []string{candidate}, nil
		}
		return nil, fmt.Errorf("file not found: %s", file)
	}

	files, err := session.InputFiles(cfg.InputDir, cfg.FilePattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", cfg.FilePattern, cfg.InputDir)
	}
	return files, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, res, _ := loadEnv(cmd)
	client := llm.New(cfg)

	if err := client.Ping(context.Background()); err != nil {
		slog.Warn("Ollama endpoint not reachable; analysis requests will fail until it is", "error", err)
	}

	history := openHistory(cmd, res)
	if history != nil {
		defer history.Close()
	}

	h := handler.New(cfg, client, asHistory(history))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr, _ := cmd.Flags().GetString("addr")
	slog.Info("starting web UI", "addr", addr, "model", cfg.Model, "ollama_url", cfg.BaseURL)
	return http.ListenAndServe(addr, r)
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, _, _ := loadEnv(cmd)
	client := llm.New(cfg)

	models, err := client.ListModels(cmd.Context())
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No models found or Ollama not running")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Available Ollama models:")
	for _, m := range models {
		current := ""
		if m == cfg.Model {
			current = " (current)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s%s\n", m, current)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, _ := loadEnv(cmd)
	client := llm.New(cfg)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "System status:")
	fmt.Fprintf(out, "  Ollama model:  %s\n", cfg.Model)
	fmt.Fprintf(out, "  Endpoint:      %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "  Input folder:  %s\n", cfg.InputDir)
	fmt.Fprintf(out, "  Output folder: %s\n", cfg.OutputDir)

	if err := client.Ping(cmd.Context()); err != nil {
		fmt.Fprintf(out, "  Ollama status: not connected (%v)\n", err)
	} else {
		fmt.Fprintln(out, "  Ollama status: connected")
	}

	files, err := session.InputFiles(cfg.InputDir, cfg.FilePattern)
	if err == nil {
		fmt.Fprintf(out, "  Input files:   %d found\n", len(files))
	}
	sheets, err := filepath.Glob(filepath.Join(cfg.OutputDir, "*.xlsx"))
	if err == nil {
		fmt.Fprintf(out, "  Output files:  %d Excel files\n", len(sheets))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, res, _ := loadEnv(cmd)

	dbPath, _ := cmd.Flags().GetString("db")
	st, err := store.New(res.Resolve(dbPath))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer st.Close()

	export, err := st.ExportRuns(cfg.Model)
	if err != nil {
		return fmt.Errorf("export runs: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath, _ := cmd.Flags().GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
