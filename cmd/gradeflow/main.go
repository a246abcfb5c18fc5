package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradeflow/internal/extract"
	"github.com/pavelanni/gradeflow/internal/grader"
	"github.com/pavelanni/gradeflow/internal/handler"
	appI18n "github.com/pavelanni/gradeflow/internal/i18n"
	"github.com/pavelanni/gradeflow/internal/llm"
	"github.com/pavelanni/gradeflow/internal/llm/prompts"
	"github.com/pavelanni/gradeflow/internal/model"
	"github.com/pavelanni/gradeflow/internal/report"
	"github.com/pavelanni/gradeflow/internal/store"
)

func main() {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradeflow",
		Short: "LLM-assisted grading of student submissions",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), exportCmd(), pingCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("upload-dir", "uploads", "Directory for uploaded submission files")
	f.Int("max-upload-mb", 10, "Maximum size of a single uploaded file in MB")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade all submissions of an assessment",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.String("assessment", "", "Assessment ID (defaults to the current assessment)")
	f.StringP("output", "o", "", "Write a markdown report to this path after grading")
	f.Int("max-upload-mb", 10, "Maximum size of a submission file in MB")
	addStoreFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export grading results as markdown or JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("assessment", "", "Assessment ID (defaults to the current assessment)")
	f.StringP("format", "f", "md", "Output format (md, json)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
	addStoreFlags(f)
	addLogFlags(f)
	return cmd
}

func pingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the connection to the LLM",
		RunE:  runPing,
	}
	addLLMFlags(cmd.Flags())
	addLogFlags(cmd.Flags())
	return cmd
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db", "gradeflow.db", "SQLite database path")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-url", llm.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.String("api-key", "", "LLM API key (or set GEMINI_API_KEY)")
	f.String("llm-model", llm.DefaultModel, "LLM model name")
	f.Duration("llm-timeout", llm.DefaultTimeout, "Timeout for a single LLM request")
	f.String("relay-url", "", "Grade through a relay server instead of calling the LLM directly")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	if f.Lookup("lang") == nil {
		f.StringP("lang", "l", "en", "Default language (en, ru)")
	}
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags, environment and config file to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api-key", "GRADEFLOW_API_KEY", "GEMINI_API_KEY")

	v.SetConfigName("gradeflow")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradeflow")
	v.AddConfigPath("/etc/gradeflow")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// initI18n loads the locales with lang as the default, or English when lang has no locale.
func initI18n(lang string) error {
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if available := appI18n.Languages(); !slices.Contains(available, lang) {
		slog.Warn("no locale for language, falling back to English", "lang", lang, "available", available)
		if err := appI18n.Init("en"); err != nil {
			return fmt.Errorf("init i18n: %w", err)
		}
	}
	return nil
}

// promptVariant returns the configured variant, falling back to standard when invalid.
func promptVariant(v *viper.Viper) string {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		return string(prompts.PromptStandard)
	}
	return variant
}

// newGenerator builds the content generator from configuration. It returns a nil
// generator when neither a relay URL nor an API key is configured.
func newGenerator(v *viper.Viper, variant string) (grader.ContentGenerator, error) {
	timeout := v.GetDuration("llm-timeout")
	if relayURL := v.GetString("relay-url"); relayURL != "" {
		slog.Info("grading through relay", "url", relayURL)
		return grader.NewRelay(relayURL, nil, timeout), nil
	}

	client, err := llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("api-key"),
		Model:   v.GetString("llm-model"),
		Timeout: timeout,
	})
	if errors.Is(err, llm.ErrMissingAPIKey) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	direct, err := grader.NewDirect(client, prompts.PromptVariant(variant))
	if err != nil {
		return nil, err
	}
	return direct, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := initI18n(lang); err != nil {
		return err
	}

	variant := promptVariant(v)
	gen, err := newGenerator(v, variant)
	if err != nil {
		return err
	}
	if gen == nil {
		slog.Warn("no LLM API key configured; grading endpoints will fail until GEMINI_API_KEY is set")
	} else {
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		if err := gen.CheckConnection(pingCtx); err != nil {
			slog.Warn("LLM connection check failed", "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		}
		cancel()
	}

	h, err := handler.New(db, gen, model.GradeConfig{
		UploadDir:     v.GetString("upload-dir"),
		MaxUploadMB:   v.GetInt("max-upload-mb"),
		PromptVariant: variant,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"model", v.GetString("llm-model"),
			"relay_url", v.GetString("relay-url"),
			"lang", lang,
			"prompt_variant", variant,
			"upload_dir", v.GetString("upload-dir"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// resolveAssessment loads the assessment named by the --assessment flag or the current one.
func resolveAssessment(ctx context.Context, db *store.Store, id string) (model.Assessment, error) {
	if id != "" {
		return db.GetAssessment(ctx, id)
	}
	a, err := db.CurrentAssessment(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return a, errors.New("no current assessment; pass --assessment")
	}
	return a, err
}

func runGrade(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	lang := v.GetString("lang")
	if err := initI18n(lang); err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	variant := promptVariant(v)
	gen, err := newGenerator(v, variant)
	if err != nil {
		return err
	}
	if gen == nil {
		return llm.ErrMissingAPIKey
	}

	ctx, stop := signal.NotifyContext(appI18n.WithLanguage(cmd.Context(), lang), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := resolveAssessment(ctx, db, v.GetString("assessment"))
	if err != nil {
		return fmt.Errorf("load assessment: %w", err)
	}
	subs, err := db.ListSubmissions(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	if len(subs) == 0 {
		return fmt.Errorf("assessment %q has no submissions", a.Title)
	}

	files := extract.Reader{MaxSize: int64(v.GetInt("max-upload-mb")) << 20}
	slog.Info("grading started", "assessment_id", a.ID, "submissions", len(subs), "prompt_variant", variant)
	results, gradeErr := grader.NewService(gen, files).GradeAll(ctx, a, subs)

	// Persist against a fresh context so an interrupt still keeps completed work.
	saveCtx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		if err := db.SaveSubmissionContent(saveCtx, sub); err != nil {
			slog.Error("failed to save submission content", "submission_id", sub.ID, "error", err)
		}
	}
	if err := db.SaveResults(saveCtx, results); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	if err := db.SetPromptVariant(saveCtx, variant); err != nil {
		slog.Warn("failed to record prompt variant", "error", err)
	}
	if gradeErr != nil {
		return gradeErr
	}

	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "SubmissionsGraded", len(results)))

	if out := v.GetString("output"); out != "" {
		all, err := db.ListResults(saveCtx, a.ID)
		if err != nil {
			return fmt.Errorf("list results: %w", err)
		}
		return writeOutput(out, cmd.OutOrStdout(), func(w io.Writer) error {
			return report.Markdown(ctx, w, all, &a, time.Now())
		})
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	lang := v.GetString("lang")
	if err := initI18n(lang); err != nil {
		return err
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := appI18n.WithLanguage(cmd.Context(), lang)
	a, err := resolveAssessment(ctx, db, v.GetString("assessment"))
	if err != nil {
		return fmt.Errorf("load assessment: %w", err)
	}

	switch format := v.GetString("format"); format {
	case "md", "markdown":
		results, err := db.ListResults(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("list results: %w", err)
		}
		return writeOutput(v.GetString("output"), cmd.OutOrStdout(), func(w io.Writer) error {
			return report.Markdown(ctx, w, results, &a, time.Now())
		})
	case "json":
		exp, err := db.ExportAssessment(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("export assessment: %w", err)
		}
		return writeOutput(v.GetString("output"), cmd.OutOrStdout(), func(w io.Writer) error {
			return report.JSON(w, exp)
		})
	default:
		return fmt.Errorf("unknown format %q (use md or json)", format)
	}
}

func runPing(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	gen, err := newGenerator(v, promptVariant(v))
	if err != nil {
		return err
	}
	if gen == nil {
		return llm.ErrMissingAPIKey
	}
	if err := gen.CheckConnection(cmd.Context()); err != nil {
		return fmt.Errorf("LLM connection check: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "LLM connection successful")
	return nil
}

// writeOutput runs write against stdout when path is empty or "-", else against a new file.
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
