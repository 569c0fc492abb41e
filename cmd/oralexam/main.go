package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/oralexam/internal/analyzer"
	"github.com/pavelanni/oralexam/internal/handler"
	appI18n "github.com/pavelanni/oralexam/internal/i18n"
	"github.com/pavelanni/oralexam/internal/model"
	"github.com/pavelanni/oralexam/internal/pipeline"
	"github.com/pavelanni/oralexam/internal/store"
	"github.com/pavelanni/oralexam/internal/topics"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "oralexam",
		Short: "Oral exam capture and AI scoring server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `oralexam --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP submission server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "oralexam.db", "SQLite database path")
	f.String("audio-dir", "recordings", "Directory for archived audio (sqlite backend)")
	f.StringSliceP("topics", "t", []string{"topics/topics_en.json"}, "Paths to topic plan JSON files (repeatable)")
	f.String("backend", "sqlite", "Result storage backend (sqlite, cloud)")
	f.String("aws-region", "eu-central-1", "AWS region (cloud backend)")
	f.String("dynamo-table", "oralexam-records", "DynamoDB table name (cloud backend)")
	f.String("s3-bucket", "", "S3 bucket for archived audio (cloud backend)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the scoring endpoint")
	f.String("llm-model", "llama3.2", "Chat model used for grading")
	f.String("stt-model", "whisper-1", "Speech-to-text model used for transcription")
	f.Duration("poll-interval", 2*time.Second, "Interval between asset readiness polls")
	f.Duration("poll-timeout", 2*time.Minute, "Total time to wait for asset readiness")
	f.StringP("lang", "l", "tr", "Message language (en, tr)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Int64("max-audio-bytes", 32<<20, "Maximum accepted audio upload size in bytes")
	f.String("admin-password", "", "Initial admin password (or set ORALEXAM_ADMIN_PASSWORD)")
	f.String("exam-id", "", "Exam identifier recorded for later export")
	f.String("subject", "", "Subject name recorded for later export")
	f.String("date", "", "Exam date (YYYY-MM-DD) recorded for later export")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam records as JSON or CSV",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "oralexam.db", "SQLite database path")
	f.String("backend", "sqlite", "Result storage backend (sqlite, cloud)")
	f.String("aws-region", "eu-central-1", "AWS region (cloud backend)")
	f.String("dynamo-table", "oralexam-records", "DynamoDB table name (cloud backend)")
	f.String("s3-bucket", "", "S3 bucket for archived audio (cloud backend)")
	f.String("format", "json", "Output format (json, csv)")
	f.String("exam-id", "", "Exam identifier (default: value stored by serve)")
	f.String("subject", "", "Subject name (default: value stored by serve)")
	f.String("date", "", "Exam date in YYYY-MM-DD format (default: value stored by serve)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ORALEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("oralexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/oralexam")
	v.AddConfigPath("/etc/oralexam")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// resultStore picks the record backend. The SQLite database stays open either
// way for users, sessions and exam metadata.
func resultStore(ctx context.Context, v *viper.Viper, db *store.SQLite) (store.ResultStore, error) {
	switch v.GetString("backend") {
	case "sqlite":
		return db, nil
	case "cloud":
		bucket := v.GetString("s3-bucket")
		if bucket == "" {
			return nil, fmt.Errorf("cloud backend requires --s3-bucket")
		}
		return store.NewCloud(ctx, v.GetString("aws-region"), v.GetString("dynamo-table"), bucket)
	default:
		return nil, fmt.Errorf("unknown backend %q (expected sqlite or cloud)", v.GetString("backend"))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.NewSQLite(v.GetString("db"), v.GetString("audio-dir"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if examID := v.GetString("exam-id"); examID != "" {
		info := model.ExamInfo{
			ExamID:  examID,
			Subject: v.GetString("subject"),
			Date:    v.GetString("date"),
		}
		if err := db.SetExamInfo(info); err != nil {
			return fmt.Errorf("store exam info: %w", err)
		}
	}

	catalog, err := topics.Load(v.GetStringSlice("topics"))
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	an := analyzer.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetString("stt-model"),
		analyzer.WithPollPolicy(v.GetDuration("poll-interval"), v.GetDuration("poll-timeout")),
	)
	if err := an.Ping(ctx); err != nil {
		return fmt.Errorf("scoring endpoint health check: %w", err)
	}
	slog.Info("scoring endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	records, err := resultStore(ctx, v, db)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	if v.GetString("backend") == "sqlite" {
		count, err := db.RecordCount()
		if err != nil {
			return fmt.Errorf("count exam records: %w", err)
		}
		slog.Info("local record store ready", "records", count)
	}

	pipe := pipeline.New(an, records, catalog)
	h := handler.New(db, records, pipe, catalog, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
		MaxAudioBytes: v.GetInt64("max-audio-bytes"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"backend", v.GetString("backend"),
		"model", v.GetString("llm-model"),
		"stt_model", v.GetString("stt-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"topics", catalog.Len(),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.NewSQLite(v.GetString("db"), "")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	records, err := resultStore(ctx, v, db)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}

	all, err := records.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	// Flags win; the metadata stored by serve fills the gaps.
	info, err := db.GetExamInfo()
	if err != nil {
		return fmt.Errorf("read exam info: %w", err)
	}
	if s := v.GetString("exam-id"); s != "" {
		info.ExamID = s
	}
	if s := v.GetString("subject"); s != "" {
		info.Subject = s
	}
	if s := v.GetString("date"); s != "" {
		info.Date = s
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch v.GetString("format") {
	case "json":
		return writeJSONExport(w, info, all)
	case "csv":
		return writeCSVExport(w, all)
	default:
		return fmt.Errorf("unknown format %q (expected json or csv)", v.GetString("format"))
	}
}

func writeJSONExport(w io.Writer, info model.ExamInfo, records []model.ExamRecord) error {
	export := model.ResultsExport{
		ExamID:     info.ExamID,
		Subject:    info.Subject,
		Date:       info.Date,
		NumRecords: len(records),
		Records:    records,
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, err = fmt.Fprintln(w)
	return err
}

func writeCSVExport(w io.Writer, records []model.ExamRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.ExportColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(rec.CSVRow()); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func seedAdmin(db *store.SQLite, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ORALEXAM_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
