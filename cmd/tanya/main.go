// Package main is the tanya CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/tanya/internal/cli"
	"github.com/hyperjump/tanya/internal/config"
	"github.com/hyperjump/tanya/internal/extract"
	"github.com/hyperjump/tanya/internal/models"
	"github.com/hyperjump/tanya/internal/rag"
	"github.com/hyperjump/tanya/internal/server"
	"github.com/hyperjump/tanya/internal/service"
	"github.com/hyperjump/tanya/internal/watcher"
	"github.com/hyperjump/tanya/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tanya/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// A missing default config yields the built-in defaults.
// Returns the config and the path that was actually loaded (empty for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			config.ApplyEnv(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest":
		runIngest(args)
	case "delete":
		runDelete(args)
	case "reindex":
		runReindex(args)
	case "ask":
		runAsk(args)
	case "docs":
		runDocs(args)
	case "history":
		runHistory(args)
	case "status":
		runStatus(args)
	case "init":
		runInit(args)
	case "version", "--version", "-v":
		fmt.Printf("tanya version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// clientFlags are shared by every command that can run against a server or directly
// against local storage.
type clientFlags struct {
	configPath *string
	serverURL  *string
	userID     *string
	output     *string
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path (direct mode)"),
		serverURL:  fs.String("server", defaultServerURL, "server URL (empty = use local storage directly)"),
		userID:     fs.String("user", os.Getenv("TANYA_USER_ID"), "user id (default: $TANYA_USER_ID)"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

func (f *clientFlags) format() cli.OutputFormat {
	format, err := cli.ParseOutputFormat(*f.output)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

func (f *clientFlags) requireUser() string {
	user := strings.TrimSpace(*f.userID)
	if user == "" {
		fatalf("A user id is required: pass --user or set TANYA_USER_ID")
	}
	return user
}

func (f *clientFlags) remote() bool {
	return *f.serverURL != ""
}

func (f *clientFlags) client(userID string) *cli.Client {
	return cli.NewClient(*f.serverURL, userID)
}

// openDirect opens local storage. Only one process should write to it at a time, so use
// this when no server is running.
func openDirect(ctx context.Context, configPath string) (*service.Service, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	svc, err := service.Open(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v", err)
	}
	return svc, func() {
		_ = svc.Close()
		_ = logger.Sync()
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (ingestion, inbox events, etc.)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode, zap.String("version", version))
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize service", zap.Error(err))
	}
	defer svc.Close()

	var inbox *watcher.Inbox
	if cfg.Inbox.Directory != "" {
		opts := []watcher.Option{watcher.WithDebounce(cfg.Inbox.Debounce)}
		if debugMode {
			opts = append(opts, watcher.WithLogger(logger))
		}
		inbox = watcher.NewInbox(cfg.Inbox.Directory, cfg.Ingest.Extensions, svc, opts...)
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(svc, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if inbox != nil {
		inbox.Stop()
	}
	cancel()
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	flags := addClientFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tanya ingest [flags] <file-or-directory>...\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	userID := flags.requireUser()
	format := flags.format()

	files, err := collectFiles(fs.Args())
	if err != nil {
		fatalf("%v", err)
	}
	if len(files) == 0 {
		fatalf("No supported files found")
	}

	ctx := context.Background()
	var results []models.UploadResult
	if flags.remote() {
		results, err = flags.client(userID).Upload(ctx, files...)
		if err != nil {
			fatalf("Ingest failed: %v", err)
		}
	} else {
		svc, closeFn := openDirect(ctx, *flags.configPath)
		defer closeFn()
		for _, path := range files {
			res := models.UploadResult{Filename: filepath.Base(path)}
			doc, err := svc.IngestFile(ctx, userID, "", path, "")
			if doc != nil {
				res.FileID, res.Status = doc.FileID, doc.Status
			}
			if err != nil {
				res.Error, res.Code = err.Error(), models.Kind(err)
			}
			results = append(results, res)
		}
	}
	if err := cli.WriteUploads(os.Stdout, results, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// collectFiles expands directories into the supported files they contain.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if extract.Supported(filepath.Ext(path)) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	flags := addClientFlags(fs)
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: tanya delete [flags] <file-id>...")
		os.Exit(1)
	}
	userID := flags.requireUser()

	ctx := context.Background()
	deleteFn := func(fileID string) (bool, error) {
		return flags.client(userID).Delete(ctx, fileID)
	}
	if !flags.remote() {
		svc, closeFn := openDirect(ctx, *flags.configPath)
		defer closeFn()
		deleteFn = func(fileID string) (bool, error) {
			return svc.Delete(ctx, userID, fileID)
		}
	}
	for _, fileID := range fs.Args() {
		existed, err := deleteFn(fileID)
		if err != nil {
			fatalf("Deletion failed: %v", err)
		}
		if existed {
			fmt.Printf("Document deleted: %s\n", fileID)
		} else {
			fmt.Printf("Document not found: %s\n", fileID)
		}
	}
}

func runReindex(args []string) {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	flags := addClientFlags(fs)
	_ = fs.Parse(reorderArgs(args))
	userID := flags.requireUser()

	ctx := context.Background()
	var size int
	var err error
	if flags.remote() {
		size, err = flags.client(userID).Rebuild(ctx)
	} else {
		svc, closeFn := openDirect(ctx, *flags.configPath)
		defer closeFn()
		size, err = svc.Rebuild(ctx, userID)
	}
	if err != nil {
		fatalf("Reindex failed: %v", err)
	}
	fmt.Printf("Index rebuilt: %d vector(s)\n", size)
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	flags := addClientFlags(fs)
	k := fs.Int("k", 0, "number of passages to retrieve (default from config)")
	stream := fs.Bool("stream", false, "print the answer as it is generated")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: tanya ask [flags] <question>\n\n")
		fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(args))
	question := buildQuestion(fs.Args())
	if question == "" {
		fs.Usage()
		os.Exit(1)
	}
	userID := flags.requireUser()
	format := flags.format()
	req := models.QueryRequest{Question: question, K: *k}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var svc *service.Service
	if !flags.remote() {
		var closeFn func()
		svc, closeFn = openDirect(ctx, *flags.configPath)
		defer closeFn()
	}

	if *stream {
		var (
			events <-chan rag.Event
			err    error
		)
		if svc != nil {
			events, err = svc.StreamQuery(ctx, userID, req)
		} else {
			events, err = flags.client(userID).Stream(ctx, req)
		}
		if err != nil {
			fatalf("Ask failed: %v", err)
		}
		if err := cli.WriteStream(os.Stdout, events, format); err != nil {
			fatalf("Ask failed: %v", err)
		}
		return
	}

	var (
		answer *models.Answer
		err    error
	)
	if svc != nil {
		answer, err = svc.Query(ctx, userID, req)
	} else {
		answer, err = flags.client(userID).Query(ctx, req)
	}
	if err != nil {
		fatalf("Ask failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, answer, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDocs(args []string) {
	fs := flag.NewFlagSet("docs", flag.ExitOnError)
	flags := addClientFlags(fs)
	_ = fs.Parse(args)
	userID := flags.requireUser()
	format := flags.format()

	ctx := context.Background()
	var (
		docs []*models.Document
		err  error
	)
	if flags.remote() {
		docs, err = flags.client(userID).Documents(ctx)
	} else {
		svc, closeFn := openDirect(ctx, *flags.configPath)
		defer closeFn()
		docs, err = svc.Documents(ctx, userID)
	}
	if err != nil {
		fatalf("Listing documents failed: %v", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	flags := addClientFlags(fs)
	limit := fs.Int("limit", 0, "number of recent turns (default from config)")
	clearHistory := fs.Bool("clear", false, "delete the conversation history")
	_ = fs.Parse(args)
	userID := flags.requireUser()
	format := flags.format()

	ctx := context.Background()
	var (
		turns []*models.Turn
		err   error
	)
	if flags.remote() {
		c := flags.client(userID)
		if *clearHistory {
			err = c.ClearHistory(ctx)
		} else {
			turns, err = c.History(ctx, *limit)
		}
	} else {
		svc, closeFn := openDirect(ctx, *flags.configPath)
		defer closeFn()
		if *clearHistory {
			err = svc.ClearHistory(ctx, userID)
		} else {
			turns, err = svc.History(ctx, userID, *limit)
		}
	}
	if err != nil {
		fatalf("History failed: %v", err)
	}
	if *clearHistory {
		fmt.Println("History cleared.")
		return
	}
	if err := cli.WriteHistory(os.Stdout, turns, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addClientFlags(fs)
	_ = fs.Parse(args)
	format := flags.format()
	userID := strings.TrimSpace(*flags.userID)

	ctx := context.Background()
	var (
		st  *service.Status
		err error
	)
	if flags.remote() {
		st, err = flags.client(userID).Status(ctx)
	} else {
		svc, closeFn := openDirect(ctx, *flags.configPath)
		defer closeFn()
		st, err = svc.Status(ctx, userID)
	}
	if err != nil {
		fatalf("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if err := writeDefaultConfig(*path, *force); err != nil {
		fatalf("Init failed: %v", err)
	}
	fmt.Printf("Wrote %s\n", *path)
}

func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return config.Save(path, cfg)
}

// buildQuestion joins positional arguments so quoted and unquoted questions are equal.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves flags in front of positional arguments, since flag.Parse stops at
// the first positional. Every flag other than the boolean ones takes a value.
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") || a == "-" {
			positional = append(positional, a)
			continue
		}
		flags = append(flags, a)
		name := strings.TrimLeft(a, "-")
		if strings.Contains(name, "=") || boolFlags[name] {
			continue
		}
		if i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	if len(flags) == 0 {
		return args
	}
	return append(flags, positional...)
}

var boolFlags = map[string]bool{"stream": true, "debug": true, "force": true, "clear": true}

func printUsage() {
	fmt.Println(`tanya - Ask questions about your documents

Usage:
  tanya server [flags]                Start the HTTP server (and the inbox watcher when configured)
  tanya ingest [flags] <path>...      Ingest files or directories
  tanya delete [flags] <file-id>...   Delete documents
  tanya reindex [flags]               Rebuild your index from stored chunks
  tanya ask [flags] <question>        Ask a question about your documents
  tanya docs [flags]                  List your documents
  tanya history [flags]               Show or clear your conversation history
  tanya status [flags]                Show index and storage status
  tanya init [flags]                  Write a default config file
  tanya version                       Show version
  tanya help                          Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/tanya/config.yaml)
  --debug            Enable debug logging

Client Flags (ingest, delete, reindex, ask, docs, history, status):
  --user string      User id (default: $TANYA_USER_ID)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to use local storage directly.
  --config string    Config file path (direct mode)
  --output string    Output format: text or json (default: text)

Ask Flags:
  --k int            Number of passages to retrieve (default from config)
  --stream           Print the answer as it is generated

History Flags:
  --limit int        Number of recent turns (default from config)
  --clear            Delete the conversation history

Init Flags:
  --config string    Where to write the config file (default: config.yaml)
  --force            Overwrite an existing file

Environment:
  TANYA_USER_ID, TANYA_LLM_API_KEY, TANYA_EMBEDDING_API_KEY and TANYA_REDIS_PASSWORD
  are read from the environment or a .env file in the current directory.

Examples:
  tanya server
  tanya ingest --user alice report.pdf slides.pptx
  tanya ask --user alice what was the revenue in Q3
  tanya ask --user alice --stream "summarise the report"
  tanya docs --user alice --output json
  tanya history --user alice --limit 5
  tanya status --server ""`)
}
