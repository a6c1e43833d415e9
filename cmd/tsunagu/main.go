// Package main is the tsunagu CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/cli"
	"github.com/hyperjump/tsunagu/internal/config"
	"github.com/hyperjump/tsunagu/internal/discovery"
	"github.com/hyperjump/tsunagu/internal/events"
	"github.com/hyperjump/tsunagu/internal/extract"
	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/indexer"
	"github.com/hyperjump/tsunagu/internal/ingest"
	"github.com/hyperjump/tsunagu/internal/keyword"
	"github.com/hyperjump/tsunagu/internal/llm"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/ranking"
	"github.com/hyperjump/tsunagu/internal/retriever"
	"github.com/hyperjump/tsunagu/internal/server"
	"github.com/hyperjump/tsunagu/internal/storage"
	"github.com/hyperjump/tsunagu/internal/watcher"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/tsunagu/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	eventBufferSize   = 64
)

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// loadConfig loads config from path. When path is the default, config.yaml (or config.toml)
// in the current directory wins so that running from a project directory uses its config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			for _, name := range []string{"config.yaml", "config.toml"} {
				fallback := filepath.Join(cwd, name)
				if _, statErr := os.Stat(fallback); statErr == nil {
					cfg, loadErr := config.Load(fallback)
					if loadErr != nil {
						return nil, "", loadErr
					}
					return cfg, fallback, nil
				}
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "retrieve":
		runRetrieve()
	case "queue":
		runQueue()
	case "status":
		runStatus()
	case "compact":
		runCompact()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("tsunagu version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file indexing, discovery, watch events)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	go components.Processor.Run(ctx)

	idx := components.Indexer
	exts := cfg.Watch.Extensions
	watchOpts := []watcher.Option{
		watcher.WithRoots(cfg.Watch.Directories...),
		watcher.WithExtensions(exts...),
		watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()),
	}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc, err := watcher.New(watcher.HandlerFuncs{
		IndexFunc: func(path string) {
			if _, err := idx.IndexFile(ctx, path, exts); err != nil {
				logger.Warn("watch index file failed", zap.String("path", path), zap.Error(err))
			}
		},
		RemoveFunc: func(path string) {
			if _, err := idx.DeletePath(ctx, path); err != nil {
				logger.Warn("watch delete by path failed", zap.String("path", path), zap.Error(err))
			}
		},
	}, cfg.Watch.Exclude, watchOpts...)
	if err != nil {
		logger.Fatal("Failed to create watcher", zap.Error(err))
	}
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Store,
		components.Retriever,
		components.Queue,
		components.Broker,
		&cfg.Server,
		logger,
		server.WithIndexer(idx),
		server.WithWatch(watchSvc, resolvedConfigPath, cfg),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func printIngestUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tsunagu ingest [flags] <file-or-directory>...\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Source files are parsed and merged into the graph immediately. Other documents are queued
for entity discovery. With a server running, the server does the work; with --server ""
the documents are processed in this process before it exits.

Examples:
  tsunagu ingest ./src
  tsunagu ingest --ext .go,.md notes.md design/
  tsunagu ingest --server "" --process=false ./docs   # queue only
`)
}

func runIngest() {
	args := argsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = work on local storage directly)")
	extFlag := fs.String("ext", "", "comma-separated extensions to accept (default: watch.extensions for directories, any for files)")
	process := fs.Bool("process", true, "without a server, run discovery on queued documents before exiting")
	fs.Usage = func() { printIngestUsage(fs) }
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		printIngestUsage(fs)
		os.Exit(1)
	}
	exts := splitList(*extFlag)

	if *serverURL != "" {
		for _, p := range fs.Args() {
			abs, err := filepath.Abs(p)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Invalid path %s: %v\n", p, err)
				os.Exit(1)
			}
			var out map[string]interface{}
			body := map[string]interface{}{"path": abs, "extensions": exts}
			if err := doJSON(http.MethodPost, *serverURL+"/api/v1/documents/index", body, http.StatusOK, &out); err != nil {
				fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
				os.Exit(1)
			}
			printIngestResult(abs, out)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	for _, p := range fs.Args() {
		info, err := os.Stat(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
			os.Exit(1)
		}
		if info.IsDir() {
			dirExts := exts
			if dirExts == nil {
				dirExts = cfg.Watch.Extensions
			}
			n, err := components.Indexer.IndexDirectory(ctx, p, dirExts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Indexing directory failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Indexed %d file(s) from %s\n", n, p)
			continue
		}
		outcome, err := components.Indexer.IndexFile(ctx, p, exts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s\n", p, outcome)
	}

	if !*process {
		return
	}
	processed := drainQueue(ctx, components.Processor, logger)
	counts := components.Queue.Counts()
	fmt.Printf("Processed %d queued document(s): %d completed, %d failed, %d pending\n",
		processed, counts[models.StatusCompleted], counts[models.StatusFailed], counts[models.StatusPending])
}

func printIngestResult(path string, out map[string]interface{}) {
	if n, ok := out["indexed"]; ok {
		fmt.Printf("Indexed %v file(s) from %s\n", n, path)
		return
	}
	fmt.Printf("%s: %v\n", path, out["outcome"])
}

// drainQueue processes pending documents until none are left or ctx is cancelled.
func drainQueue(ctx context.Context, p *ingest.Processor, logger *zap.Logger) int {
	n := 0
	for ctx.Err() == nil {
		worked, err := p.ProcessNext(ctx)
		if err != nil {
			logger.Warn("document processing failed", zap.Error(err))
		}
		if !worked {
			break
		}
		n++
	}
	return n
}

func printRetrieveUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tsunagu retrieve [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  tsunagu retrieve auth service
  tsunagu retrieve --strategy keyword --sources code TokenStore
  tsunagu retrieve --related --depth 2 --output json "payment retries"
  tsunagu retrieve --strategy graph --pattern "^Auth" auth
`)
}

// buildQuery joins positional args so multi-word queries work with or without quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// configPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func configPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "-config="); ok {
			return v
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	return defaultPath
}

// retrievalDefaultsFromConfig returns the retrieval section of the config at path, with
// defaults applied. A config that cannot be loaded yields the built-in defaults.
func retrievalDefaultsFromConfig(path string) config.RetrievalConfig {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		var fallback config.Config
		config.ApplyDefaults(&fallback)
		return fallback.Retrieval
	}
	return cfg.Retrieval
}

// argsReorder moves flags (and their values) that appear after positional arguments to the
// front so that flag.Parse sees them. The flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// splitList splits a comma-separated flag value, dropping blanks. Empty input gives nil.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// retrieveFlags are the retrieve subcommand's query flags.
type retrieveFlags struct {
	strategy   string
	limit      int
	minScore   float64
	sources    string
	categories string
	fileTypes  string
	related    bool
	depth      int
	rerank     bool
	pattern    string
}

func (f retrieveFlags) query(text string) models.RetrieveQuery {
	q := models.RetrieveQuery{
		Query:          text,
		Strategy:       models.Strategy(f.strategy),
		MaxResults:     f.limit,
		MinScore:       f.minScore,
		Categories:     splitList(f.categories),
		FileTypes:      splitList(f.fileTypes),
		IncludeRelated: f.related,
		RelatedDepth:   f.depth,
		Rerank:         f.rerank,
		Pattern:        f.pattern,
	}
	for _, s := range splitList(f.sources) {
		q.Sources = append(q.Sources, models.Source(s))
	}
	return q
}

func runRetrieve() {
	args := argsReorder(os.Args[2:])
	configPath := configPathFromArgs(args, defaultConfigPath)
	defaults := retrievalDefaultsFromConfig(configPath)

	var rf retrieveFlags
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	configPathFlag := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage directly)")
	fs.StringVar(&rf.strategy, "strategy", defaults.Strategy, "hybrid, semantic, keyword, or graph")
	fs.IntVar(&rf.limit, "limit", defaults.MaxResults, "maximum number of results")
	fs.Float64Var(&rf.minScore, "min-score", defaults.MinScore, "minimum result score")
	fs.StringVar(&rf.sources, "sources", "", "comma-separated sources: code, documentation, prevention, task")
	fs.StringVar(&rf.categories, "categories", "", "comma-separated categories to boost")
	fs.StringVar(&rf.fileTypes, "file-types", "", "comma-separated file extensions to keep")
	fs.BoolVar(&rf.related, "related", false, "include the subgraph around the results")
	fs.IntVar(&rf.depth, "depth", defaults.RelatedDepth, "subgraph depth for --related")
	fs.BoolVar(&rf.rerank, "rerank", defaults.Rerank, "re-rank results with recency, category, and query signals")
	fs.StringVar(&rf.pattern, "pattern", "", "regular expression for the graph scorer")
	outputFormat := fs.String("output", "text", "output format: text, compact (one result per line), or json")
	fs.Usage = func() { printRetrieveUsage(fs) }
	_ = fs.Parse(args)

	text := buildQuery(fs.Args())
	if text == "" {
		printRetrieveUsage(fs)
		os.Exit(1)
	}
	format := cli.ParseOutputFormat(*outputFormat)
	query := rf.query(text)

	if *serverURL != "" {
		var response models.RetrieveResponse
		if err := doJSON(http.MethodPost, *serverURL+"/api/v1/retrieve", query, http.StatusOK, &response); err != nil {
			fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteRetrieveResults(os.Stdout, &response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, cfg.Debug)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	response, err := components.Retriever.Retrieve(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Retrieve failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRetrieveResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runQueue() {
	sub := "list"
	rest := os.Args[2:]
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		sub, rest = rest[0], rest[1:]
	}
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(rest))

	switch sub {
	case "list":
		var out struct {
			Items  []models.QueuedDocument    `json:"items"`
			Counts map[models.QueueStatus]int `json:"counts"`
		}
		if err := doJSON(http.MethodGet, *serverURL+"/api/v1/queue", nil, http.StatusOK, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Queue list failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteQueue(os.Stdout, out.Items, out.Counts, cli.ParseOutputFormat(*outputFormat)); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "retry":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tsunagu queue retry <queue-id>")
			os.Exit(1)
		}
		id := fs.Arg(0)
		if err := doJSON(http.MethodPost, *serverURL+"/api/v1/queue/"+url.PathEscape(id)+"/retry", nil, http.StatusOK, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Retry failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Requeued: %s\n", id)
	case "clear":
		var out struct {
			Removed int `json:"removed"`
		}
		if err := doJSON(http.MethodDelete, *serverURL+"/api/v1/queue/completed", nil, http.StatusOK, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Clear failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d completed item(s)\n", out.Removed)
	default:
		fmt.Printf("Unknown queue subcommand: %s\n", sub)
		fmt.Println("Usage: tsunagu queue [list|retry <id>|clear]")
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status.
type statusResponse struct {
	Nodes     int                        `json:"nodes"`
	Edges     int                        `json:"edges"`
	Queue     map[models.QueueStatus]int `json:"queue,omitempty"`
	Stats     models.GraphStats          `json:"stats"`
	Config    map[string]interface{}     `json:"config,omitempty"`
	DiskUsage *storage.Usage             `json:"disk_usage,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status statusResponse
	if *serverURL != "" {
		if err := doJSON(http.MethodGet, *serverURL+"/api/v1/status", nil, http.StatusOK, &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()

		nodes, edges := components.Store.Counts()
		status = statusResponse{
			Nodes: nodes,
			Edges: edges,
			Queue: components.Queue.Counts(),
			Stats: components.Store.Snapshot().Stats,
			Config: map[string]interface{}{
				"llm_provider":     cfg.LLM.Provider,
				"default_strategy": cfg.Retrieval.Strategy,
				"database_path":    cfg.Storage.DatabasePath,
				"bleve_index_path": cfg.Storage.BleveIndexPath,
			},
		}
		if usage, err := storage.MeasureUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath); err == nil {
			status.DiskUsage = &usage
		}
	}

	if cli.ParseOutputFormat(*outputFormat) == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	writeStatusText(os.Stdout, status)
}

func writeStatusText(w io.Writer, status statusResponse) {
	fmt.Fprintf(w, "nodes:              %d   # active nodes\n", status.Nodes)
	fmt.Fprintf(w, "edges:              %d   # active edges\n", status.Edges)
	for _, s := range []models.QueueStatus{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
		fmt.Fprintf(w, "queue_%-13s %d\n", string(s)+":", status.Queue[s])
	}
	fmt.Fprintf(w, "density:            %.6f\n", status.Stats.Density)
	if status.DiskUsage != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database + keyword index\n", status.DiskUsage.TotalBytes)
	}
	if len(status.Config) > 0 {
		keys := make([]string, 0, len(status.Config))
		for k := range status.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, k := range keys {
			fmt.Fprintf(w, "%-19s %v\n", k+":", status.Config[k])
		}
	}
}

func runCompact() {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use local storage directly)")
	_ = fs.Parse(os.Args[2:])

	var out struct {
		NodesRemoved int `json:"nodes_removed"`
		EdgesRemoved int `json:"edges_removed"`
	}
	if *serverURL != "" {
		if err := doJSON(http.MethodPost, *serverURL+"/api/v1/compact", nil, http.StatusOK, &out); err != nil {
			fmt.Fprintf(os.Stderr, "Compact failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		out.NodesRemoved, out.EdgesRemoved, err = components.Store.Compact(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Compact failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("Removed %d node(s) and %d edge(s)\n", out.NodesRemoved, out.EdgesRemoved)
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tsunagu watch <add|remove|list> [path]")
		fmt.Println("  tsunagu watch add <path>     Add directory to watch")
		fmt.Println("  tsunagu watch remove <path>  Remove directory from watch")
		fmt.Println("  tsunagu watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tsunagu watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		body := map[string]interface{}{"path": path, "sync": true}
		if err := doJSON(http.MethodPost, *serverURL+"/api/v1/watch/directories", body, http.StatusCreated, nil); err != nil {
			fmt.Printf("Add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: tsunagu watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := doJSON(http.MethodDelete, *serverURL+"/api/v1/watch/directories?path="+url.QueryEscape(path), nil, http.StatusOK, nil); err != nil {
			fmt.Printf("Remove failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := doJSON(http.MethodGet, *serverURL+"/api/v1/watch/directories", nil, http.StatusOK, &out); err != nil {
			fmt.Printf("List failed: %v\n", err)
			os.Exit(1)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// doJSON sends body (when non-nil) as JSON and decodes the response into out (when non-nil).
// Any status other than want is an error carrying the response body.
func doJSON(method, target string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Storage      *storage.SQLiteStorage
	Mirror       *storage.Neo4jMirror // nil unless storage.neo4j.uri is set
	KeywordIndex *keyword.BleveIndex
	Provider     llm.Provider // nil when no provider is configured
	Store        *graph.Store
	Queue        *ingest.Queue
	Broker       *events.Broker
	Processor    *ingest.Processor
	Retriever    *retriever.Retriever
	Indexer      *indexer.Indexer
}

func (c *Components) Close() {
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if closer, ok := c.Provider.(io.Closer); ok {
		_ = closer.Close()
	}
	if c.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Mirror.Close(ctx)
		cancel()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// discoveryOptions maps the ingest section onto per-call discovery options.
func discoveryOptions(cfg config.IngestConfig) discovery.Options {
	opts := discovery.DefaultOptions()
	if cfg.ConfidenceThreshold > 0 {
		opts.ConfidenceThreshold = cfg.ConfidenceThreshold
	}
	if cfg.MaxEntities > 0 {
		opts.MaxEntities = cfg.MaxEntities
	}
	if cfg.IncludeRelationships != nil {
		opts.IncludeRelationships = *cfg.IncludeRelationships
	}
	if cfg.AllowNewTypes != nil {
		opts.AllowNewTypes = *cfg.AllowNewTypes
	}
	return opts
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	c := &Components{}
	db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = db

	storeOpts := []graph.StoreOption{
		graph.WithBackend(db),
		graph.WithMaxSubgraphNodes(cfg.Graph.MaxSubgraphNodes),
	}
	if debug {
		storeOpts = append(storeOpts, graph.WithLogger(logger))
	}
	if neo := cfg.Storage.Neo4j; neo.URI != "" {
		mirror, err := storage.NewNeo4jMirror(ctx, neo.URI, neo.User, neo.Password, neo.Database)
		if err != nil {
			logger.Warn("graph mirror disabled", zap.String("uri", neo.URI), zap.Error(err))
		} else {
			c.Mirror = mirror
			storeOpts = append(storeOpts, graph.WithWriter(mirror))
		}
	}
	c.Store = graph.NewStore(storeOpts...)
	if err := c.Store.Load(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}

	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	c.Broker = events.NewBroker(eventBufferSize)
	c.Queue = ingest.NewQueue(
		ingest.WithQueueBackend(db),
		ingest.WithPublisher(c.Broker),
		ingest.WithQueueLogger(logger),
	)
	if err := c.Queue.Load(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize llm provider: %w", err)
	}
	c.Provider = provider
	if provider == nil {
		logger.Info("no llm provider configured; queued documents will yield no entities")
	}
	discoverer := discovery.NewService(provider, discovery.WithLogger(logger))

	c.Processor = ingest.NewProcessor(c.Queue, c.Store, discoverer,
		ingest.WithLogger(logger),
		ingest.WithBackend(db),
		ingest.WithKeywordIndex(kw),
		ingest.WithEvents(c.Broker),
		ingest.WithDiscoveryOptions(discoveryOptions(cfg.Ingest)),
		ingest.WithChunker(ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)),
		ingest.WithWorkspaceLabel(cfg.Graph.WorkspaceLabel),
	)

	c.Retriever = retriever.New(c.Store,
		retriever.WithDefaults(cfg.Retrieval.Defaults()),
		retriever.WithReranker(ranking.NewReranker(cfg.Retrieval.RankingConfig())),
		retriever.WithKeywordIndex(kw),
		retriever.WithLogger(logger),
	)

	engineOpts := []extraction.EngineOption{}
	idxOpts := []indexer.IndexerOption{
		indexer.WithQueue(c.Queue),
		indexer.WithExtractor(extract.NewExtractor()),
		indexer.WithKeywordIndex(kw),
		indexer.WithWorkspaceLabel(cfg.Graph.WorkspaceLabel),
	}
	if debug {
		engineOpts = append(engineOpts, extraction.WithLogger(logger))
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(c.Store, extraction.NewEngine(engineOpts...), idxOpts...)
	return c, nil
}

func printUsage() {
	fmt.Println(`tsunagu - Knowledge graph and hybrid retrieval for code and documents

Usage:
  tsunagu server [flags]                  Start the HTTP server, watcher, and ingestion worker
  tsunagu ingest [flags] <path>...        Index files or directories
  tsunagu retrieve [flags] <query>        Retrieve ranked nodes for a query
  tsunagu queue [list|retry <id>|clear]   Inspect or manage the ingestion queue
  tsunagu status [flags]                  Show graph, queue, and storage status
  tsunagu compact [flags]                 Remove logically deleted nodes and edges
  tsunagu watch <add|remove|list>         Manage watched directories
  tsunagu version                         Show version
  tsunagu help                            Show this help

Common Flags:
  --config string    Config file path, YAML or TOML (default: /usr/local/etc/tsunagu/config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to work on
                     local storage directly when the server is not running.

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --ext string       Comma-separated extensions to accept
  --process          Without a server, run discovery on queued documents (default: true)

Retrieve Flags:
  --strategy string    hybrid, semantic, keyword, or graph (default from config)
  --limit int          Maximum number of results (default from config)
  --min-score float    Minimum result score (default from config)
  --sources string     Comma-separated sources: code, documentation, prevention, task
  --categories string  Comma-separated categories to boost
  --file-types string  Comma-separated file extensions to keep
  --related            Include the subgraph around the results
  --depth int          Subgraph depth for --related
  --rerank             Re-rank results
  --pattern string     Regular expression for the graph scorer
  --output string      text, compact, or json (default: text)

Examples:
  tsunagu server
  tsunagu ingest ./src ./docs
  tsunagu retrieve "token refresh"
  tsunagu retrieve --output json --related auth service
  tsunagu queue retry 01HZX...
  tsunagu status --output json
  tsunagu compact`)
}
