package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/chunkstore"
	"github.com/hyperjump/shiryo/internal/cli"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dedup"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/server"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/watcher"
	"github.com/hyperjump/shiryo/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

// commonFlags are shared by the client commands.
type commonFlags struct {
	config    *string
	serverURL *string
	output    *string
	debug     *bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		config:    fs.String("config", defaultConfigPath, "config file path (for local mode)"),
		serverURL: fs.String("server", cli.DefaultServerURL, `server URL; "" works on local storage`),
		output:    fs.String("output", "text", "output format: text or json"),
		debug:     fs.Bool("debug", false, "enable debug logging"),
	}
}

func (c *commonFlags) format() cli.OutputFormat {
	f, err := cli.ParseFormat(*c.output)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}

// client returns a client for a reachable server, or nil to use local storage.
func (c *commonFlags) client(ctx context.Context) *cli.Client {
	if *c.serverURL == "" {
		return nil
	}
	client := cli.NewClient(*c.serverURL)
	if !client.Ping(ctx) {
		fmt.Fprintf(os.Stderr, "Server %s not reachable, using local storage\n", *c.serverURL)
		return nil
	}
	return client
}

// local opens the components directly against the configured storage.
func (c *commonFlags) local(ctx context.Context) (*config.Config, *Components, *zap.Logger) {
	cfg, _, err := loadConfig(*c.config)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger := newCommandLogger(cfg, *c.debug)
	comps, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return cfg, comps, logger
}

// warmIndex loads stored chunks into a memory-only index so local reads see them.
func warmIndex(ctx context.Context, comps *Components) {
	if comps.Index.Mode() != chunkstore.ModeMemory {
		return
	}
	if _, err := comps.Pipeline.Rebuild(ctx); err != nil {
		fatalf("Failed to load index: %v", err)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watch events, pipeline stages, etc.)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	if comps.Index.Mode() == chunkstore.ModeMemory {
		if _, err := comps.Pipeline.Rebuild(ctx); err != nil {
			logger.Warn("index rebuild failed", zap.Error(err))
		}
	}

	// Workers outlive the signal context so shutdown can drain the queue.
	pool := comps.Pool
	pool.Start(context.Background())

	resumed, err := comps.Pipeline.Resume(ctx)
	if err != nil {
		logger.Warn("resume of interrupted documents failed", zap.Error(err))
	}
	go func() {
		for _, id := range resumed {
			if err := pool.Enqueue(ctx, id); err != nil {
				logger.Warn("requeue failed", zap.Int64("doc_id", id), zap.Error(err))
				return
			}
		}
		if len(resumed) > 0 {
			logger.Info("requeued interrupted documents", zap.Int("count", len(resumed)))
		}
	}()

	ingest := func(ctx context.Context, path string) error {
		doc, err := comps.Pipeline.Register(ctx, &models.DocumentInput{
			Filename: filepath.Base(path),
			FilePath: path,
		})
		if err != nil {
			return err
		}
		return pool.Enqueue(ctx, doc.ID)
	}
	watchSvc := watcher.New(cfg.Watch, ingest,
		watcher.WithLogger(logger),
		watcher.WithRemoveHandler(func(_ context.Context, path string) {
			logger.Info("watched file removed, indexed document kept", zap.String("path", path))
		}))
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	var scheduler *dedup.Scheduler
	if cfg.Dedup.RescanSchedule != "" {
		scheduler, err = dedup.NewScheduler(comps.Dedup, cfg.Dedup.RescanSchedule, logger)
		if err != nil {
			logger.Fatal("Failed to schedule dedup rescan", zap.Error(err))
		}
		scheduler.Start()
	}

	srvOpts := []server.Option{server.WithWatch(watchSvc, resolvedConfigPath)}
	if comps.OCR != nil {
		srvOpts = append(srvOpts, server.WithOCRHealth(comps.OCR))
	}
	srv := server.NewServer(
		comps.Engine,
		comps.Pipeline,
		pool,
		comps.Storage,
		comps.Dedup,
		comps.Index,
		cfg,
		logger,
		srvOpts...,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
	watchSvc.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}
	pool.Stop(shutdownCtx)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(cli.ReorderArgs(args))
	if fs.NArg() == 0 {
		fatalf("Usage: shiryo ingest [flags] <path>...")
	}
	ctx := context.Background()
	format := common.format()

	client := common.client(ctx)
	var (
		cfg   *config.Config
		comps *Components
	)
	if client == nil {
		cfg, comps, _ = common.local(ctx)
		defer comps.Close()
	} else {
		loaded, _, err := loadConfig(*common.config)
		if err != nil {
			fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	failed := 0
	for _, arg := range fs.Args() {
		files, err := indexer.CollectFiles(arg, cfg.Watch.Extensions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", arg, err)
			failed++
			continue
		}
		for _, path := range files {
			doc, err := ingestOne(ctx, client, comps, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			_ = cli.WriteDocument(os.Stdout, doc, format)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// ingestOne queues path on the server, or runs the pipeline inline in local mode.
func ingestOne(ctx context.Context, client *cli.Client, comps *Components, path string) (*models.Document, error) {
	if client != nil {
		return client.IngestPath(ctx, path)
	}
	doc, err := comps.Pipeline.Register(ctx, &models.DocumentInput{Filename: filepath.Base(path), FilePath: path})
	if err != nil {
		return nil, err
	}
	if err := comps.Pipeline.Process(ctx, doc.ID); err != nil {
		return nil, err
	}
	return comps.Storage.GetDocument(ctx, doc.ID)
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 0, "number of results (default from config)")
	chunks := fs.Bool("chunks", false, "return individual chunks")
	keyword := fs.Bool("keyword", true, "enable keyword retrieval")
	semantic := fs.Bool("semantic", true, "enable vector retrieval")
	requireKeyword := fs.String("require-keyword", "", "drop vector-only document hits: true or false (default from config)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shiryo search [flags] <query>\n\n")
		fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(cli.ReorderArgs(args))

	q := cli.JoinQuery(fs.Args())
	if q == "" {
		fs.Usage()
		os.Exit(1)
	}
	query := &models.SearchQuery{
		Query:           q,
		Limit:           *limit,
		KeywordEnabled:  *keyword,
		SemanticEnabled: *semantic,
		ChunkLevel:      *chunks,
	}
	if *requireKeyword != "" {
		v, err := strconv.ParseBool(*requireKeyword)
		if err != nil {
			fatalf("invalid --require-keyword: %v", err)
		}
		query.RequireKeywordMatch = &v
	}

	ctx := context.Background()
	format := common.format()
	var (
		response *models.SearchResponse
		err      error
	)
	if client := common.client(ctx); client != nil {
		response, err = client.Search(ctx, query)
	} else {
		_, comps, _ := common.local(ctx)
		defer comps.Close()
		warmIndex(ctx, comps)
		response, err = comps.Engine.Search(ctx, query)
	}
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fatalf("%v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)
	ctx := context.Background()
	format := common.format()

	var status map[string]any
	if client := common.client(ctx); client != nil {
		s, err := client.Status(ctx)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		status = s
	} else {
		cfg, comps, _ := common.local(ctx)
		defer comps.Close()
		s, err := localStatus(ctx, cfg, comps)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
		status = s
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("%v", err)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, comps *Components) (map[string]any, error) {
	docs, err := comps.Storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := comps.Storage.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := comps.Storage.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]any, len(byStatus))
	for k, v := range byStatus {
		counts[string(k)] = v
	}
	status := map[string]any{
		"documents":       docs,
		"chunks":          chunks,
		"by_status":       counts,
		"index_mode":      string(comps.Index.Mode()),
		"embedding_model": comps.Embedder.Model(),
		"dedup_mode":      cfg.Dedup.Mode,
	}
	if usage, err := storage.MeasureUsage(cfg.Storage.DatabasePath, cfg.Storage.UploadDir); err == nil {
		status["disk_usage_bytes"] = usage.Total()
	}
	return status, nil
}

func runDedup(args []string) {
	if len(args) == 0 {
		fatalf("Usage: shiryo dedup <clusters|rescan|set-primary|ignore> [flags]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("dedup "+sub, flag.ExitOnError)
	common := addCommonFlags(fs)
	actor := fs.String("actor", "cli", "name recorded in the audit log")
	method := fs.String("method", "", "filter clusters by method")
	limit := fs.Int("limit", 50, "clusters per page")
	offset := fs.Int("offset", 0, "clusters to skip")
	_ = fs.Parse(cli.ReorderArgs(args[1:]))
	ctx := context.Background()
	format := common.format()

	client := common.client(ctx)
	var comps *Components
	if client == nil {
		_, comps, _ = common.local(ctx)
		defer comps.Close()
	}

	switch sub {
	case "clusters":
		var clusters []*models.DedupCluster
		var err error
		if client != nil {
			clusters, err = client.ListClusters(ctx, *method, *offset, *limit)
		} else {
			clusters, err = comps.Dedup.ListClusters(ctx, models.DedupMethod(*method), *offset, *limit)
		}
		if err != nil {
			fatalf("List clusters failed: %v", err)
		}
		_ = cli.WriteClusters(os.Stdout, clusters, format)
	case "rescan":
		var report *dedup.ScanReport
		var err error
		if client != nil {
			report, err = client.Rescan(ctx)
		} else {
			report, err = comps.Dedup.Rescan(ctx)
		}
		if err != nil {
			fatalf("Rescan failed: %v", err)
		}
		_ = cli.WriteScanReport(os.Stdout, report, format)
	case "set-primary":
		if fs.NArg() != 2 {
			fatalf("Usage: shiryo dedup set-primary [flags] <cluster-id> <doc-id>")
		}
		clusterID, docID := parseID(fs.Arg(0)), parseID(fs.Arg(1))
		var cluster *models.DedupCluster
		var err error
		if client != nil {
			cluster, err = client.SetPrimary(ctx, clusterID, docID, *actor)
		} else {
			cluster, err = comps.Dedup.SetClusterPrimary(ctx, clusterID, docID, *actor)
		}
		if err != nil {
			fatalf("Set primary failed: %v", err)
		}
		_ = cli.WriteCluster(os.Stdout, cluster, format)
	case "ignore":
		if fs.NArg() != 1 {
			fatalf("Usage: shiryo dedup ignore [flags] <doc-id>")
		}
		docID := parseID(fs.Arg(0))
		var doc *models.Document
		var err error
		if client != nil {
			doc, err = client.Ignore(ctx, docID, *actor)
		} else {
			doc, err = comps.Dedup.SetDocumentIgnored(ctx, docID, *actor)
		}
		if err != nil {
			fatalf("Ignore failed: %v", err)
		}
		_ = cli.WriteDocument(os.Stdout, doc, format)
	default:
		fatalf("Unknown dedup command: %s", sub)
	}
}

// runReprocess runs a document through the pipeline again in local mode.
func runReprocess(args []string) {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(cli.ReorderArgs(args))
	if fs.NArg() != 1 {
		fatalf("Usage: shiryo reprocess [flags] <doc-id>")
	}
	docID := parseID(fs.Arg(0))
	ctx := context.Background()
	_, comps, _ := common.local(ctx)
	defer comps.Close()

	doc, err := comps.Storage.GetDocument(ctx, docID)
	if err != nil {
		fatalf("Document %d: %v", docID, err)
	}
	doc.Status = models.StatusPending
	doc.Attempts = 0
	doc.LastError = ""
	if err := comps.Storage.UpdateDocument(ctx, doc); err != nil {
		fatalf("Reset failed: %v", err)
	}
	if err := comps.Pipeline.Process(ctx, docID); err != nil {
		fatalf("Reprocess failed: %v", err)
	}
	if doc, err = comps.Storage.GetDocument(ctx, docID); err == nil {
		_ = cli.WriteDocument(os.Stdout, doc, common.format())
	}
}

// runDelete removes a document's chunks and index entries in local mode.
func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(cli.ReorderArgs(args))
	if fs.NArg() != 1 {
		fatalf("Usage: shiryo delete [flags] <doc-id>")
	}
	docID := parseID(fs.Arg(0))
	ctx := context.Background()
	_, comps, _ := common.local(ctx)
	defer comps.Close()

	if err := comps.Pipeline.Delete(ctx, docID); err != nil {
		fatalf("Deletion failed: %v", err)
	}
	fmt.Printf("Document %d removed from the index\n", docID)
}

func runWatch(args []string) {
	if len(args) == 0 {
		fatalf("Usage: shiryo watch <add|remove|list> [path]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch "+sub, flag.ExitOnError)
	serverURL := fs.String("server", cli.DefaultServerURL, "server URL")
	_ = fs.Parse(cli.ReorderArgs(args[1:]))
	ctx := context.Background()
	client := cli.NewClient(*serverURL)

	switch sub {
	case "list":
		dirs, err := client.WatchDirectories(ctx)
		if err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
	case "add", "remove":
		if fs.NArg() != 1 {
			fatalf("Usage: shiryo watch %s <path>", sub)
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			fatalf("%v", err)
		}
		if sub == "add" {
			err = client.AddWatchDirectory(ctx, path)
		} else {
			err = client.RemoveWatchDirectory(ctx, path)
		}
		if err != nil {
			fatalf("Watch %s failed: %v", sub, err)
		}
		fmt.Printf("Watch directory %s: %s\n", map[string]string{"add": "added", "remove": "removed"}[sub], path)
	default:
		fatalf("Unknown watch command: %s", sub)
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fatalf("invalid id %q", s)
	}
	return id
}
