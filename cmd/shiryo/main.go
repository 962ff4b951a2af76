// Package main is the Shiryo CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiryo/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, so running from a project directory uses the
// project's config. A missing default config yields built-in defaults. Returns the
// path that was loaded (empty when defaults were used) for saving watch changes.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newCommandLogger builds the logger for one-shot commands. Logs go to stderr so
// stdout carries only results.
func newCommandLogger(cfg *config.Config, debug bool) *zap.Logger {
	logger, err := utils.NewLogger(cfg.Debug || debug, "stderr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest", "index":
		runIngest(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "dedup":
		runDedup(args)
	case "reprocess":
		runReprocess(args)
	case "delete":
		runDelete(args)
	case "watch":
		runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("shiryo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`shiryo - Document ingestion and hybrid retrieval with duplicate control

Usage:
  shiryo server [flags]                       Start the HTTP server, pipeline workers and watcher
  shiryo ingest [flags] <path>...             Ingest files or directories
  shiryo search [flags] <query>               Search documents (or chunks with --chunks)
  shiryo status [flags]                       Show document counts, index mode and config
  shiryo dedup clusters [flags]               List duplicate clusters
  shiryo dedup rescan [flags]                 Run a corpus-wide near-duplicate scan
  shiryo dedup set-primary <cluster> <doc>    Make a document the primary of its cluster
  shiryo dedup ignore <doc>                   Exclude a document from duplicate handling
  shiryo reprocess [flags] <doc>              Run a document through the pipeline again
  shiryo delete [flags] <doc>                 Remove a document's chunks from the index
  shiryo watch <add|remove|list> [path]       Manage watched directories on a running server
  shiryo version                              Show version
  shiryo help                                 Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/shiryo/config.yaml,
                     or ./config.yaml when present)
  --server string    Server URL (default: http://localhost:8080). Commands use the server
                     when it answers; use --server "" to work on local storage directly.
  --output string    Output format: text or json (default: text)
  --debug            Enable debug logging

Search Flags:
  --limit int        Number of results (default from config)
  --chunks           Return individual chunks instead of one hit per document
  --keyword          Enable keyword retrieval (default: true)
  --semantic         Enable vector retrieval (default: true)
  --require-keyword  Drop vector-only document hits (default from config)

Dedup Flags:
  --actor string     Name recorded in the audit log (default: cli)
  --method string    Filter clusters by method: exact, minhash, doc_embedding, hybrid

Examples:
  shiryo server
  shiryo ingest ~/Documents/reports
  shiryo search harbour crane schedule
  shiryo search --chunks --output json "ferry timetable"
  shiryo dedup clusters --method minhash
  shiryo dedup set-primary --actor alice 4 12
  shiryo watch add ~/Documents/inbox`)
}
