// Command goodreads builds a review-corpus search index and runs
// queries against it.
//
// The command is a thin, non-interactive front over the library: it
// loads or builds an index snapshot, optionally prints collection
// statistics, and optionally executes a single query, decorating hits
// with review metadata and relevance labels when those files are
// configured.
//
// Configuration comes from an optional JSONC file plus flags; flags win
// over the file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/mdb42/goodreads"
)

// config mirrors the flag set. Zero values mean "not set".
type config struct {
	Archive         string `json:"archive"`
	Snapshot        string `json:"snapshot"`
	Stopwords       string `json:"stopwords"`
	SpecialChars    string `json:"special_chars"`
	Metadata        string `json:"metadata"`
	RelevanceLabels string `json:"relevance_labels"`
	Workers         int    `json:"workers"`
	ChunkSize       int    `json:"chunk_size"`
	LogLevel        string `json:"log_level"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "path to JSONC config file")
		archive    = pflag.String("archive", "", "path to the zip corpus archive")
		snapshot   = pflag.String("index", "", "path to the index snapshot (loaded if present, written after a build)")
		stopwords  = pflag.String("stopwords", "", "stopword list, one term per line")
		special    = pflag.String("special-chars", "", "special-character list, one entry per line")
		metadata   = pflag.String("metadata", "", "review metadata CSV (review_id,user_id,rating)")
		labels     = pflag.String("labels", "", "relevance judgments CSV (id,label)")
		workers    = pflag.Int("workers", 0, "worker pool size (0 = auto)")
		chunkSize  = pflag.Int("chunk-size", 0, "documents per batch (0 = auto)")
		query      = pflag.String("query", "", "query to execute after the index is ready")
		topK       = pflag.Int("k", 10, "number of results to return")
		showStats  = pflag.Bool("stats", false, "print index statistics")
		rebuild    = pflag.Bool("rebuild", false, "rebuild from the archive even if a snapshot exists")
		logLevel   = pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	pflag.Parse()

	cfg := config{}
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", *configPath, err)
		}
	}

	// Flags override the config file.
	applyString := func(dst *string, flag string) {
		if flag != "" {
			*dst = flag
		}
	}
	applyString(&cfg.Archive, *archive)
	applyString(&cfg.Snapshot, *snapshot)
	applyString(&cfg.Stopwords, *stopwords)
	applyString(&cfg.SpecialChars, *special)
	applyString(&cfg.Metadata, *metadata)
	applyString(&cfg.RelevanceLabels, *labels)
	cfg.LogLevel = mergeLogLevel(cfg.LogLevel, *logLevel, pflag.CommandLine.Changed("log-level"))
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	stopwordList, err := goodreads.LoadStopwords(cfg.Stopwords)
	if err != nil {
		return err
	}
	specialList, err := goodreads.LoadSpecialChars(cfg.SpecialChars)
	if err != nil {
		return err
	}
	normalizer := goodreads.NewNormalizer(stopwordList, specialList)

	index, err := loadOrBuild(cfg, normalizer, logger, *rebuild)
	if err != nil {
		return err
	}

	if *showStats {
		printStats(index)
	}

	if *query == "" {
		return nil
	}

	model := goodreads.NewBIMModel(index, normalizer, logger)
	if cfg.RelevanceLabels != "" {
		if err := model.LoadRelevanceLabels(cfg.RelevanceLabels); err != nil {
			logger.Warn("continuing without relevance labels", "error", err)
		}
	}

	var store *goodreads.MetadataStore
	if cfg.Metadata != "" {
		store, err = goodreads.LoadMetadata(cfg.Metadata, logger)
		if err != nil {
			logger.Warn("continuing without review metadata", "error", err)
			store = nil
		}
	}

	results := model.Search(*query, *topK)
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, hit := range results {
		line := fmt.Sprintf("%2d. %-24s score=%.4f", i+1, hit.Source, hit.Score)
		if store != nil {
			if md, ok := store.Lookup(hit.Source); ok {
				line += fmt.Sprintf("  user=%s rating=%d", md.User, md.Rating)
			}
		}
		if label, ok := model.RelevanceLabel(hit.Source); ok {
			line += fmt.Sprintf("  relevant=%d", label)
		}
		fmt.Println(line)
	}
	return nil
}

// loadOrBuild loads the configured snapshot when present, otherwise
// builds the index from the archive and saves the snapshot.
func loadOrBuild(cfg config, normalizer goodreads.Normalizer, logger *slog.Logger, rebuild bool) (*goodreads.DocumentIndex, error) {
	if cfg.Snapshot != "" && !rebuild {
		index, err := goodreads.LoadIndexFile(cfg.Snapshot, logger)
		if err == nil {
			return index, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			if errors.Is(err, goodreads.ErrBadSnapshot) {
				logger.Warn("snapshot unusable, rebuilding from archive", "error", err)
			} else {
				return nil, err
			}
		}
	}

	if cfg.Archive == "" {
		return nil, errors.New("no usable snapshot and no --archive to build from")
	}

	opts := goodreads.DefaultBuildOptions()
	opts.Logger = logger
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	if cfg.ChunkSize > 0 {
		opts.ChunkSize = cfg.ChunkSize
	}
	opts.Progress = func(processed, total int) {
		fmt.Fprintf(os.Stderr, "\rProgress: %d / %d (%.2f%%)", processed, total,
			float64(processed)/float64(total)*100)
		if processed == total {
			fmt.Fprintln(os.Stderr)
		}
	}

	indexer := goodreads.NewArchiveIndexer(cfg.Archive, normalizer, opts)
	index, err := indexer.Build(context.Background())
	if err != nil {
		return nil, err
	}

	if cfg.Snapshot != "" {
		if err := index.SaveFile(cfg.Snapshot); err != nil {
			return nil, err
		}
	}
	return index, nil
}

func printStats(index *goodreads.DocumentIndex) {
	stats := index.Stats()
	fmt.Printf("documents:        %d\n", stats.DocumentCount)
	fmt.Printf("vocabulary:       %d\n", stats.VocabularySize)
	fmt.Printf("doc length:       avg=%.1f min=%d max=%d\n",
		stats.AvgDocLength, stats.MinDocLength, stats.MaxDocLength)
	fmt.Printf("term frequency:   avg=%.1f min=%d max=%d\n",
		stats.AvgTermFreq, stats.MinTermFreq, stats.MaxTermFreq)
	fmt.Printf("doc frequency:    avg=%.1f min=%d max=%d\n",
		stats.AvgDocFreq, stats.MinDocFreq, stats.MaxDocFreq)
	fmt.Printf("memory (approx):  %d bytes\n", stats.MemoryUsage["total"])
	for _, tc := range index.MostFrequentTerms(10) {
		fmt.Printf("  %-20s %d\n", tc.Term, tc.Count)
	}
}

// mergeLogLevel applies flag-over-file precedence for the log level.
// The flag carries a non-empty default, so a bare non-empty check would
// always clobber the config file's value; only an explicitly set flag
// overrides it, and the default fills in when the file set nothing.
func mergeLogLevel(fromFile, fromFlag string, flagSet bool) string {
	if flagSet || fromFile == "" {
		return fromFlag
	}
	return fromFile
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
