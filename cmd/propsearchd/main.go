// Command propsearchd is the operator CLI for the property search
// engine: initializing the index, ingesting listings, running ad-hoc
// searches, rebuilding the vector indices, and inspecting cache spend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hybridrealty/propsearch/internal/config"
	"github.com/hybridrealty/propsearch/internal/modelclient"
	"github.com/hybridrealty/propsearch/pkg/analytics"
	"github.com/hybridrealty/propsearch/pkg/cache"
	"github.com/hybridrealty/propsearch/pkg/ingest"
	"github.com/hybridrealty/propsearch/pkg/listingstore"
	"github.com/hybridrealty/propsearch/pkg/logging"
	"github.com/hybridrealty/propsearch/pkg/orchestrator"
	"github.com/hybridrealty/propsearch/pkg/providers"
	"github.com/hybridrealty/propsearch/pkg/query"
	"github.com/hybridrealty/propsearch/pkg/retrieval"
	"github.com/hybridrealty/propsearch/pkg/styleset"
	"github.com/hybridrealty/propsearch/pkg/vision"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "propsearchd",
	Short: "Hybrid multimodal property search engine",
	Long:  "propsearchd indexes real estate listings and serves hybrid lexical/semantic/visual search over them.",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or verify the listing and cache databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		store, err := listingstore.Open(ctx, storeConfig(cfg), log)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		defer store.Close()

		c, err := cache.Open(ctx, cfg.Cache.Path, log)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		defer c.Close()

		fmt.Printf("initialized listing store at %s and cache at %s\n", cfg.Store.Path, cfg.Cache.Path)
		return nil
	},
}

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest raw listings from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestFile == "" {
			return fmt.Errorf("ingest: --file is required")
		}
		cfg, log, err := loadApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		raw, err := os.ReadFile(ingestFile)
		if err != nil {
			return fmt.Errorf("ingest: read %s: %w", ingestFile, err)
		}
		var listings []ingest.RawListing
		if err := json.Unmarshal(raw, &listings); err != nil {
			return fmt.Errorf("ingest: parse %s: %w", ingestFile, err)
		}

		orch, closeFn, err := buildOrchestrator(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeFn()

		result := orch.IngestBatch(ctx, listings, cfg.Ingest.ChunkSize)
		fmt.Printf("ingested %d listings, %d failed\n", result.Succeeded, len(result.Failed))
		for _, zpid := range result.Failed {
			fmt.Printf("  failed: %s\n", zpid)
		}
		return nil
	},
}

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a search query against the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		orch, closeFn, err := buildOrchestrator(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeFn()

		resp, err := orch.Search(ctx, args[0], searchLimit)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the in-memory vector indices from durable storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		// listingstore.Open already rebuilds both HNSW graphs from the
		// listings/listing_images tables on every open, so reindexing
		// is just re-opening the store.
		store, err := listingstore.Open(ctx, storeConfig(cfg), log)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		defer store.Close()

		fmt.Println("vector indices rebuilt from durable storage")
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the embedding cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache hit economics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		c, err := cache.Open(ctx, cfg.Cache.Path, log)
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("image records: %d\ntext records: %d\nestimated cost saved: %.4f\n",
			stats.ImageRecords, stats.TextRecords, stats.CostSaved)
		return nil
	},
}

func loadApp() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	level := logging.LevelInfo
	if cfg.App.Debug {
		level = logging.LevelDebug
	}
	return cfg, logging.NewStd(level), nil
}

func storeConfig(cfg *config.Config) listingstore.Config {
	return listingstore.Config{
		Path:             cfg.Store.Path,
		EmbeddingModelID: cfg.Models.EmbeddingModelID,
		VectorDim:        cfg.Models.VectorDim,
		HNSWM:            cfg.Store.HNSWM,
		HNSWEfConstr:     cfg.Store.HNSWEfConstr,
		HNSWEfSearch:     cfg.Store.HNSWEfSearch,
		QuantizeVectors:  cfg.Store.QuantizeVectors,
	}
}

// buildOrchestrator wires every component from the loaded configuration.
// It returns a close function that releases the database handles it
// opened; callers must defer it.
func buildOrchestrator(ctx context.Context, cfg *config.Config, log logging.Logger) (*orchestrator.Orchestrator, func(), error) {
	store, err := listingstore.Open(ctx, storeConfig(cfg), log)
	if err != nil {
		return nil, nil, err
	}

	embedCache, err := cache.Open(ctx, cfg.Cache.Path, log)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	embedClient := modelclient.New(cfg.Models.EmbeddingEndpoint, cfg.Models.EmbeddingAPIKey, cfg.Timeouts.Embed)
	provider := providers.New(cfg.Models.EmbeddingModelID, cfg.Models.VectorDim, embedClient, embedClient, embedCache, log)

	// Vision analysis and query understanding may be backed by the
	// plain HTTP model contract or, when configured, directly by the
	// Gemini SDK (internal/modelclient.GenaiClient). Image and text
	// embedding always use the HTTP endpoints above: the Gemini
	// embedding model is text-only, so it cannot serve I9's single
	// shared-space vector model (see DESIGN.md).
	var (
		visionClient vision.ModelClient
		queryClient  query.LLMClassifier
	)
	switch cfg.Models.VisionQueryProvider {
	case "gemini":
		genaiClient, err := modelclient.NewGenai(ctx, cfg.Models.GeminiAPIKey, cfg.Models.VisionModelID, cfg.Models.QueryModelID, "")
		if err != nil {
			store.Close()
			embedCache.Close()
			return nil, nil, fmt.Errorf("buildOrchestrator: %w", err)
		}
		visionClient, queryClient = genaiClient, genaiClient
	default:
		visionClient = modelclient.New(cfg.Models.VisionEndpoint, cfg.Models.VisionAPIKey, cfg.Timeouts.Vision)
		if cfg.Models.QueryEndpoint != "" {
			queryClient = modelclient.New(cfg.Models.QueryEndpoint, cfg.Models.QueryAPIKey, cfg.Timeouts.Search)
		}
	}
	analyzer := vision.New(visionClient, cfg.Models.VisionModelID, log)

	downloader := modelclient.NewDownloader(cfg.Timeouts.ImageDownload)
	pipeline := ingest.New(downloader, provider, analyzer, cfg.Ingest.ImageConcurrency, log)

	styles := styleset.New()
	understander := query.New(queryClient, styles, log)

	retriever := retrieval.New(store, retrieval.Timeouts{Search: cfg.Timeouts.Search}, log)

	events, err := analytics.Open(ctx, cfg.Analytics.Path, cfg.Analytics.TTL, log)
	if err != nil {
		store.Close()
		embedCache.Close()
		return nil, nil, err
	}

	orch := orchestrator.New(orchestrator.Config{
		Store: store, Provider: provider, Understand: understander,
		Retriever: retriever, Ingest: pipeline, Events: events,
		DefaultLimit: cfg.Search.DefaultLimit, MaxLimit: cfg.Search.MaxLimit,
	}, log)

	closeFn := func() {
		store.Close()
		embedCache.Close()
		events.Close()
	}
	return orch, closeFn, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a JSON file of raw listings")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "max results (defaults to configured search.default_limit)")

	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(initCmd, ingestCmd, searchCmd, reindexCmd, cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
