package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"catsearch/internal/advisor"
	"catsearch/internal/config"
	"catsearch/internal/embed"
	"catsearch/internal/engine"
	"catsearch/internal/history"
	"catsearch/internal/version"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "catsearch",
	Short: "Busca semântica no catálogo de materiais Catmat",
	Long: `catsearch indexa o catálogo de materiais Catmat com embeddings e
responde consultas em linguagem natural com os itens mais próximos
por similaridade semântica.

Pode rodar como comando único (index, search, batch), como servidor
HTTP (serve) ou como cliente interativo de terminal (tui).`,
	Version: version.Full(),
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("catsearch %s\n", version.Full())
		buildInfo := version.GetBuildInfo()

		if buildInfo.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", buildInfo.GitCommit)
		}
		if buildInfo.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", buildInfo.BuildDate)
		}
		fmt.Printf("Go version: %s\n", buildInfo.GoVersion)

		return nil
	},
}

func init() {
	cobra.OnInitialize(initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Verbose logging enabled")
	}
}

// loadConfig loads and validates the configuration file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newEmbedder builds the embedding backend selected by the config
func newEmbedder(cfg *config.Config) embed.Embedder {
	if cfg.Embedding.Provider == "hash" {
		return embed.NewHashing(cfg.Embedding.Dimensions)
	}
	return embed.NewRemote(embed.RemoteConfig{
		URL:        cfg.Embedding.URL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.ModelName,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
}

// buildEngine assembles the search engine from the config, without
// loading or building any artifacts yet
func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	eng, err := engine.New(engine.Config{
		CSVPath:            cfg.CSVPath,
		EmbeddingsPath:     cfg.EmbeddingsPath,
		IndexPath:          cfg.IndexPath,
		HNSWM:              cfg.HNSWM,
		HNSWEfConstruction: cfg.HNSWEfConstruction,
		HNSWEfSearch:       cfg.HNSWEfSearch,
		NWorkers:           cfg.NWorkers,
		BatchSize:          cfg.BatchSize,
	}, newEmbedder(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return eng, nil
}

// newAdvisor builds the AI advisor; it reports unavailable when no API
// key is configured
func newAdvisor(cfg *config.Config) *advisor.Advisor {
	return advisor.New(advisor.Config{
		APIKey:      cfg.Advisor.APIKey,
		Model:       cfg.Advisor.Model,
		URL:         cfg.Advisor.URL,
		MaxTokens:   cfg.Advisor.MaxTokens,
		Temperature: cfg.Advisor.Temperature,
	})
}

// openHistory opens the search history store. History is optional, so a
// failure only logs and the caller gets nil.
func openHistory(cfg *config.Config) *history.Store {
	if cfg.HistoryPath == "" {
		return nil
	}
	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		log.Printf("WARNING: Could not open history database: %v", err)
		return nil
	}
	return hist
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
