package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"catsearch/internal/advisor"
	"catsearch/internal/engine"
	"catsearch/internal/export"
	"catsearch/internal/history"
)

var (
	searchTopK   int
	searchUseAI  bool
	searchExport string
)

var searchCmd = &cobra.Command{
	Use:   "search [consulta]",
	Short: "Search the catalog for the closest items",
	Long: `Embed a free-text query and print the top-k closest catalog items by
semantic similarity. With --ai, a generated analysis of the ranking is
printed after the results. --export saves the result set under the
configured results directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := eng.Initialize(ctx, false); err != nil {
			return fmt.Errorf("index build failed: %w", err)
		}

		start := time.Now()
		results, err := eng.Search(ctx, query, searchTopK)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		took := time.Since(start)

		printResults(query, results, took)

		if hist := openHistory(cfg); hist != nil {
			defer hist.Close()
			recordSearch(hist, query, searchTopK, results, took)
		}

		recommendation := ""
		if searchUseAI {
			recommendation = recommend(newAdvisor(cfg), query, results)
		}

		if searchExport != "" {
			exp := export.New(cfg.ResultsDir)
			var path string
			switch searchExport {
			case "csv":
				path, err = exp.SearchCSV(results, nil)
			case "json":
				path, err = exp.SearchJSON(results, recommendation)
			default:
				return fmt.Errorf("unknown export format %q (want csv or json)", searchExport)
			}
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Printf("\nSalvo em: %s\n", path)
		}

		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", engine.DefaultTopK, "number of results")
	searchCmd.Flags().BoolVar(&searchUseAI, "ai", false, "generate a ranking analysis")
	searchCmd.Flags().StringVar(&searchExport, "export", "", "save results as csv or json")
	rootCmd.AddCommand(searchCmd)
}

// printResults writes scored matches to stdout
func printResults(query string, results []engine.Result, took time.Duration) {
	if len(results) == 0 {
		fmt.Printf("Nenhum resultado para %q.\n", query)
		return
	}

	fmt.Printf("Resultados para %q (%d em %s):\n\n", query, len(results), took.Round(time.Millisecond))
	for _, r := range results {
		fmt.Printf("%2d. %.3f  %s  %s\n", r.Rank, r.Score, r.Record.ItemCode, r.Record.Description)
		var meta []string
		if r.Record.ClassName != "" {
			meta = append(meta, r.Record.ClassName)
		}
		if r.Record.GroupName != "" {
			meta = append(meta, r.Record.GroupName)
		}
		if r.Record.NCMCode != "" {
			meta = append(meta, "NCM "+r.Record.NCMCode)
		}
		if len(meta) > 0 {
			fmt.Printf("           %s\n", strings.Join(meta, " | "))
		}
	}
}

// recommend prints the generated analysis, or why there is none
func recommend(adv *advisor.Advisor, query string, results []engine.Result) string {
	if len(results) == 0 {
		return ""
	}
	text, err := adv.Recommend(context.Background(), query, results)
	if err != nil {
		if errors.Is(err, advisor.ErrUnavailable) {
			fmt.Println("\n" + advisor.UnavailableMessage)
		} else {
			log.Printf("WARNING: AI recommendation failed: %v", err)
		}
		return ""
	}
	fmt.Printf("\nAnálise IA:\n%s\n", text)
	return text
}

// recordSearch logs a search into the history store
func recordSearch(hist *history.Store, query string, topK int, results []engine.Result, took time.Duration) {
	e := history.SearchEntry{
		Query:      query,
		TopK:       topK,
		Results:    len(results),
		DurationMS: took.Milliseconds(),
	}
	if len(results) > 0 {
		e.BestScore = float64(results[0].Score)
		e.BestItem = results[0].Record.ItemCode
	}
	if _, err := hist.RecordSearch(e); err != nil {
		log.Printf("WARNING: Failed to record search history: %v", err)
	}
}
