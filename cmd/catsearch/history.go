package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"catsearch/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded searches and batch runs",
	Long:  `Show the search and batch history recorded in the local SQLite database.`,
}

var historySearchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "List recent searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := mustHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		entries, err := hist.RecentSearches(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Nenhuma busca registrada.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QUANDO\tCONSULTA\tRESULTADOS\tMELHOR ITEM\tSCORE\tMS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.3f\t%d\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Query, e.Results, e.BestItem, e.BestScore, e.DurationMS)
		}
		return w.Flush()
	},
}

var historyBatchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recent batch runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := mustHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		entries, err := hist.RecentBatches(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Nenhum lote registrado.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "QUANDO\tID\tITENS\tOK\tERRO\tIA")
		for _, e := range entries {
			ai := "não"
			if e.UsedAI {
				ai = "sim"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				e.StartedAt.Format("2006-01-02 15:04"), e.ID, e.Items, e.Succeeded, e.Failed, ai)
		}
		return w.Flush()
	},
}

var historyTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the most repeated queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		hist, err := mustHistory()
		if err != nil {
			return err
		}
		defer hist.Close()

		queries, err := hist.TopQueries(historyLimit)
		if err != nil {
			return err
		}
		if len(queries) == 0 {
			fmt.Println("Nenhuma busca registrada.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONSULTA\tVEZES\tÚLTIMA")
		for _, q := range queries {
			fmt.Fprintf(w, "%s\t%d\t%s\n", q.Query, q.Count, q.LastUsed.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "n", 20, "maximum rows to show")
	historyCmd.AddCommand(historySearchesCmd)
	historyCmd.AddCommand(historyBatchesCmd)
	historyCmd.AddCommand(historyTopCmd)
	rootCmd.AddCommand(historyCmd)
}

// mustHistory opens the history store or explains why it cannot
func mustHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.HistoryPath == "" {
		return nil, fmt.Errorf("history is disabled (history_path is empty in %s)", cfgFile)
	}
	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return hist, nil
}
