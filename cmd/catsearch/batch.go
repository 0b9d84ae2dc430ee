package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"catsearch/internal/batch"
	"catsearch/internal/engine"
	"catsearch/internal/export"
	"catsearch/internal/history"
	"catsearch/internal/report"
)

var (
	batchFile   string
	batchTopK   int
	batchUseAI  bool
	batchReport string
	batchExport string
)

var batchCmd = &cobra.Command{
	Use:   "batch [itens...]",
	Short: "Search a list of items in one run",
	Long: `Run every item through the search pipeline, collecting the top-k
matches per item. Items come from the arguments or, with --file, from
a text file (one per line, #-comments skipped) or a YAML request: a
plain list, or a "queries:" list with optional top_k and use_ai
defaults. Explicit flags override the file's defaults.

A failed item never aborts the run; it shows up as an error row in the
output. --report prints a run summary and --export saves the full
result set under the configured results directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		items, fileReq, err := readRequest(args, batchFile)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("no items given (pass them as arguments or via --file)")
		}

		topK := batchTopK
		useAI := batchUseAI
		if fileReq != nil {
			if fileReq.TopK > 0 && !cmd.Flags().Changed("top-k") {
				topK = fileReq.TopK
			}
			if fileReq.UseAI != nil && !cmd.Flags().Changed("ai") {
				useAI = *fileReq.UseAI
			}
		}

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

		proc := batch.New(eng, newAdvisor(cfg))
		run, err := proc.Process(ctx, items, batch.Options{
			TopK:  topK,
			UseAI: useAI,
			Progress: func(done, total int, item string) {
				fmt.Printf("(%d/%d) %s\n", done, total, item)
			},
		})
		if err != nil {
			return fmt.Errorf("batch failed: %w", err)
		}

		fmt.Printf("\nConcluído: %d itens, %d com resultado, %d com erro.\n",
			len(run.Items), run.Succeeded, run.Failed)

		if hist := openHistory(cfg); hist != nil {
			defer hist.Close()
			recordBatch(hist, run, useAI)
		}

		if batchReport != "" {
			text, err := report.Render(run, report.Format(batchReport))
			if err != nil {
				return err
			}
			fmt.Printf("\n%s\n", text)
		}

		if batchExport != "" {
			exp := export.New(cfg.ResultsDir)
			var path string
			switch batchExport {
			case "csv":
				path, err = exp.BatchCSV(run, "", nil)
			case "json":
				path, err = exp.BatchJSON(run, "")
			case "special":
				path, err = exp.SpecialCSV(run, "")
			default:
				return fmt.Errorf("unknown export format %q (want csv, json or special)", batchExport)
			}
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Printf("Salvo em: %s\n", path)
		}

		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "read items from a text or YAML request file")
	batchCmd.Flags().IntVarP(&batchTopK, "top-k", "k", engine.DefaultTopK, "results per item")
	batchCmd.Flags().BoolVar(&batchUseAI, "ai", false, "generate a per-item ranking analysis")
	batchCmd.Flags().StringVar(&batchReport, "report", "", "print a run report: text, markdown or html")
	batchCmd.Flags().StringVar(&batchExport, "export", "", "save the run as csv, json or special")
	rootCmd.AddCommand(batchCmd)
}

// readRequest merges items from the argument list and the optional
// request file. The file's top_k/use_ai come back so the caller can
// apply them when the flags were not set explicitly.
func readRequest(args []string, path string) ([]string, *batch.Request, error) {
	items := make([]string, 0, len(args))
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			items = append(items, a)
		}
	}

	if path == "" {
		return items, nil, nil
	}
	req, err := batch.ParseRequestFile(path)
	if err != nil {
		return nil, nil, err
	}
	return append(items, req.Items...), req, nil
}

// recordBatch logs a batch run into the history store
func recordBatch(hist *history.Store, run *batch.Run, usedAI bool) {
	err := hist.RecordBatch(history.BatchEntry{
		ID:         run.ID,
		Items:      len(run.Items),
		Results:    len(run.Results),
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		UsedAI:     usedAI,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	})
	if err != nil {
		log.Printf("WARNING: Failed to record batch history: %v", err)
	}
}
