package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"catsearch/internal/engine"
	"catsearch/internal/tui"
)

var tuiTopK int

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive terminal search client",
	Long: `Launch a BubbleTea terminal UI for exploring the catalog. The index
is built or loaded first, then every query runs against the in-process
engine.

Key bindings:
  Enter           Search
  Tab             Toggle AI analysis
  Alt+Up/Down     Adjust top-k
  PgUp/PgDn       Scroll results
  Esc, Ctrl+C     Quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		if err := eng.Initialize(context.Background(), false); err != nil {
			return fmt.Errorf("index build failed: %w", err)
		}

		hist := openHistory(cfg)
		if hist != nil {
			defer hist.Close()
		}

		return tui.Run(tui.ModelConfig{
			Engine:  eng,
			Advisor: newAdvisor(cfg),
			History: hist,
			TopK:    tuiTopK,
		})
	},
}

func init() {
	tuiCmd.Flags().IntVarP(&tuiTopK, "top-k", "k", engine.DefaultTopK, "initial number of results")
	rootCmd.AddCommand(tuiCmd)
}
