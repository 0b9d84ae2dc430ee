package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or load the search index",
	Long: `Load the catalog CSV, embed every item and build the HNSW index.
Existing artifacts are reused when they still match the corpus; --force
discards them and rebuilds from scratch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}

		if err := eng.Initialize(context.Background(), indexForce); err != nil {
			return fmt.Errorf("index build failed: %w", err)
		}

		st := eng.Status()
		fmt.Printf("Índice pronto: %d itens, %d dimensões (%s)\n", st.Items, st.Dimensions, st.Embedder)
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "rebuild even when cached artifacts exist")
	rootCmd.AddCommand(indexCmd)
}
