package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"catsearch/internal/batch"
	"catsearch/internal/maintenance"
	"catsearch/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP search API",
	Long: `Build or load the index and serve the JSON API: search, batch runs
with WebSocket progress, status, health and rebuild. Background
maintenance (scheduled corpus refresh and history upkeep) runs inside
the same process when configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides the config file)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	if err := eng.Initialize(ctx, false); err != nil {
		return fmt.Errorf("index build failed: %w", err)
	}

	adv := newAdvisor(cfg)
	hist := openHistory(cfg)
	if hist != nil {
		defer hist.Close()
	}

	refresher := maintenance.New(eng, cfg.CSVPath, cfg.Maintenance.RefreshSchedule)
	if err := refresher.Start(); err != nil {
		return err
	}
	defer refresher.Stop()

	if hist != nil {
		runner := maintenance.NewRunner(cfg.Maintenance.UpkeepSchedule,
			maintenance.NewHistoryCleanupTask(hist.DB(), cfg.Maintenance.HistoryRetentionDays),
			maintenance.NewOptimizeTask(hist.DB(), hist.Path()),
		)
		if err := runner.Start(); err != nil {
			return err
		}
		defer runner.Stop()
	}

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, eng, batch.New(eng, adv), adv, hist)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}
