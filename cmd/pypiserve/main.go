// Command pypiserve runs a read-only PyPI "Simple" repository server over a
// local directory of wheels and sdists.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/skoslowski/pypiserve/internal/config"
	"github.com/skoslowski/pypiserve/internal/events"
	"github.com/skoslowski/pypiserve/internal/metrics"
	"github.com/skoslowski/pypiserve/internal/query"
	"github.com/skoslowski/pypiserve/internal/scanner"
	"github.com/skoslowski/pypiserve/internal/server"
	"github.com/skoslowski/pypiserve/internal/store"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "pypiserve",
		Short: "Serve a local directory of Python distributions as a Simple API repository",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config file overlaying ambient settings")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScanCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan pass over FILES_DIR and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanOnce()
		},
	}
}

func setup() (*config.Config, *store.Store, *scanner.Scanner, events.Publisher, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	config.ApplyLogging(cfg.Logging)

	if err := server.EnsureCacheDir(cfg.CacheDir); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating cache dir: %w", err)
	}

	idx, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("opening index store: %w", err)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Messaging.RabbitMQ.Enabled {
		pub, err := events.NewRabbitMQPublisher(cfg.Messaging.RabbitMQ.URL, cfg.Messaging.RabbitMQ.Exchange)
		if err != nil {
			log.Printf("pypiserve: messaging disabled, failed to connect: %v", err)
		} else {
			publisher = pub
		}
	}

	sc := &scanner.Scanner{
		FilesDir: cfg.FilesDir,
		CacheDir: cfg.CacheDir,
		Store:    idx,
	}

	return cfg, idx, sc, publisher, nil
}

func runServe(addr string) error {
	cfg, idx, sc, publisher, err := setup()
	if err != nil {
		return err
	}
	defer idx.Close()
	defer publisher.Close()

	var metricsService *metrics.Service
	if cfg.Metrics.Enabled {
		metricsService = metrics.NewService()
	}

	srv := &server.Server{
		Query:     &query.Engine{Store: idx},
		Revisions: idx,
		Scanner:   sc,
		Events:    publisher,
		Metrics:   metricsService,
		FilesDir:  cfg.FilesDir,
		CacheDir:  cfg.CacheDir,
		FilesURL:  cfg.FilesURL,
	}

	if _, err := sc.Scan(context.Background()); err != nil {
		log.Printf("pypiserve: initial scan failed: %v", err)
	}

	log.Printf("pypiserve: listening on %s, serving %s", addr, cfg.FilesDir)
	return srv.Router().Run(addr)
}

func runScanOnce() error {
	_, idx, sc, publisher, err := setup()
	if err != nil {
		return err
	}
	defer idx.Close()
	defer publisher.Close()

	stats, err := sc.Scan(context.Background())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	log.Printf("pypiserve: scan complete: %d distributions, %d projects, %d indexes",
		stats.Distributions, stats.DistinctProjects, stats.DistinctIndexes)
	return nil
}
