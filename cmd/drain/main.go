// drain runs the indexer once until the queue is empty or the pass limit is reached, using the
// same ProcessAvailable path as the API server's ticker loops and POST /v1/indexing/drain.
// It prints the run summary as JSON and exits non-zero when it could not start.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pagewise/hub/internal/bootstrap"
	"github.com/pagewise/hub/internal/config"
	"github.com/pagewise/hub/internal/observability"
	"github.com/pagewise/hub/internal/worker"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

var errInProcessQueue = errors.New("QUEUE_BACKEND=memory holds no jobs outside the API process; nothing to drain")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("drain", flag.ContinueOnError)
	maxPasses := fs.Int("max-passes", 0, "maximum lease passes (0 uses the indexer default)")

	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := config.LoadForTool()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	slog.SetDefault(slog.New(observability.NewTraceContextHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)))

	if cfg.QueueBackend == config.BackendMemory {
		slog.Error("Cannot drain", "error", errInProcessQueue)

		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, nil)
	if err != nil {
		slog.Error("Failed to open backends", "error", err)

		return exitFailure
	}
	defer backends.Close()

	indexerCfg := bootstrap.IndexerConfig(cfg)
	indexerCfg.DrainMaxPasses = *maxPasses

	indexer := worker.NewIndexer(worker.IndexerParams{
		Queue:           backends.Queue,
		Store:           backends.Store,
		EmbeddingClient: backends.Embedder,
		Limiter:         bootstrap.NewLimiter(cfg),
		Config:          indexerCfg,
	})

	stats := indexer.DrainNow(ctx, worker.TriggerCLI)

	slog.Info("Drain complete",
		"passes", stats.Passes,
		"indexed", stats.Indexed,
		"skipped", stats.Skipped,
		"cleared", stats.Cleared,
		"retried", stats.Retried,
		"poisoned", stats.Poisoned,
		"duration_ms", stats.Millis,
	)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(stats); err != nil {
		fmt.Fprintf(os.Stderr, "write summary: %v\n", err)

		return exitFailure
	}

	return exitSuccess
}
