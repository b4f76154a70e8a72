package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/brojonat/walletcore/service/metrics"
)

const defaultMaxConcurrentRefreshes = 10

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// MaxConcurrentRefreshes bounds the RefreshWallet activities running at
	// once, and so the provider load of one worker. Zero means 10.
	MaxConcurrentRefreshes int

	Wallets WalletSource
	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger
}

// Worker runs the wallet refresh workflow and activity on one task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Wallets == nil {
		return nil, fmt.Errorf("wallet source is required")
	}
	concurrency := config.MaxConcurrentRefreshes
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrentRefreshes
	}

	logger := config.Logger.With("component", "temporal_worker", "task_queue", config.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		// A refresh in flight at shutdown gets this long to finish.
		WorkerStopTimeout: 30 * time.Second,
	})
	w.RegisterWorkflow(RefreshWalletWorkflow)
	w.RegisterActivity(NewActivities(config.Wallets, config.Metrics, logger).RefreshWallet)

	logger.Info("temporal worker created",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"max_concurrent_refreshes", concurrency,
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Run processes refreshes until ctx is done, then stops the worker and
// closes the Temporal client.
func (w *Worker) Run(ctx context.Context) error {
	defer w.client.Close()

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	w.logger.Info("starting temporal worker")
	if err := w.worker.Run(stop); err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped gracefully")
	return nil
}
