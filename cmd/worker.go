package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/visibility-grader/internal/queue"
	"github.com/sells-group/visibility-grader/internal/scan"
	"github.com/sells-group/visibility-grader/internal/server"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume scan jobs from the queue and serve the ops API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rdb, err := initRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close()

		processor := scan.NewProcessor(st, initGateway())

		concurrency := workerConcurrency
		if concurrency == 0 {
			concurrency = cfg.Worker.Concurrency
		}

		consumer := queue.NewConsumer(rdb, processor.Process, queue.ConsumerOptions{
			Stream:      cfg.Queue.Stream,
			Group:       cfg.Queue.Group,
			Block:       time.Duration(cfg.Queue.BlockSecs) * time.Second,
			MinIdle:     time.Duration(cfg.Queue.MinIdleSecs) * time.Second,
			Concurrency: concurrency,
		})

		srv := server.New(st, cfg.Server.AllowedOrigins)

		zap.L().Info("worker starting",
			zap.String("stream", cfg.Queue.Stream),
			zap.String("group", cfg.Queue.Group),
			zap.Int("concurrency", concurrency),
			zap.Int("port", cfg.Server.Port),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.Server.Port))
		})
		return g.Wait()
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "concurrent scans (default from config)")
	rootCmd.AddCommand(workerCmd)
}
