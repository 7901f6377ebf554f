package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/internal/queue"
)

var (
	enqueueName    string
	enqueueAddress string
	enqueueCity    string
	enqueueCuisine string
	enqueueWebsite string
	enqueuePlaceID string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Create a scan and put it on the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if enqueueName == "" {
			return eris.New("--name is required")
		}
		if err := cfg.Validate("enqueue"); err != nil {
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

		sc, err := st.CreateScan(ctx, model.BusinessInput{
			BusinessName: enqueueName,
			Address:      enqueueAddress,
			City:         enqueueCity,
			Cuisine:      enqueueCuisine,
			Website:      enqueueWebsite,
		})
		if err != nil {
			return eris.Wrap(err, "create scan")
		}

		producer := queue.NewProducer(rdb, cfg.Queue.Stream)
		entryID, err := producer.Enqueue(ctx, model.ScanJob{
			ScanID:        sc.ID,
			BusinessInput: sc.BusinessInput,
			PlaceID:       enqueuePlaceID,
			City:          enqueueCity,
			Cuisine:       enqueueCuisine,
		})
		if err != nil {
			return eris.Wrap(err, "enqueue scan")
		}

		zap.L().Info("scan enqueued",
			zap.String("scan_id", sc.ID),
			zap.String("entry_id", entryID),
		)
		fmt.Println(sc.ID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueName, "name", "", "business name (required)")
	enqueueCmd.Flags().StringVar(&enqueueAddress, "address", "", "street address")
	enqueueCmd.Flags().StringVar(&enqueueCity, "city", "", "city used for place resolution")
	enqueueCmd.Flags().StringVar(&enqueueCuisine, "cuisine", "", "cuisine or category hint")
	enqueueCmd.Flags().StringVar(&enqueueWebsite, "website", "", "business website")
	enqueueCmd.Flags().StringVar(&enqueuePlaceID, "place-id", "", "skip resolution and use this Google place ID")
	rootCmd.AddCommand(enqueueCmd)
}
