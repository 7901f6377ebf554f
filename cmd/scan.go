package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/internal/scan"
)

var (
	scanName    string
	scanAddress string
	scanCity    string
	scanCuisine string
	scanWebsite string
	scanPlaceID string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan inline, without the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if scanName == "" {
			return eris.New("--name is required")
		}
		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sc, err := st.CreateScan(ctx, model.BusinessInput{
			BusinessName: scanName,
			Address:      scanAddress,
			City:         scanCity,
			Cuisine:      scanCuisine,
			Website:      scanWebsite,
		})
		if err != nil {
			return eris.Wrap(err, "create scan")
		}

		processor := scan.NewProcessor(st, initGateway())
		if err := processor.Process(ctx, model.ScanJob{
			ScanID:        sc.ID,
			BusinessInput: sc.BusinessInput,
			PlaceID:       scanPlaceID,
			City:          scanCity,
			Cuisine:       scanCuisine,
		}); err != nil {
			return eris.Wrap(err, "process scan")
		}

		result, err := st.GetScan(ctx, sc.ID)
		if err != nil {
			return eris.Wrap(err, "load scan result")
		}

		zap.L().Info("scan finished",
			zap.String("scan_id", result.ID),
			zap.String("status", string(result.Status)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanName, "name", "", "business name (required)")
	scanCmd.Flags().StringVar(&scanAddress, "address", "", "street address")
	scanCmd.Flags().StringVar(&scanCity, "city", "", "city used for place resolution")
	scanCmd.Flags().StringVar(&scanCuisine, "cuisine", "", "cuisine or category hint")
	scanCmd.Flags().StringVar(&scanWebsite, "website", "", "business website")
	scanCmd.Flags().StringVar(&scanPlaceID, "place-id", "", "skip resolution and use this Google place ID")
	rootCmd.AddCommand(scanCmd)
}
