package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/visibility-grader/internal/store"
)

var statusCompetitors bool

var statusCmd = &cobra.Command{
	Use:   "status <scan-id>",
	Short: "Print a scan's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sc, err := st.GetScan(ctx, args[0])
		if err != nil {
			if eris.Is(err, store.ErrScanNotFound) {
				return eris.Errorf("scan %s not found", args[0])
			}
			return eris.Wrap(err, "get scan")
		}

		out := struct {
			Scan        any `json:"scan"`
			Competitors any `json:"competitors,omitempty"`
		}{Scan: sc}

		if statusCompetitors {
			comps, err := st.ListCompetitors(ctx, sc.ID)
			if err != nil {
				return eris.Wrap(err, "list competitors")
			}
			out.Competitors = comps
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusCompetitors, "competitors", false, "include the captured competitor set")
	rootCmd.AddCommand(statusCmd)
}
