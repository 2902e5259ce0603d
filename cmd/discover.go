package main

import (
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blitzquote/rate-engine/internal/model"
)

var (
	discoverState string
	discoverNAIC  string
	discoverDate  string
	discoverSave  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover a carrier's rating regions in a state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		date := model.FormatDate(model.EffectiveDates(time.Now(), 1)[0])
		if discoverDate != "" {
			if _, err := model.ParseDate(discoverDate); err != nil {
				return err
			}
			date = discoverDate
		}

		disc, err := env.Engine.Discover(ctx, discoverState, discoverNAIC, date)
		if err != nil {
			return err
		}

		if discoverSave && len(disc.Regions) > 0 {
			saved, err := env.Store.SaveRegions(ctx, disc.Regions)
			if err != nil {
				return err
			}
			disc.Regions = saved
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(disc)
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverState, "state", "", "state code")
	discoverCmd.Flags().StringVar(&discoverNAIC, "naic", "", "carrier NAIC code")
	discoverCmd.Flags().StringVar(&discoverDate, "effective-date", "", "probe effective date YYYY-MM-DD")
	discoverCmd.Flags().BoolVar(&discoverSave, "save", false, "persist discovered regions")
	_ = discoverCmd.MarkFlagRequired("state")
	_ = discoverCmd.MarkFlagRequired("naic")
	rootCmd.AddCommand(discoverCmd)
}
