package main

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/blitzquote/rate-engine/internal/model"
	"github.com/blitzquote/rate-engine/internal/ratecache"
)

var (
	lookupState   string
	lookupZip     string
	lookupCounty  string
	lookupNAIC    string
	lookupAge     int
	lookupGender  string
	lookupTobacco bool
	lookupPlan    string
	lookupDate    string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up cached rates for one demographic and location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		asOf := model.EffectiveDates(time.Now(), 1)[0]
		if lookupDate != "" {
			asOf, err = model.ParseDate(lookupDate)
			if err != nil {
				return err
			}
		}

		rows, err := env.Cache.Lookup(ctx, ratecache.LookupQuery{
			State:  lookupState,
			Zip:    lookupZip,
			County: lookupCounty,
			NAIC:   lookupNAIC,
			Demographic: model.Demographic{
				Age:     lookupAge,
				Gender:  lookupGender,
				Tobacco: lookupTobacco,
				Plan:    lookupPlan,
			},
			AsOf: asOf,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupState, "state", "", "state code")
	lookupCmd.Flags().StringVar(&lookupZip, "zip", "", "ZIP code")
	lookupCmd.Flags().StringVar(&lookupCounty, "county", "", "county (resolved from ZIP when omitted)")
	lookupCmd.Flags().StringVar(&lookupNAIC, "naic", "", "carrier NAIC (default all selected)")
	lookupCmd.Flags().IntVar(&lookupAge, "age", 65, "age")
	lookupCmd.Flags().StringVar(&lookupGender, "gender", "M", "gender M or F")
	lookupCmd.Flags().BoolVar(&lookupTobacco, "tobacco", false, "tobacco user")
	lookupCmd.Flags().StringVar(&lookupPlan, "plan", "G", "plan code")
	lookupCmd.Flags().StringVar(&lookupDate, "as-of", "", "as-of date YYYY-MM-DD (default next month)")
	_ = lookupCmd.MarkFlagRequired("state")
	_ = lookupCmd.MarkFlagRequired("zip")
	rootCmd.AddCommand(lookupCmd)
}
