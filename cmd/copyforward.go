package main

import (
	"github.com/spf13/cobra"

	"github.com/blitzquote/rate-engine/internal/model"
)

var copyForwardNAIC string

var copyForwardCmd = &cobra.Command{
	Use:   "copy-forward <state> <from-date> <to-date>",
	Short: "Copy a state's rates to a later effective date",
	Long:  "Duplicates rate rows from one effective date to a later one, for months where no new filing occurred. Existing rows at the target date are left alone.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from, err := model.ParseDate(args[1])
		if err != nil {
			return err
		}
		to, err := model.ParseDate(args[2])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.CopyForward(ctx, args[0], copyForwardNAIC, from, to)
		if err != nil {
			return err
		}
		cmd.Printf("copied %d rows from %s to %s\n", n, args[1], args[2])
		return nil
	},
}

func init() {
	copyForwardCmd.Flags().StringVar(&copyForwardNAIC, "naic", "", "limit the copy to one carrier")
	rootCmd.AddCommand(copyForwardCmd)
}
