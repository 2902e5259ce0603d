package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var integrityRepair bool

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Check referential integrity of the rate store",
	Long:  "Reports empty regions, rate rows referencing missing regions, and success records with no rate rows behind them. With --repair, orphan success records are deleted so the next build reruns those units.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Store.CheckIntegrity(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}

		if integrityRepair && len(report.OrphanRecords) > 0 {
			removed, err := env.Store.RepairOrphans(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("removed %d orphan processing records\n", removed)
		}
		return nil
	},
}

func init() {
	integrityCmd.Flags().BoolVar(&integrityRepair, "repair", false, "delete orphan success records")
	rootCmd.AddCommand(integrityCmd)
}
