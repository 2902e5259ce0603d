package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/blitzquote/rate-engine/internal/carriers"
	"github.com/blitzquote/rate-engine/internal/model"
)

var carriersCmd = &cobra.Command{
	Use:   "carriers",
	Short: "Manage the carrier selection",
}

var carriersImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a carrier selection sheet (CSV or XLSX)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		imported, err := carriers.ImportFile(args[0])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.SaveCarriers(ctx, imported); err != nil {
			return eris.Wrap(err, "save carriers")
		}
		cmd.Printf("imported %d carriers\n", len(imported))
		return nil
	},
}

var carriersListSelected bool

var carriersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known carriers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.Store.Carriers(ctx, carriersListSelected)
		if err != nil {
			return err
		}
		for _, c := range list {
			mark := " "
			if c.Selected {
				mark = "*"
			}
			cmd.Printf("%s %-8s cat=%d %s\n", mark, c.NAIC, c.Category, c.CompanyName)
		}
		return nil
	},
}

var carriersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the carrier directory from the quote source",
	Long:  "Fetches the source's company list and records carriers not yet known locally, unselected.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		companies, err := env.Source.Companies(ctx)
		if err != nil {
			return err
		}

		known := make(map[string]bool)
		existing, err := env.Store.Carriers(ctx, false)
		if err != nil {
			return err
		}
		for _, c := range existing {
			known[c.NAIC] = true
		}

		var fresh []model.CarrierInfo
		for _, c := range companies {
			if known[c.NAIC] {
				continue
			}
			fresh = append(fresh, model.CarrierInfo{
				NAIC:        c.NAIC,
				CompanyName: c.Name,
				Category:    carriers.MapCategory(""),
			})
		}
		if len(fresh) > 0 {
			if err := env.Store.SaveCarriers(ctx, fresh); err != nil {
				return eris.Wrap(err, "save carriers")
			}
		}
		cmd.Printf("%d carriers known, %d added\n", len(existing), len(fresh))
		return nil
	},
}

func init() {
	carriersListCmd.Flags().BoolVar(&carriersListSelected, "selected", false, "only selected carriers")
	carriersCmd.AddCommand(carriersImportCmd, carriersListCmd, carriersSyncCmd)
	rootCmd.AddCommand(carriersCmd)
}
