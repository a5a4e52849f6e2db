/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"gpudeploy/internal/catalog"
	"gpudeploy/internal/config"
	"gpudeploy/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Show GPU instance types and where they can be created",
	Long: `Fetch and merge the availability data, the instance-type catalog and
the region catalog, and print GPU plans smallest-to-largest within
each GPU tier.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		client, _ := acquireClient(cmd.Context(), cfg, true)

		cat, err := catalog.Fetch(cmd.Context(), client, cfg.GPUFamily)
		if err != nil {
			fatal("Failed to build availability catalog", err)
		}

		fmt.Printf("Instance types (%s family):\n", cfg.GPUFamily)
		for _, t := range cat.Types {
			fmt.Printf("  %-26s %d GPU  %2d vCPU  %6d MB  $%.2f/h  $%.0f/mo\n",
				t.ID, t.GPUCount, t.VCPUs, t.MemoryMB, t.PriceHourly, t.PriceMonthly)
		}

		fmt.Println("\nRegions:")
		for _, r := range cat.Regions {
			fmt.Printf("  %-12s %-24s %d type(s) available\n", r.ID, r.Label, len(r.TypeIDs))
		}
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
