/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"gpudeploy/internal/config"
	"gpudeploy/internal/logging"
	"gpudeploy/internal/record"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [instance-id]",
	Short: "Show provisioned instances, or live status for one",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		store := record.NewStore(cfg.DataDir)

		if len(args) == 0 {
			records, err := store.List()
			if err != nil {
				fatal("Failed to list instance records", err)
			}
			if len(records) == 0 {
				fmt.Println("No provisioned instances on record.")
				return
			}
			for _, rec := range records {
				fmt.Printf("- %s  %-20s %-22s %-10s %s\n", rec.ID, rec.Label, rec.Type, rec.Region, rec.IP)
			}
			return
		}

		id := args[0]
		rec, err := store.Load(id)
		if err != nil {
			logging.Logger().Fatal("No record for instance", zap.String("instance_id", id), zap.Error(err))
		}

		client, _ := acquireClient(cmd.Context(), cfg, true)
		inst, err := client.GetInstance(cmd.Context(), id)
		if err != nil {
			fatal("Failed to query instance status", err)
		}

		fmt.Printf("Instance: %s (%s)\n", rec.ID, rec.Label)
		fmt.Printf("Status:   %s\n", inst.Status)
		fmt.Printf("Region:   %s\n", rec.Region)
		fmt.Printf("Type:     %s\n", rec.Type)
		fmt.Printf("IP:       %s\n", rec.IP)
		fmt.Printf("Created:  %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
