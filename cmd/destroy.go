/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"gpudeploy/internal/config"
	"gpudeploy/internal/logging"
	"gpudeploy/internal/provision"
	"gpudeploy/internal/record"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var destroyYes bool

// destroyCmd represents the destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy <instance-id>",
	Short: "Delete a provisioned instance and its local record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		id := args[0]
		store := record.NewStore(cfg.DataDir)
		rec, err := store.Load(id)
		if err != nil {
			logging.Logger().Fatal("No record for instance; refusing to delete blind",
				zap.String("instance_id", id), zap.Error(err))
		}

		if !destroyYes {
			confirmed := false
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete instance %s (%s, %s)?", rec.ID, rec.Label, rec.IP)).
					Value(&confirmed),
			))
			if err := form.Run(); err != nil || !confirmed {
				logging.Logger().Fatal("Destroy canceled")
			}
		}

		client, _ := acquireClient(cmd.Context(), cfg, destroyYes)
		provisioner := provision.NewProvisioner(client, store)
		if err := provisioner.Destroy(cmd.Context(), id); err != nil {
			fatal("Failed to destroy instance", err)
		}

		fmt.Printf("Instance %s deleted.\n", id)
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)

	destroyCmd.Flags().BoolVarP(&destroyYes, "yes", "y", false, "Skip confirmation")
}
