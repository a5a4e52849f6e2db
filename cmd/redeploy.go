/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	"gpudeploy/internal/config"
	"gpudeploy/internal/control"
	"gpudeploy/internal/logging"
	"gpudeploy/internal/monitor"
	"gpudeploy/internal/notify"
	"gpudeploy/internal/provision"
	"gpudeploy/internal/record"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var redeployModel string

// redeployCmd represents the redeploy command
var redeployCmd = &cobra.Command{
	Use:   "redeploy <instance-id>",
	Short: "Push a refreshed service definition to an existing instance",
	Long: `Render the service definition again, upload it over SFTP, restart the
services, and re-run the service-health probes. Useful to switch the
model on a running instance without reprovisioning it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		id := args[0]
		store := record.NewStore(cfg.DataDir)
		rec, err := store.Load(id)
		if err != nil {
			logging.Logger().Fatal("No record for instance",
				zap.String("instance_id", id), zap.Error(err))
		}
		if rec.IP == "" {
			logging.Logger().Fatal("Record has no IP address; cannot reach the instance",
				zap.String("instance_id", id))
		}

		model := cfg.Model
		if redeployModel != "" {
			model = redeployModel
		}

		compose, err := provision.RenderCompose(provision.UserDataParams{
			Label:        rec.Label,
			Model:        model,
			NotifyServer: cfg.NotifyServer,
			Topic:        provision.NotifyTopic(rec.Label),
			APIPort:      cfg.APIPort,
			UIPort:       cfg.UIPort,
		})
		if err != nil {
			fatal("Failed to render service definition", err)
		}

		ctrl, err := control.NewController(control.Config{
			Host:         rec.IP,
			User:         cfg.SSHUser,
			Password:     rec.RootPassword,
			SSHTimeout:   30 * time.Second,
			InstanceName: rec.Label,
		})
		if err != nil {
			fatal("Failed to connect to instance", err)
		}
		defer ctrl.Close()

		if err := ctrl.WriteFile("/opt/gpudeploy/docker-compose.yml", compose, 0644); err != nil {
			fatal("Failed to upload service definition", err)
		}
		if _, err := ctrl.Run("cd /opt/gpudeploy && docker compose up -d --remove-orphans"); err != nil {
			fatal("Failed to restart services", err)
		}

		logging.Logger().Info("services restarted, probing health",
			zap.String("instance_id", rec.ID),
			zap.String("model", model))

		mon := monitor.New(nil, notify.NewHTTPSubscriber(cfg.NotifyServer), nil)
		report := mon.RunServiceHealth(cmd.Context(), monitor.DeploymentContext{
			Record:  rec,
			Model:   model,
			Topic:   provision.NotifyTopic(rec.Label),
			APIPort: cfg.APIPort,
			UIPort:  cfg.UIPort,
			Budgets: budgetsFromConfig(cfg),
		})
		printReport(report)

		fmt.Printf("Redeploy finished for %s (%s), model %s.\n", rec.ID, rec.IP, model)
	},
}

func init() {
	rootCmd.AddCommand(redeployCmd)

	redeployCmd.Flags().StringVar(&redeployModel, "model", "", "Model identifier to deploy (defaults to configured model)")
}
