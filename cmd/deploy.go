/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"time"

	"gpudeploy/internal/catalog"
	"gpudeploy/internal/config"
	"gpudeploy/internal/control"
	"gpudeploy/internal/logging"
	"gpudeploy/internal/monitor"
	"gpudeploy/internal/notify"
	"gpudeploy/internal/provision"
	"gpudeploy/internal/record"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	deployRegion string
	deployType   string
	deployLabel  string
	deployModel  string
	deployYes    bool
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision a GPU instance and supervise the stack bring-up",
	Long: `Acquire credentials, fetch the availability catalog, provision a GPU
instance with the inference stack embedded in its boot configuration,
and monitor the deployment until both services answer.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		runDeploy(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringVar(&deployRegion, "region", "", "Region ID (prompted when omitted)")
	deployCmd.Flags().StringVar(&deployType, "type", "", "Instance type ID (prompted when omitted)")
	deployCmd.Flags().StringVar(&deployLabel, "label", "", "Instance label (generated when omitted)")
	deployCmd.Flags().StringVar(&deployModel, "model", "", "Model identifier to deploy")
	deployCmd.Flags().BoolVarP(&deployYes, "yes", "y", false, "Non-interactive: no prompts, no browser flow")
}

func runDeploy(ctx context.Context, cfg *config.Config) {
	client, _ := acquireClient(ctx, cfg, deployYes)

	cat, err := catalog.Fetch(ctx, client, cfg.GPUFamily)
	if err != nil {
		fatal("Failed to build availability catalog", err)
	}

	region, typeID := selectPlacement(cat, cfg)
	model := cfg.Model
	if deployModel != "" {
		model = deployModel
	}

	label := deployLabel
	if label == "" {
		label = fmt.Sprintf("gpudeploy-%s", uuid.NewString()[:8])
	}

	authorizedKey := resolveAuthorizedKey()

	typ, _ := cat.TypeByID(typeID)
	if !deployYes {
		confirmed := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Create %s in %s ($%.2f/h, $%.0f/mo)?", typeID, region, typ.PriceHourly, typ.PriceMonthly)).
				Description("This allocates a billable resource.").
				Value(&confirmed),
		))
		if err := form.Run(); err != nil || !confirmed {
			logging.Logger().Fatal("Deployment canceled before any billable action")
		}
	}

	store := record.NewStore(cfg.DataDir)
	provisioner := provision.NewProvisioner(client, store)

	rec, err := provisioner.Provision(ctx, cat, provision.Request{
		Region:        region,
		Type:          typeID,
		Label:         label,
		Image:         cfg.DefaultImage,
		Model:         model,
		AuthorizedKey: authorizedKey,
		NotifyServer:  cfg.NotifyServer,
		APIPort:       cfg.APIPort,
		UIPort:        cfg.UIPort,
	})
	if err != nil {
		fatal("Provisioning failed", err)
	}

	if rec.IP == "" {
		// The create response carried no address; query it again before
		// the reachability phase needs one.
		inst, err := client.GetInstance(ctx, rec.ID)
		if err == nil && len(inst.IPv4) > 0 {
			rec.IP = inst.IPv4[0]
		}
	}

	remoteFactory := func(host, password string) (monitor.RemoteRunner, error) {
		return control.NewController(control.Config{
			Host:         host,
			User:         cfg.SSHUser,
			Password:     password,
			SSHTimeout:   30 * time.Second,
			InstanceName: label,
		})
	}

	mon := monitor.New(client, notify.NewHTTPSubscriber(cfg.NotifyServer), remoteFactory)

	report, err := mon.Run(ctx, monitor.DeploymentContext{
		Record:  rec,
		Model:   model,
		Topic:   provision.NotifyTopic(label),
		APIPort: cfg.APIPort,
		UIPort:  cfg.UIPort,
		Budgets: budgetsFromConfig(cfg),
	})
	printReport(report)

	if err != nil {
		offerRemediation(ctx, provisioner, rec)
		fatal("Deployment failed", err)
	}

	fmt.Printf("\nDeployment complete.\n")
	fmt.Printf("  Instance: %s (%s, %s)\n", rec.ID, rec.Label, rec.IP)
	fmt.Printf("  Chat UI:  http://%s:%d/\n", rec.IP, cfg.UIPort)
	fmt.Printf("  API:      http://%s:%d/\n", rec.IP, cfg.APIPort)
	if len(report.Warnings) > 0 {
		fmt.Printf("\nCompleted with %d warning(s): a service may still be starting. See above for re-check commands.\n", len(report.Warnings))
	}
}

// selectPlacement resolves region and type from flags, config defaults,
// or an interactive picker.
func selectPlacement(cat *catalog.Catalog, cfg *config.Config) (string, string) {
	region := deployRegion
	if region == "" {
		region = cfg.DefaultRegion
	}
	typeID := deployType
	if typeID == "" {
		typeID = cfg.DefaultType
	}

	if region != "" && typeID != "" {
		return region, typeID
	}
	if deployYes {
		logging.Logger().Fatal("Region and type are required in non-interactive mode",
			zap.String("region", region), zap.String("type", typeID))
	}

	if region == "" {
		var options []huh.Option[string]
		for _, r := range cat.Regions {
			options = append(options, huh.NewOption(fmt.Sprintf("%s (%s)", r.Label, r.ID), r.ID))
		}
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().Title("Region").Options(options...).Value(&region),
		))
		if err := form.Run(); err != nil {
			logging.Logger().Fatal("Region selection canceled", zap.Error(err))
		}
	}

	if typeID == "" {
		var options []huh.Option[string]
		for _, t := range cat.Types {
			if !cat.Available(region, t.ID) {
				continue
			}
			options = append(options, huh.NewOption(
				fmt.Sprintf("%s: %d GPU, %d vCPU, %d MB ($%.2f/h)", t.ID, t.GPUCount, t.VCPUs, t.MemoryMB, t.PriceHourly),
				t.ID))
		}
		if len(options) == 0 {
			logging.Logger().Fatal("No instance types available in selected region", zap.String("region", region))
		}
		form := huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().Title("Instance type").Options(options...).Value(&typeID),
		))
		if err := form.Run(); err != nil {
			logging.Logger().Fatal("Instance type selection canceled", zap.Error(err))
		}
	}

	return region, typeID
}

// resolveAuthorizedKey discovers a local public key. Absence degrades to
// password-only access; interactive runs get to veto that.
func resolveAuthorizedKey() string {
	key, err := provision.FindAuthorizedKey()
	if err == nil {
		return key
	}

	logging.Logger().Warn("no SSH public key found; instance will be password-only", zap.Error(err))
	if deployYes {
		return ""
	}

	proceed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("No SSH public key found. Continue with password-only access?").
			Value(&proceed),
	))
	if err := form.Run(); err != nil || !proceed {
		logging.Logger().Fatal("Deployment canceled: no SSH key and password-only access declined")
	}
	return ""
}

// offerRemediation asks whether to delete the half-provisioned instance
// after a fatal monitoring failure. Declining leaves it running with its
// coordinates printed for manual handling.
func offerRemediation(ctx context.Context, provisioner *provision.Provisioner, rec *record.Record) {
	if deployYes {
		fmt.Printf("Instance %s (%s) left running for manual handling.\n", rec.ID, rec.IP)
		return
	}

	remove := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete the half-provisioned instance %s?", rec.ID)).
			Description("Declining leaves it running (and billing).").
			Value(&remove),
	))
	if err := form.Run(); err != nil || !remove {
		fmt.Printf("Instance %s (%s) left running for manual handling.\n", rec.ID, rec.IP)
		return
	}

	if err := provisioner.Destroy(ctx, rec.ID); err != nil {
		logging.Logger().Error("Failed to delete instance", zap.Error(err))
		return
	}
	fmt.Printf("Instance %s deleted.\n", rec.ID)
}

func budgetsFromConfig(cfg *config.Config) monitor.Budgets {
	return monitor.Budgets{
		BootTimeout:      cfg.Phases.BootTimeout.Std(),
		BootPoll:         cfg.Phases.BootPoll.Std(),
		InstallFirstMsg:  cfg.Phases.InstallFirstMsg.Std(),
		InstallCeiling:   cfg.Phases.InstallCeiling.Std(),
		ReachTimeout:     cfg.Phases.ReachTimeout.Std(),
		ReachPoll:        cfg.Phases.ReachPoll.Std(),
		UIHealthTimeout:  cfg.Phases.UIHealthTimeout.Std(),
		ModelLoadTimeout: cfg.Phases.ModelLoadTimeout.Std(),
		HealthPoll:       cfg.Phases.HealthPoll.Std(),
	}
}
