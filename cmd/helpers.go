package cmd

import (
	"context"

	"gpudeploy/internal/api"
	"gpudeploy/internal/auth"
	"gpudeploy/internal/config"
	"gpudeploy/internal/logging"
	"gpudeploy/internal/monitor"

	"go.uber.org/zap"
)

// acquireClient resolves a credential and returns an authenticated
// control-plane client.
func acquireClient(ctx context.Context, cfg *config.Config, nonInteractive bool) (*api.Client, *auth.Credential) {
	validate := func(ctx context.Context, token string) (string, error) {
		profile, err := api.NewClient(cfg.APIBaseURL, token).GetProfile(ctx)
		if err != nil {
			return "", err
		}
		return profile.Username, nil
	}

	provider := auth.NewProvider(cfg.AuthorizeURL, cfg.ClientID, cfg.CLIConfigPath, cfg.OAuthWait.Std(), validate)
	provider.NonInteractive = nonInteractive

	cred, err := provider.Acquire(ctx)
	if err != nil {
		fatal("Failed to acquire credentials", err)
	}

	logging.Logger().Info("authenticated",
		zap.String("username", cred.Username),
		zap.String("source", string(cred.Source)))

	return api.NewClient(cfg.APIBaseURL, cred.Token), cred
}

// fatal logs a fatal error, pointing the operator at the run log.
func fatal(msg string, err error) {
	fields := []zap.Field{zap.Error(err)}
	if path := logging.RunLogPath(); path != "" {
		fields = append(fields, zap.String("run_log", path))
	}
	logging.Logger().Fatal(msg, fields...)
}

// printReport prints phase outcomes and collected warnings.
func printReport(report *monitor.Report) {
	for _, res := range report.Results {
		logging.Logger().Info("phase result",
			zap.String("phase", res.Phase.String()),
			zap.String("outcome", string(res.Outcome)),
			zap.Duration("elapsed", res.Elapsed))
	}
	for _, w := range report.Warnings {
		logging.Logger().Warn(w)
	}
}
