/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"fmt"
	"os"
	"time"

	"gpudeploy/cmd"
	"gpudeploy/internal/logging"

	"go.uber.org/zap"
)

func main() {
	// Initialize logger with a run-scoped log file
	logPath := os.Getenv("GPUDEPLOY_LOG")
	if logPath == "" {
		logPath = fmt.Sprintf("gpudeploy-%s.log", time.Now().Format("20060102-150405"))
	}
	if err := logging.InitLogger(logPath); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		if err := logging.Sync(); err != nil {
			// Log sync error, but don't fail the application
			logging.Logger().Error("failed to sync logger on exit", zap.Error(err))
		}
	}()

	cmd.Execute()
}
