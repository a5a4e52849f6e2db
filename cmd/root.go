/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gpudeploy",
	Short: "Provision a GPU instance and deploy an LLM inference stack to it",
	Long: `gpudeploy provisions a GPU compute instance on the control plane,
pushes a containerized inference stack to it via cloud-init, and
supervises the bring-up until both the inference API and the chat
web UI are confirmed healthy.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
