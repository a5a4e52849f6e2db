package control

import (
	"os"
	"time"
)

// Controller is the remote shell channel to a provisioned instance: it
// runs diagnostic commands and pushes configuration artifacts.
type Controller interface {
	// Close closes the connection
	Close() error

	// Run executes a command on the remote host and returns its stdout
	Run(command string) (string, error)

	// WriteFile writes content to a file on the remote host
	WriteFile(remotePath, content string, mode os.FileMode) error
}

// Config defines configuration for creating controllers
type Config struct {
	Host         string
	User         string
	Password     string
	SSHTimeout   time.Duration
	InstanceName string
}

// NewController creates a new controller based on the config
func NewController(config Config) (Controller, error) {
	// For now, only SSH is supported
	return NewSSH(config)
}
