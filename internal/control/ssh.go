package control

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path"
	"strings"

	"gpudeploy/internal/logging"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSH represents an SSH connection and provides methods for remote operations
type SSH struct {
	client       *ssh.Client
	sftpClient   *sftp.Client
	host         string
	instanceName string
}

// escapeNewlines escapes newline characters for proper log formatting
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}

// safeClose safely closes a resource and logs any errors
func safeClose(name string, closer func() error) {
	if err := closer(); err != nil {
		logging.Logger().Warn("failed to close resource",
			zap.String("resource", name),
			zap.Error(err))
	}
}

// NewSSH opens a password-authenticated SSH connection to the instance.
// Root-password access is the baseline; the reachability phase has
// already confirmed the port is accepting connections.
func NewSSH(config Config) (*SSH, error) {
	clientConfig := &ssh.ClientConfig{
		User: config.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(config.Password),
		},
		// The host was created seconds ago; there is no prior key to pin.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         config.SSHTimeout,
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(config.Host, "22"), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	logging.Logger().Info("SSH connection established",
		zap.String("user", config.User),
		zap.String("host", config.Host),
		zap.String("instance_name", config.InstanceName))

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &SSH{
		client:       client,
		sftpClient:   sftpClient,
		host:         config.Host,
		instanceName: config.InstanceName,
	}, nil
}

// Close closes the SFTP and SSH connections
func (s *SSH) Close() error {
	if s.sftpClient != nil {
		safeClose("SFTP client", s.sftpClient.Close)
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Run executes a command on the remote host and captures its output
func (s *SSH) Run(command string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer safeClose("SSH session", session.Close)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	logging.Logger().Debug("Executing command",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName))

	err = session.Run(command)

	stdoutStr := stdout.String()
	stderrStr := stderr.String()

	logging.Logger().Info("Command executed",
		zap.String("command", logging.Truncate(command)),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.String("stdout", escapeNewlines(logging.Truncate(stdoutStr))),
		zap.String("stderr", escapeNewlines(logging.Truncate(stderrStr))),
		zap.Bool("success", err == nil))

	return stdoutStr, err
}

// WriteFile pushes a configuration artifact to the remote host via SFTP.
func (s *SSH) WriteFile(remotePath, content string, mode os.FileMode) error {
	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := s.sftpClient.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	file, err := s.sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer safeClose("remote file", file.Close)

	if _, err := file.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write remote file %s: %w", remotePath, err)
	}

	if err := s.sftpClient.Chmod(remotePath, mode); err != nil {
		logging.Logger().Warn("failed to set remote file permissions",
			zap.String("path", remotePath),
			zap.Error(err))
	}

	logging.Logger().Info("Artifact pushed to instance",
		zap.String("path", remotePath),
		zap.String("host", s.host),
		zap.String("instance_name", s.instanceName),
		zap.Int("size_bytes", len(content)))

	return nil
}
