package auth

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// tokenFromCLIConfig extracts a stored token from the provider CLI's
// config file. The file is INI-style: a DEFAULT section names the default
// user, and each per-user section carries that user's token.
func tokenFromCLIConfig(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no CLI config path configured")
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("CLI config not found at %s: %w", path, err)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse CLI config: %w", err)
	}

	user := cfg.Section(ini.DefaultSection).Key("default-user").String()
	if user == "" {
		return "", fmt.Errorf("CLI config has no default-user")
	}

	section, err := cfg.GetSection(user)
	if err != nil {
		return "", fmt.Errorf("CLI config has no section for user %q", user)
	}

	token := section.Key("token").String()
	if token == "" {
		return "", fmt.Errorf("CLI config section %q has no token", user)
	}

	return token, nil
}
