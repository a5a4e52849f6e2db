package provision

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// standardKeyNames are the public key files probed under ~/.ssh, in
// preference order.
var standardKeyNames = []string{"id_ed25519.pub", "id_rsa.pub", "id_ecdsa.pub"}

// FindAuthorizedKey locates an existing SSH public key under the standard
// paths. Callers decide whether absence is fatal: interactive runs prompt,
// automated runs degrade to password-only access.
func FindAuthorizedKey() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return findAuthorizedKeyIn(filepath.Join(home, ".ssh"))
}

func findAuthorizedKeyIn(dir string) (string, error) {
	for _, name := range standardKeyNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		key := strings.TrimSpace(string(data))
		if key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no public key found under %s", dir)
}
