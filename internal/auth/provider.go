package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"gpudeploy/internal/logging"

	"github.com/pkg/browser"
	"go.uber.org/zap"
)

// envToken is the environment variable checked first during resolution.
const envToken = "GPUDEPLOY_TOKEN"

// ValidateFunc checks a token against the identity endpoint and returns
// the username it belongs to.
type ValidateFunc func(ctx context.Context, token string) (string, error)

// Provider resolves a control-plane credential. Resolution order:
// explicit environment token, stored CLI config token, interactive
// implicit-grant OAuth. Every candidate token is validated before use.
type Provider struct {
	AuthorizeBase string
	ClientID      string
	CLIConfigPath string
	OAuthWait     time.Duration

	Validate ValidateFunc

	// NonInteractive disables the browser flow; resolution then fails
	// once the non-interactive sources are exhausted.
	NonInteractive bool

	// OpenBrowser is swappable for tests; defaults to the system browser.
	OpenBrowser func(url string) error
}

// NewProvider creates a credential provider.
func NewProvider(authorizeBase, clientID, cliConfigPath string, oauthWait time.Duration, validate ValidateFunc) *Provider {
	return &Provider{
		AuthorizeBase: authorizeBase,
		ClientID:      clientID,
		CLIConfigPath: cliConfigPath,
		OAuthWait:     oauthWait,
		Validate:      validate,
		OpenBrowser:   browser.OpenURL,
	}
}

// Acquire resolves a validated credential or fails with *AuthError.
func (p *Provider) Acquire(ctx context.Context) (*Credential, error) {
	// 1. Explicit environment token
	if token := os.Getenv(envToken); token != "" {
		username, err := p.Validate(ctx, token)
		if err != nil {
			logging.Logger().Warn("environment token rejected by identity endpoint", zap.Error(err))
		} else {
			logging.Logger().Info("using environment token", zap.String("username", username))
			return &Credential{Token: token, Source: SourceEnvironment, Username: username}, nil
		}
	}

	// 2. Stored CLI config
	if token, err := tokenFromCLIConfig(p.CLIConfigPath); err == nil {
		username, err := p.Validate(ctx, token)
		if err != nil {
			logging.Logger().Warn("CLI config token rejected by identity endpoint", zap.Error(err))
		} else {
			logging.Logger().Info("using CLI config token",
				zap.String("path", p.CLIConfigPath),
				zap.String("username", username))
			return &Credential{Token: token, Source: SourceConfigured, Username: username}, nil
		}
	} else {
		logging.Logger().Debug("no usable CLI config token", zap.Error(err))
	}

	// 3. Interactive OAuth
	if p.NonInteractive {
		return nil, &AuthError{Reason: ReasonNone}
	}
	return p.acquireOAuth(ctx)
}

func (p *Provider) acquireOAuth(ctx context.Context) (*Credential, error) {
	listener, err := NewCallbackListener()
	if err != nil {
		return nil, &AuthError{Reason: ReasonNone, Err: err}
	}
	defer listener.Close()

	authURL := AuthorizeURL(p.AuthorizeBase, p.ClientID, listener.RedirectURI())

	fmt.Printf("Opening browser for authorization. If it does not open, visit:\n\n  %s\n\n", authURL)
	if err := p.OpenBrowser(authURL); err != nil {
		// Not fatal: the operator can open the printed URL by hand.
		logging.Logger().Warn("failed to open browser", zap.Error(err))
	}

	logging.Logger().Info("waiting for authorization callback",
		zap.String("redirect_uri", listener.RedirectURI()),
		zap.Duration("timeout", p.OAuthWait))

	token, err := listener.Wait(ctx, p.OAuthWait)
	if err != nil {
		return nil, err
	}

	username, err := p.Validate(ctx, token)
	if err != nil {
		return nil, &AuthError{Reason: ReasonInvalid, Err: err}
	}

	logging.Logger().Info("authorization complete", zap.String("username", username))
	return &Credential{Token: token, Source: SourceOAuth, Username: username}, nil
}
