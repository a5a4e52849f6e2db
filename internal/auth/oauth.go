package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gpudeploy/internal/logging"

	"go.uber.org/zap"
)

// landingPage is served to the browser after the authorization redirect.
// The access token arrives in the URL fragment, which never reaches a
// server, so a client-side script relays it back as a path segment.
const landingPage = `<!DOCTYPE html>
<html>
<head><title>gpudeploy</title></head>
<body>
<p id="msg">Completing authorization...</p>
<script>
var m = window.location.hash.match(/access_token=([^&]+)/);
if (m) {
  fetch("/token/" + m[1]).then(function () {
    document.getElementById("msg").textContent =
      "Authorization complete. You can close this tab and return to the terminal.";
  });
} else {
  document.getElementById("msg").textContent =
    "No access token found in the redirect. Please retry from the terminal.";
}
</script>
</body>
</html>`

// CallbackListener receives a single implicit-grant OAuth callback on an
// ephemeral local port. It binds exactly one port for the lifetime of one
// authorization round-trip and releases it immediately afterwards.
type CallbackListener struct {
	listener net.Listener
	server   *http.Server
	tokens   chan string
}

// NewCallbackListener binds an autodiscovered free port on localhost.
func NewCallbackListener() (*CallbackListener, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback port: %w", err)
	}

	l := &CallbackListener{
		listener: listener,
		tokens:   make(chan string, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, landingPage)
	})
	mux.HandleFunc("/token/", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, "/token/")
		if token != "" {
			select {
			case l.tokens <- token:
			default:
			}
		}
		fmt.Fprint(w, "ok")
	})

	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Logger().Debug("callback server stopped", zap.Error(err))
		}
	}()

	return l, nil
}

// RedirectURI returns the local address the authorization redirect must
// target.
func (l *CallbackListener) RedirectURI() string {
	return fmt.Sprintf("http://%s/callback", l.listener.Addr().String())
}

// Wait blocks until the relayed token arrives, the wait window elapses,
// or ctx is canceled.
func (l *CallbackListener) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case token := <-l.tokens:
		return token, nil
	case <-time.After(timeout):
		return "", &AuthError{Reason: ReasonTimeout}
	case <-ctx.Done():
		return "", &AuthError{Reason: ReasonTimeout, Err: ctx.Err()}
	}
}

// Close shuts the listener down and releases the port.
func (l *CallbackListener) Close() error {
	return l.server.Close()
}

// AuthorizeURL builds the browser URL for the implicit-grant flow,
// requesting a full-scope token delivered to redirectURI.
func AuthorizeURL(base, clientID, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "token")
	q.Set("scopes", "*")
	q.Set("redirect_uri", redirectURI)
	return base + "?" + q.Encode()
}
