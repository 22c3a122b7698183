package tokenlease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/tonimelisma/spo/internal/lease"
	"github.com/tonimelisma/spo/internal/tokenfile"
)

// DefaultScopes grant delegated access to SharePoint sites and files plus a
// refresh token.
var DefaultScopes = []string{
	"offline_access",
	"User.Read",
	"Sites.ReadWrite.All",
	"Files.ReadWrite.All",
}

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath must match the registered "http://localhost" redirect URI;
// Azure AD ignores the port for loopback redirects but not the path.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// OAuthConfig builds the confidential-client configuration for a tenant.
func OAuthConfig(tenantID, clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       DefaultScopes,
		Endpoint:     microsoft.AzureADEndpoint(tenantID),
	}
}

// saveRetry bounds how long Authorize waits for a refresh in another
// process to release the token record.
var saveRetry = lease.Retry{Attempts: DefaultMaxAttempts, Backoff: DefaultBackoff}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// Authorize runs the authorization code + PKCE flow and creates the token
// record at tokenPath:
//  1. Binds a loopback HTTP server on a random port
//  2. Calls openURL with the authorization URL (prints it if that fails)
//  3. Receives the code on the callback
//  4. Exchanges it and saves the token while holding the token lease
func Authorize(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (*oauth2.Token, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting authorization code flow", slog.String("path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	flowCfg := *cfg
	flowCfg.RedirectURL = fmt.Sprintf("http://localhost:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("tokenlease: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})

	authURL := flowCfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}

		code = res.code
	case <-ctx.Done():
		return nil, fmt.Errorf("tokenlease: authorization canceled: %w", ctx.Err())
	}

	tok, err := flowCfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("tokenlease: token exchange failed: %w", err)
	}

	acquired, err := lease.WithRetry(ctx, tokenfile.LockPath(tokenPath), saveRetry, func() error {
		return tokenfile.Save(tokenPath, tok)
	})
	if err != nil {
		return nil, fmt.Errorf("tokenlease: saving token: %w", err)
	}

	if !acquired {
		return nil, fmt.Errorf("tokenlease: saving token: %w: %d attempts on %s", ErrLockTimeout,
			saveRetry.Attempts, tokenfile.LockPath(tokenPath))
	}

	logger.Info("authorization successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

// startCallbackServer binds 127.0.0.1:0 and serves mux on it.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("tokenlease: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("tokenlease: listener address is not TCP")
	}

	logger.Debug("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("tokenlease: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// handleOAuthCallback validates state, extracts the code and reports it.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("tokenlease: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("tokenlease: authorization failed: %s: %s",
			errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("tokenlease: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authenticated</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// generateState returns a random hex state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
