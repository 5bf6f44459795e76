package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/fuomag9/vscode-farm/internal/config"
	"github.com/fuomag9/vscode-farm/internal/models"
	"github.com/fuomag9/vscode-farm/internal/secret"
)

const (
	// csrfTokenLength matches the connection secret baseline.
	csrfTokenLength = 32
	// pkceVerifierLength is within the 43..128 characters RFC 7636 allows.
	pkceVerifierLength = 64
)

var (
	ErrMissingPendingState = errors.New("no pending authorization in session")
	ErrCsrfMismatch        = errors.New("state does not match pending csrf token")
	ErrTokenExchangeFailed = errors.New("authorization code exchange failed")
	ErrProfileFetchFailed  = errors.New("profile fetch failed")
)

// Client talks to the identity provider's authorize, token and self endpoints
type Client struct {
	oauth2     oauth2.Config
	profileURL string
	httpClient *http.Client
}

// AuthorizationRequest is the outcome of the first protocol leg. The caller
// stores CSRFToken and PKCEVerifier in the session before redirecting.
type AuthorizationRequest struct {
	URL          string
	CSRFToken    string
	PKCEVerifier string
}

// Pending returns the session half of the request
func (a *AuthorizationRequest) Pending() models.PendingAuthorization {
	return models.PendingAuthorization{
		CSRFToken:    a.CSRFToken,
		PKCEVerifier: a.PKCEVerifier,
	}
}

// NewClient creates a client for the provider rooted at cfg.Server.
// redirectURL must be the callback registered with the provider.
func NewClient(cfg config.OAuthConfig, redirectURL string) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Server + "/api/authorize",
				TokenURL: cfg.Server + "/api/token",
				// The provider only accepts client credentials in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: redirectURL,
			Scopes:      cfg.Scopes,
		},
		profileURL: cfg.Server + "/api/self",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BuildAuthorizationRequest generates fresh CSRF and PKCE material and the
// provider URL that carries them.
func (c *Client) BuildAuthorizationRequest() (*AuthorizationRequest, error) {
	csrfToken, err := secret.Generate(csrfTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	verifier, err := secret.Generate(pkceVerifierLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &AuthorizationRequest{
		URL:          c.oauth2.AuthCodeURL(csrfToken, oauth2.S256ChallengeOption(verifier)),
		CSRFToken:    csrfToken,
		PKCEVerifier: verifier,
	}, nil
}

// ExchangeCode finishes the second protocol leg: it checks the returned state
// against the pending CSRF token, redeems the code with the PKCE verifier and
// resolves the caller's identity.
func (c *Client) ExchangeCode(ctx context.Context, code, returnedState, expectedCSRF, pkceVerifier string) (*models.UserProfile, error) {
	pending := models.PendingAuthorization{CSRFToken: expectedCSRF, PKCEVerifier: pkceVerifier}
	if !pending.Complete() {
		return nil, ErrMissingPendingState
	}

	if returnedState != expectedCSRF {
		return nil, ErrCsrfMismatch
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth2.Exchange(ctx, code, oauth2.VerifierOption(pkceVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	profile, err := c.FetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// FetchProfile reads the authenticated user's profile with a bearer GET
func (c *Client) FetchProfile(ctx context.Context, token *oauth2.Token) (*models.UserProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.oauth2.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProfileFetchFailed, resp.StatusCode, string(body))
	}

	var profile models.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%w: failed to decode profile: %v", ErrProfileFetchFailed, err)
	}

	if profile.UserName == "" {
		return nil, fmt.Errorf("%w: profile missing user_name", ErrProfileFetchFailed)
	}

	return &profile, nil
}
