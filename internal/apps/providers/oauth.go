package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"tempo/internal/apps/capability"
)

// Tokens is the OAuth token set persisted in instance data.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func TokensFrom(t *oauth2.Token) Tokens {
	return Tokens{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

func (t Tokens) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// OAuthClient wraps an authorization-code flow for one provider.
type OAuthClient struct {
	provider   string
	config     oauth2.Config
	authParams []oauth2.AuthCodeOption
	httpClient *http.Client
}

// OAuthOption configures an OAuthClient.
type OAuthOption func(*OAuthClient)

// WithAuthParams adds provider specific query parameters to the login URL.
func WithAuthParams(opts ...oauth2.AuthCodeOption) OAuthOption {
	return func(c *OAuthClient) {
		c.authParams = append(c.authParams, opts...)
	}
}

// WithOAuthHTTPClient sets the client used for token calls.
func WithOAuthHTTPClient(client *http.Client) OAuthOption {
	return func(c *OAuthClient) {
		c.httpClient = client
	}
}

func NewOAuthClient(provider string, config oauth2.Config, opts ...OAuthOption) *OAuthClient {
	c := &OAuthClient{provider: provider, config: config}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = DefaultHTTPClient()
	}
	return c
}

func (c *OAuthClient) withRedirect(redirectURI string) *oauth2.Config {
	cfg := c.config
	cfg.RedirectURL = redirectURI
	return &cfg
}

func (c *OAuthClient) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// LoginURL builds the provider consent URL carrying state.
func (c *OAuthClient) LoginURL(req capability.LoginRequest) string {
	return c.withRedirect(req.RedirectURI).AuthCodeURL(req.State, c.authParams...)
}

// Exchange trades the authorization code of a redirect for tokens. A denied
// consent or a rejected code is a declared error; a provider outage is not.
func (c *OAuthClient) Exchange(ctx context.Context, req capability.RedirectRequest) (*oauth2.Token, error) {
	if reason := req.Query.Get("error"); reason != "" {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "access_denied",
			c.provider+" authorization was not granted: "+reason)
	}
	code := req.Query.Get("code")
	if code == "" {
		return nil, capability.NewAppRequestError(http.StatusBadRequest, "missing_code", "authorization code is missing")
	}
	tok, err := c.withRedirect(req.RedirectURI).Exchange(c.ctx(ctx), code)
	if err != nil {
		return nil, c.classify(err, "token_exchange_failed", "the authorization code was rejected")
	}
	return tok, nil
}

// Fresh returns a valid token, refreshing tok when it has expired. changed
// reports whether the caller should persist the result.
func (c *OAuthClient) Fresh(ctx context.Context, tok Tokens) (fresh Tokens, changed bool, err error) {
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return Tokens{}, false, NotConnected(c.provider)
	}
	t, err := c.config.TokenSource(c.ctx(ctx), tok.OAuth2()).Token()
	if err != nil {
		return Tokens{}, false, c.classify(err, "token_refresh_failed", "the stored authorization is no longer valid")
	}
	fresh = TokensFrom(t)
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	return fresh, fresh.AccessToken != tok.AccessToken, nil
}

// Revoke posts token to a revocation endpoint. Providers answer 200 or 400
// for an already revoked token; both count as done.
func (c *OAuthClient) Revoke(ctx context.Context, endpoint string, form url.Values, basicAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = form.Encode()
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicAuth {
		req.SetBasicAuth(c.config.ClientID, c.config.ClientSecret)
	}
	err = Do(ctx, c.httpClient, c.provider, req, nil)
	if err != nil && IsProviderStatus(err, http.StatusBadRequest) {
		return nil
	}
	return err
}

func (c *OAuthClient) classify(err error, code, msg string) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode < 500 {
		out := capability.NewAppRequestError(http.StatusBadRequest, code, msg)
		out.Err = err
		return out
	}
	return err
}
