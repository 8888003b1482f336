package identity

import (
	"card-key-shop/internal/config"
	"card-key-shop/internal/domain"
	"card-key-shop/internal/infrastructure/breaker"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Provider is the OAuth2 identity provider.
type Provider interface {
	AuthorizeURL(state string) string
	// Exchange trades an authorization code for the user's profile.
	Exchange(ctx context.Context, code string) (domain.Profile, error)
}

type oauthProvider struct {
	cfg     config.OAuthConfig
	client  *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[domain.Profile]
}

func NewOAuthProvider(cfg config.Config, client *http.Client) Provider {
	if client == nil {
		client = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	return &oauthProvider{
		cfg:     cfg.OAuth,
		client:  client,
		timeout: cfg.UpstreamTimeout,
		cb:      breaker.New[domain.Profile]("identity-provider"),
	}
}

func (p *oauthProvider) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("state", state)
	q.Set("redirect_uri", p.cfg.RedirectURI)
	return p.cfg.AuthURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type userResponse struct {
	ID         json.RawMessage `json:"id"`
	Username   string          `json:"username"`
	AvatarURL  string          `json:"avatar_url"`
	TrustLevel int             `json:"trust_level"`
}

// errRejected marks answers from the provider that should not trip the breaker.
var errRejected = errors.New("identity provider rejected request")

func (p *oauthProvider) Exchange(ctx context.Context, code string) (domain.Profile, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Profile{}, fmt.Errorf("%w: authorization code is required", errRejected)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	profile, err := p.cb.Execute(func() (domain.Profile, error) {
		token, err := p.fetchToken(ctx, code)
		if err != nil {
			return domain.Profile{}, err
		}
		return p.fetchProfile(ctx, token)
	})
	if err != nil {
		if breaker.Rejected(err) {
			return domain.Profile{}, fmt.Errorf("%w: identity circuit open", domain.ErrUpstreamUnavailable)
		}
		return domain.Profile{}, err
	}
	return profile, nil
}

func (p *oauthProvider) fetchToken(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token tokenResponse
	if err := p.doJSON(req, &token, "token exchange"); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: access_token missing in token response", errRejected)
	}
	return token.AccessToken, nil
}

func (p *oauthProvider) fetchProfile(ctx context.Context, accessToken string) (domain.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserURL, nil)
	if err != nil {
		return domain.Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	var user userResponse
	if err := p.doJSON(req, &user, "profile fetch"); err != nil {
		return domain.Profile{}, err
	}
	id := strings.Trim(string(user.ID), `"`)
	if id == "" || id == "null" || user.Username == "" {
		return domain.Profile{}, fmt.Errorf("%w: incomplete profile", errRejected)
	}
	return domain.Profile{
		UserID:     id,
		Username:   user.Username,
		AvatarURL:  user.AvatarURL,
		TrustLevel: user.TrustLevel,
	}, nil
}

func (p *oauthProvider) doJSON(req *http.Request, out any, step string) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s failed: status=%d", domain.ErrUpstreamUnavailable, step, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s failed: status=%d body=%s", errRejected, step, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", errRejected, step, err)
	}
	return nil
}

// IsRejected reports whether err is the provider refusing the request rather than being unreachable.
func IsRejected(err error) bool {
	return errors.Is(err, errRejected)
}
