package token

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/people-lookup/internal/resilience"
)

// defaultTokenLifetime is assumed when the token endpoint reports no
// expiry and the access token carries no exp claim. Deliberately short so
// the refresh cycle re-exchanges rather than trusting a guess.
const defaultTokenLifetime = 15 * time.Minute

// OAuthConfig holds client-credentials settings for one service.
type OAuthConfig struct {
	Service      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// Option configures the exchanger.
type Option func(*oauthExchanger)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *oauthExchanger) {
		e.http = hc
	}
}

// WithRetry overrides the retry configuration for the exchange call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *oauthExchanger) {
		e.retry = cfg
	}
}

type oauthExchanger struct {
	cfg     OAuthConfig
	http    *http.Client
	retry   resilience.RetryConfig
	nowFunc func() time.Time
}

// NewOAuthExchanger creates a client-credentials Exchanger for one service.
func NewOAuthExchanger(cfg OAuthConfig, opts ...Option) Exchanger {
	e := &oauthExchanger{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   resilience.DefaultRetryConfig(),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *oauthExchanger) Service() string {
	return e.cfg.Service
}

func (e *oauthExchanger) Exchange(ctx context.Context) (Token, error) {
	return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (Token, error) {
		return e.exchangeOnce(ctx)
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (e *oauthExchanger) exchangeOnce(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", e.cfg.ClientID)
	form.Set("client_secret", e.cfg.ClientSecret)
	if e.cfg.Scope != "" {
		form.Set("scope", e.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, eris.Wrapf(err, "token: %s: create request", e.cfg.Service)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.http.Do(req)
	if err != nil {
		return Token{}, eris.Wrapf(err, "token: %s: send request", e.cfg.Service)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, eris.Wrapf(err, "token: %s: read response", e.cfg.Service)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return Token{}, resilience.NewTransientError(
			eris.Errorf("token: %s: status %d: %s", e.cfg.Service, resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, eris.Errorf("token: %s: unexpected status %d: %s", e.cfg.Service, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, eris.Wrapf(err, "token: %s: unmarshal response", e.cfg.Service)
	}
	if tr.AccessToken == "" {
		return Token{}, eris.Errorf("token: %s: response carried no access_token", e.cfg.Service)
	}

	now := e.nowFunc().UTC()
	return Token{
		Service:    e.cfg.Service,
		Value:      tr.AccessToken,
		ObtainedAt: now,
		ExpiresAt:  expiryOf(tr, now),
	}, nil
}

// expiryOf resolves the token expiry in UTC: expires_in when reported,
// else the JWT exp claim when the access token is a JWT, else a
// conservative default lifetime.
func expiryOf(tr tokenResponse, now time.Time) time.Time {
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.UTC()
		}
	}

	return now.Add(defaultTokenLifetime)
}
