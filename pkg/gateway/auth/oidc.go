package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smarttriage/platform/pkg/common/logger"
	"golang.org/x/oauth2"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the userinfo attributes returned by the issuer for a token.
type Claims map[string]interface{}

func (c Claims) Subject() string {
	sub, _ := c["sub"].(string)
	return sub
}

// OIDCAuthenticator validates bearer tokens by presenting them to the
// issuer's userinfo endpoint.
type OIDCAuthenticator struct {
	config      *oauth2.Config
	issuer      string
	userInfoURL string
	httpClient  *http.Client
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}
	issuer = strings.TrimRight(issuer, "/")

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  issuer + "/authorize",
			TokenURL: issuer + "/token",
		},
		Scopes: []string{"openid", "profile", "email"},
	}

	return &OIDCAuthenticator{
		config:      config,
		issuer:      issuer,
		userInfoURL: issuer + "/userinfo",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *OIDCAuthenticator) Issuer() string {
	return a.issuer
}

// AuthCodeURL is where an unauthenticated browser is sent to log in.
func (a *OIDCAuthenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state)
}

func (a *OIDCAuthenticator) ValidateToken(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	client := a.config.Client(ctx, &oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var claims Claims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if claims.Subject() == "" {
		return nil, ErrInvalidToken
	}

	logger.FromContext(ctx).WithField("sub", claims.Subject()).Debug("token validated")
	return claims, nil
}
