package oauth

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientConfig holds configuration for the OAuth2 client credentials flow
// used for service-to-service calls (the payout rail).
type ClientConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ConfigFromEnv reads the rail credentials from the environment.
func ConfigFromEnv() ClientConfig {
	var scopes []string
	if raw := os.Getenv("OAUTH_SCOPES"); raw != "" {
		scopes = strings.Split(raw, ",")
	}
	return ClientConfig{
		TokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		Scopes:       scopes,
	}
}

// Client handles token acquisition and caching.
type Client struct {
	config       *clientcredentials.Config
	currentToken *oauth2.Token
	tokenMu      sync.RWMutex
}

// NewClient creates a new OAuth client with the given configuration.
func NewClient(config ClientConfig) *Client {
	ccConfig := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     config.TokenURL,
		Scopes:       config.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return &Client{
		config: ccConfig,
	}
}

// GetToken returns a valid OAuth token, fetching a new one if necessary.
func (c *Client) GetToken() (*oauth2.Token, error) {
	c.tokenMu.RLock()
	token := c.currentToken
	c.tokenMu.RUnlock()

	if token != nil && token.Valid() {
		return token, nil
	}

	return c.refreshToken()
}

func (c *Client) refreshToken() (*oauth2.Token, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.currentToken != nil && c.currentToken.Valid() {
		return c.currentToken, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := c.config.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	c.currentToken = token
	return token, nil
}

// GetAccessToken returns just the access token string.
func (c *Client) GetAccessToken() (string, error) {
	token, err := c.GetToken()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// GetAuthorizationHeader returns the full "Bearer token" value for the
// Authorization header.
func (c *Client) GetAuthorizationHeader() (string, error) {
	token, err := c.GetAccessToken()
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}
