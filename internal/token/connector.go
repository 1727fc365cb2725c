package token

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Connector drives the one-time authorization-code flow that establishes a
// backend connection. The resulting token pair is handed to the Manager,
// which owns it from then on.
type Connector struct {
	cfg     oauth2.Config
	manager *Manager
}

// ConnectorConfig holds the authorize/token endpoints and client credentials.
type ConnectorConfig struct {
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// NewConnector creates a Connector bound to a Manager.
func NewConnector(cfg ConnectorConfig, manager *Manager) *Connector {
	return &Connector{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL,
				TokenURL: cfg.TokenURL,
			},
		},
		manager: manager,
	}
}

// Configured reports whether the flow has enough configuration to start.
func (c *Connector) Configured() bool {
	return strings.TrimSpace(c.cfg.ClientID) != "" &&
		strings.TrimSpace(c.cfg.Endpoint.AuthURL) != "" &&
		strings.TrimSpace(c.cfg.Endpoint.TokenURL) != ""
}

// AuthURL returns the authorization URL the operator is redirected to.
func (c *Connector) AuthURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades the authorization code for a token pair and persists it.
func (c *Connector) Exchange(ctx context.Context, code string) error {
	tok, err := c.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	expiresIn := int64(0)
	if !tok.Expiry.IsZero() {
		expiresIn = int64(tok.Expiry.Sub(c.manager.now()).Seconds())
	}
	if err := c.manager.Save(ctx, tok.AccessToken, tok.RefreshToken, expiresIn); err != nil {
		return err
	}
	return nil
}

// Disconnect clears the stored token state.
func (c *Connector) Disconnect(ctx context.Context) error {
	return c.manager.Clear(ctx)
}
