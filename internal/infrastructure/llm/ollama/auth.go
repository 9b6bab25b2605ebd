package ollama

import (
	"context"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type AuthConfig struct {
	// StaticToken is used as-is when no client credentials are configured.
	StaticToken  string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// NewTokenSource returns a cached token source, or nil when no authentication is configured.
// Client-credential tokens are refreshed lazily once expired.
func NewTokenSource(ctx context.Context, cfg AuthConfig) oauth2.TokenSource {
	if strings.TrimSpace(cfg.ClientID) != "" && strings.TrimSpace(cfg.TokenURL) != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		return oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))
	}
	if token := strings.TrimSpace(cfg.StaticToken); token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	}
	return nil
}
