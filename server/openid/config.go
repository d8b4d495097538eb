package openid

import (
	"context"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/justdownloadit/justdownloadit/server/config"
	"golang.org/x/oauth2"
)

var (
	oauth2Config oauth2.Config
	verifier     *oidc.IDTokenVerifier
)

// Configure builds the provider client and the id_token verifier from
// the openid config block. Called once at boot, before the router is
// up; an unreachable or misconfigured provider is fatal. No-op when
// openid is disabled.
func Configure() {
	conf := config.Instance().OpenId
	if !conf.UseOpenId {
		return
	}

	provider, err := oidc.NewProvider(context.Background(), conf.ProviderURL)
	if err != nil {
		panic(err)
	}

	// the email scope feeds the whitelist check in verifyIdToken
	oauth2Config = oauth2.Config{
		ClientID:     conf.ClientId,
		ClientSecret: conf.ClientSecret,
		RedirectURL:  conf.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	verifier = provider.Verifier(&oidc.Config{ClientID: conf.ClientId})

	slog.Info("openid configured", slog.String("provider", conf.ProviderURL))
}
