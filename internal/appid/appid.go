// Package appid resolves the keygate application identity (binary name,
// env prefix, config name) through gofulmen.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/keygate/keygate/internal/assets/appidentity"
)

func init() {
	// FULMEN_APP_IDENTITY_PATH and .fulmen/app.yaml still win; the embedded
	// copy only applies when neither is found.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the cached process identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity's env prefix, or "KEYGATE_" when the
// identity cannot be resolved.
func EnvPrefix(ctx context.Context) string {
	identity, err := Get(ctx)
	if err != nil || identity == nil || identity.EnvPrefix == "" {
		return "KEYGATE_"
	}
	return identity.EnvPrefix
}
