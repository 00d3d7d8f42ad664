package appid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/keygate/keygate/internal/assets/appidentity"
)

func resetIdentity(t *testing.T) {
	t.Helper()

	// Identity and embedded registration are process-global in gofulmen.
	appidentity.Reset()
	if err := appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML); err != nil {
		t.Fatalf("RegisterEmbeddedIdentityYAML: %v", err)
	}
	t.Cleanup(func() { appidentity.Reset() })
}

func chdirTemp(t *testing.T) {
	t.Helper()

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func TestGet_EmbeddedIdentityDescribesGateway(t *testing.T) {
	resetIdentity(t)
	t.Setenv(appidentity.EnvIdentityPath, "")
	chdirTemp(t)

	identity, err := Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if identity.BinaryName != "keygate" {
		t.Fatalf("BinaryName = %q, want keygate", identity.BinaryName)
	}
	if identity.EnvPrefix != "KEYGATE_" {
		t.Fatalf("EnvPrefix = %q, want KEYGATE_", identity.EnvPrefix)
	}
	if got := EnvPrefix(context.Background()); got != "KEYGATE_" {
		t.Fatalf("EnvPrefix() = %q", got)
	}
}

func TestGet_ExplicitPathMissing(t *testing.T) {
	resetIdentity(t)
	t.Setenv(appidentity.EnvIdentityPath, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Get(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}

	var notFound *appidentity.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}

	if got := EnvPrefix(context.Background()); got != "KEYGATE_" {
		t.Fatalf("EnvPrefix fallback = %q", got)
	}
}
