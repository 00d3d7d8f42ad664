package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
)

func TestVersionHandlerIncludesIdentityMetadata(t *testing.T) {
	SetVersionInfo("0.4.0", "abcd123", "2026-03-01T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{
		BinaryName:  "keygate",
		Description: "credential rotating gateway",
	})
	t.Cleanup(func() {
		SetVersionInfo("dev", "unknown", "unknown")
		SetAppIdentity(nil)
	})

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()

	VersionHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp VersionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.App.Name != "keygate" {
		t.Fatalf("expected app name keygate, got %s", resp.App.Name)
	}
	if resp.App.Description != "credential rotating gateway" {
		t.Fatalf("unexpected description %q", resp.App.Description)
	}
	if resp.App.Version != "0.4.0" || resp.App.Commit != "abcd123" {
		t.Fatalf("unexpected build info %+v", resp.App)
	}
	if resp.Dependencies.Gofulmen == "" || resp.Dependencies.Crucible == "" {
		t.Fatal("expected dependency versions to be populated")
	}
}

func TestVersionFallsBackToExecutableName(t *testing.T) {
	SetAppIdentity(nil)

	resp := CurrentVersion()
	if resp.App.Name == "" {
		t.Fatal("expected a fallback name")
	}
	if resp.Runtime.Platform == "" {
		t.Fatal("expected runtime platform")
	}
}
