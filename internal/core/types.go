package core

import (
	"encoding/hex"
	"hash/fnv"
	"strings"
	"time"
)

// Credential is an opaque upstream secret (for example a bearer token).
// Two credentials are the same credential only if their values are equal.
type Credential string

// String returns the raw secret value.
func (c Credential) String() string {
	return string(c)
}

// ID returns a short stable identifier derived from the FNV-1a hash of the secret.
// It is safe to log and to use as a metric label; it is not a security comparison.
func (c Credential) ID() string {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(c))
	return hex.EncodeToString(hasher.Sum(nil))[:8]
}

// Masked returns a display form that keeps only the edges of the secret.
func (c Credential) Masked() string {
	value := string(c)
	switch {
	case len(value) == 0:
		return ""
	case len(value) <= 8:
		return strings.Repeat("*", len(value))
	default:
		return value[:4] + strings.Repeat("*", 4) + value[len(value)-4:]
	}
}

// CredentialStatus is a read-only view of one credential's quota usage.
type CredentialStatus struct {
	Index       int           `json:"index" yaml:"index"`
	ID          string        `json:"id" yaml:"id"`
	Masked      string        `json:"masked" yaml:"masked"`
	Count       int           `json:"count" yaml:"count"`
	Limit       int           `json:"limit" yaml:"limit"`
	Remaining   int           `json:"remaining" yaml:"remaining"`
	WindowStart time.Time     `json:"window_start" yaml:"window_start"`
	ResetIn     time.Duration `json:"reset_in_ns" yaml:"reset_in"`
	Exhausted   bool          `json:"exhausted" yaml:"exhausted"`
}
