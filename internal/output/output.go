// Package output renders CLI results as tables, markdown, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keygate/keygate/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates and normalizes a format string. An empty value
// selects fallback.
func ParseFormat(value string, fallback Format) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "":
		return fallback, nil
	case string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// PoolEntry describes one configured credential without revealing it.
type PoolEntry struct {
	Index  int    `json:"index" yaml:"index"`
	ID     string `json:"id" yaml:"id"`
	Masked string `json:"masked" yaml:"masked"`
}

// PoolListing is the static view of the configured pool.
type PoolListing struct {
	Size        int         `json:"size" yaml:"size"`
	Limit       int         `json:"limit" yaml:"limit"`
	Window      string      `json:"window" yaml:"window"`
	Credentials []PoolEntry `json:"credentials" yaml:"credentials"`
}

// NewPoolListing builds a listing from raw configured keys.
func NewPoolListing(keys []string, limit int, window time.Duration) PoolListing {
	listing := PoolListing{
		Size:        len(keys),
		Limit:       limit,
		Window:      window.String(),
		Credentials: make([]PoolEntry, 0, len(keys)),
	}
	for i, key := range keys {
		cred := core.Credential(key)
		listing.Credentials = append(listing.Credentials, PoolEntry{
			Index:  i,
			ID:     cred.ID(),
			Masked: cred.Masked(),
		})
	}
	return listing
}

// FormatPool renders a pool listing in the requested format.
func FormatPool(format Format, listing PoolListing) (string, error) {
	switch format {
	case FormatJSON, FormatYAML:
		return FormatDocument(format, listing)
	case FormatMarkdown:
		return poolMarkdown(listing), nil
	default:
		return poolTable(listing), nil
	}
}

// FormatDocument renders v as indented JSON or YAML.
func FormatDocument(format Format, v any) (string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case FormatYAML:
		var sb strings.Builder
		enc := yaml.NewEncoder(&sb)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return "", err
		}
		if err := enc.Close(); err != nil {
			return "", err
		}
		return strings.TrimRight(sb.String(), "\n"), nil
	default:
		return "", fmt.Errorf("format %s is not a document format", format)
	}
}
