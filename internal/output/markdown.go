package output

import (
	"fmt"
	"strings"
)

func poolMarkdown(listing PoolListing) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Credential pool (%d per %s)\n\n", listing.Limit, escapeMarkdownCell(listing.Window)))
	sb.WriteString("| # | ID | Credential |\n")
	sb.WriteString("|---|----|------------|\n")

	for _, entry := range listing.Credentials {
		sb.WriteString(fmt.Sprintf("| %d | %s | %s |\n",
			entry.Index,
			escapeMarkdownCell(entry.ID),
			escapeMarkdownCell(entry.Masked),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Size**: %d\n", listing.Size))
	return sb.String()
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
