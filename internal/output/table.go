package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

func poolTable(listing PoolListing) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "ID", "Credential"})

	for _, entry := range listing.Credentials {
		t.AppendRow(table.Row{entry.Index, entry.ID, entry.Masked})
	}

	t.AppendFooter(table.Row{
		"",
		fmt.Sprintf("%d credentials", listing.Size),
		fmt.Sprintf("%d per %s", listing.Limit, listing.Window),
	})

	return t.Render()
}
