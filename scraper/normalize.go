package scraper

import (
	"strconv"
	"strings"

	"github.com/bizkut/callsignscrapper/store"
)

// CollapseSpace trims s and folds every whitespace run into a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeRow validates a raw row. The ordinal must be a positive ASCII
// integer, and call sign and holder must be non-empty after trimming.
func NormalizeRow(raw RawRow) (store.Row, bool) {
	ordinal := strings.TrimSpace(raw.Ordinal)
	if ordinal == "" || !isASCIIDigits(ordinal) {
		return store.Row{}, false
	}
	n, err := strconv.Atoi(ordinal)
	if err != nil || n <= 0 {
		return store.Row{}, false
	}
	row := store.Row{
		RowNumber: n,
		Holder:    CollapseSpace(raw.Holder),
		CallSign:  CollapseSpace(raw.CallSign),
		AssignNo:  CollapseSpace(raw.AssignNo),
		Expiry:    CollapseSpace(raw.Expiry),
	}
	if row.CallSign == "" || row.Holder == "" {
		return store.Row{}, false
	}
	return row, true
}

// NormalizeRows keeps the usable rows in page order.
func NormalizeRows(raw []RawRow) []store.Row {
	out := make([]store.Row, 0, len(raw))
	for _, r := range raw {
		if row, ok := NormalizeRow(r); ok {
			out = append(out, row)
		}
	}
	return out
}

func isASCIIDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
