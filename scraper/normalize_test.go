package scraper

import (
	"testing"

	"github.com/bizkut/callsignscrapper/store"
)

func TestNormalizeRow(t *testing.T) {
	cases := []struct {
		name string
		in   RawRow
		want store.Row
		ok   bool
	}{
		{
			name: "clean",
			in:   RawRow{Ordinal: "1", Holder: "Alice", CallSign: "9W1AAA", AssignNo: "A-1", Expiry: "2025-01-01"},
			want: store.Row{RowNumber: 1, Holder: "Alice", CallSign: "9W1AAA", AssignNo: "A-1", Expiry: "2025-01-01"},
			ok:   true,
		},
		{
			name: "whitespace collapsed",
			in:   RawRow{Ordinal: " 12 ", Holder: "\n  Tan   Ah\tKow ", CallSign: " 9M2ABC\n", AssignNo: "  ", Expiry: " 31/12/2026 "},
			want: store.Row{RowNumber: 12, Holder: "Tan Ah Kow", CallSign: "9M2ABC", AssignNo: "", Expiry: "31/12/2026"},
			ok:   true,
		},
		{name: "header", in: RawRow{Ordinal: "No.", Holder: "Holder", CallSign: "Call Sign"}},
		{name: "zero ordinal", in: RawRow{Ordinal: "0", Holder: "Alice", CallSign: "9W1AAA"}},
		{name: "signed ordinal", in: RawRow{Ordinal: "+3", Holder: "Alice", CallSign: "9W1AAA"}},
		{name: "non ascii digits", in: RawRow{Ordinal: "١٢", Holder: "Alice", CallSign: "9W1AAA"}},
		{name: "missing call sign", in: RawRow{Ordinal: "3", Holder: "Alice", CallSign: "   "}},
		{name: "missing holder", in: RawRow{Ordinal: "3", Holder: "", CallSign: "9W1AAA"}},
		{name: "overflow", in: RawRow{Ordinal: "99999999999999999999999", Holder: "Alice", CallSign: "9W1AAA"}},
	}
	for _, tc := range cases {
		got, ok := NormalizeRow(tc.in)
		if ok != tc.ok {
			t.Fatalf("%s: ok=%v want %v", tc.name, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeRows_KeepsOrder(t *testing.T) {
	rows := NormalizeRows([]RawRow{
		{Ordinal: "No.", Holder: "Holder", CallSign: "Call Sign"},
		{Ordinal: "2", Holder: "B", CallSign: "9W2BBB"},
		{Ordinal: "1", Holder: "A", CallSign: "9W1AAA"},
		{Ordinal: "", Holder: "", CallSign: ""},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].CallSign != "9W2BBB" || rows[1].CallSign != "9W1AAA" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}
