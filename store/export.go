package store

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
)

// WriteCSV writes records with a header row. The header is written even when
// records is empty.
func WriteCSV(w io.Writer, records []Assignment) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Assignment{}); err != nil {
		return fmt.Errorf("encode csv header: %w", err)
	}
	if len(records) > 0 {
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode csv: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
