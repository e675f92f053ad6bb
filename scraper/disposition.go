package scraper

import "fmt"

// Disposition is how one Driver run ended without error.
type Disposition int

const (
	// Completed means the source has no more new data.
	Completed Disposition = iota
	// Rotating means the page budget of the current identity is used up.
	Rotating
	// Blocked means the source served an anti-bot page.
	Blocked
)

func (d Disposition) String() string {
	switch d {
	case Completed:
		return "completed"
	case Rotating:
		return "rotating"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}
