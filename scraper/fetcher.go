package scraper

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrPageOutOfRange is returned by FetcherFactory.Open when the source has no
// page with the requested number. The runner treats it as the end of data.
var ErrPageOutOfRange = errors.New("start page out of range")

// RawRow is one table row as shown by the source, before validation.
type RawRow struct {
	Ordinal  string
	Holder   string
	CallSign string
	AssignNo string
	Expiry   string
}

// PageFetcher is positioned on one page of the register at a time.
type PageFetcher interface {
	// CurrentRows returns the data rows of the current page. An empty slice
	// means the page rendered without data.
	CurrentRows(ctx context.Context) ([]RawRow, error)
	// AdvancePage moves to the next page and reports whether that succeeded.
	AdvancePage(ctx context.Context) (bool, error)
	// IsSoftBlocked reports whether the source is showing an anti-bot
	// interstitial instead of data.
	IsSoftBlocked(ctx context.Context) (bool, error)
	Close() error
}

// FetcherFactory creates a fresh browsing identity positioned at startPage.
type FetcherFactory interface {
	Open(ctx context.Context, identity Identity, startPage int) (PageFetcher, error)
}

// Identity names one browsing identity. A new one is used after every
// rotation and every blocked cooldown.
type Identity struct {
	ID      string
	Attempt int
}

func newIdentity(attempt int) Identity {
	return Identity{ID: uuid.NewString(), Attempt: attempt}
}
