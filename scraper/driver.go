package scraper

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/bizkut/callsignscrapper/store"
)

type DriverConfig struct {
	// DuplicateThreshold stops the scrape after this many consecutive pages
	// without a new call sign.
	DuplicateThreshold int `yaml:"duplicate_threshold"`
	// CheckpointEvery saves a checkpoint after every page whose number is a
	// multiple of it.
	CheckpointEvery int `yaml:"checkpoint_every"`
	// RotateEvery ends a Driver run with Rotating after this many pages.
	RotateEvery int `yaml:"rotate_every"`
	// MaxPage is the last page scraped. Zero means no limit.
	MaxPage int `yaml:"max_page"`
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		DuplicateThreshold: 10,
		CheckpointEvery:    5,
		RotateEvery:        10000,
	}
}

func (c DriverConfig) withDefaults() DriverConfig {
	def := DefaultDriverConfig()
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = def.DuplicateThreshold
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = def.CheckpointEvery
	}
	if c.RotateEvery <= 0 {
		c.RotateEvery = def.RotateEvery
	}
	if c.MaxPage < 0 {
		c.MaxPage = 0
	}
	return c
}

// Progress is the running state of one logical scrape session. It survives
// rotations and blocked retries.
type Progress struct {
	SessionID int
	// NextPage is the page the fetcher is expected to be positioned on.
	NextPage int
	// LastCompletedPage is the last page whose rows are upserted.
	LastCompletedPage int

	Found   int
	Added   int
	Updated int

	// NoNewStreak counts consecutive pages that added nothing.
	NoNewStreak int
}

func (p Progress) checkpoint() store.Checkpoint {
	return store.Checkpoint{
		SessionID:      p.SessionID,
		LastPage:       p.LastCompletedPage,
		RecordsScraped: p.Found,
		RecordsAdded:   p.Added,
		RecordsUpdated: p.Updated,
	}
}

func (p Progress) ledger() store.Progress {
	return store.Progress{
		Found:    p.Found,
		Added:    p.Added,
		Updated:  p.Updated,
		LastPage: p.LastCompletedPage,
	}
}

// Driver walks the pages of one fetcher until a disposition is reached.
type Driver struct {
	cfg     DriverConfig
	store   *store.Store
	fetcher PageFetcher
	pacing  Pacing
	sleeper Sleeper
	rnd     *rand.Rand
	log     *zap.Logger
}

func NewDriver(cfg DriverConfig, st *store.Store, fetcher PageFetcher, pacing Pacing, sleeper Sleeper, rnd *rand.Rand, log *zap.Logger) *Driver {
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		cfg:     cfg.withDefaults(),
		store:   st,
		fetcher: fetcher,
		pacing:  pacing,
		sleeper: sleeper,
		rnd:     rnd,
		log:     log,
	}
}

// Run processes pages starting at p.NextPage. The returned Progress is valid
// even when err is non-nil.
func (d *Driver) Run(ctx context.Context, p Progress) (Disposition, Progress, error) {
	page := p.NextPage
	if page < 1 {
		page = 1
		p.NextPage = 1
	}
	pagesInSession := 0

	for {
		if err := ctx.Err(); err != nil {
			return Completed, p, err
		}
		if d.cfg.MaxPage > 0 && page > d.cfg.MaxPage {
			d.log.Info("page limit reached", zap.Int("max_page", d.cfg.MaxPage))
			return Completed, p, nil
		}
		pagesInSession++

		raw, err := d.fetcher.CurrentRows(ctx)
		if err != nil {
			return Completed, p, fmt.Errorf("read page %d: %w", page, err)
		}
		if len(raw) == 0 {
			blocked, err := d.fetcher.IsSoftBlocked(ctx)
			if err != nil {
				return Completed, p, fmt.Errorf("check block on page %d: %w", page, err)
			}
			if blocked {
				d.log.Warn("soft block detected", zap.Int("page", page))
				if err := d.store.Checkpoint.Save(p.checkpoint()); err != nil {
					return Blocked, p, err
				}
				return Blocked, p, nil
			}
			d.log.Info("no data on page, finished", zap.Int("page", page))
			return Completed, p, nil
		}

		rows := NormalizeRows(raw)
		if len(rows) == 0 {
			d.log.Info("no valid assignments on page, finished",
				zap.Int("page", page), zap.Int("raw_rows", len(raw)))
			return Completed, p, nil
		}

		added, updated, err := d.store.Records.UpsertBatch(rows)
		if err != nil {
			return Completed, p, fmt.Errorf("upsert page %d: %w", page, err)
		}
		p.Found += len(rows)
		p.Added += added
		p.Updated += updated
		p.LastCompletedPage = page
		p.NextPage = page + 1

		total, err := d.store.Records.Count()
		if err != nil {
			d.log.Warn("count records", zap.Error(err))
		}
		d.log.Info("page stored",
			zap.Int("page", page),
			zap.Int("rows", len(rows)),
			zap.Int("added", added),
			zap.Int("updated", updated),
			zap.Int("scraped_total", p.Found),
			zap.Int("store_total", total),
		)

		if added == 0 {
			p.NoNewStreak++
			if p.NoNewStreak >= d.cfg.DuplicateThreshold {
				d.log.Info("no new records on consecutive pages, finished",
					zap.Int("pages", p.NoNewStreak))
				return Completed, p, nil
			}
		} else {
			p.NoNewStreak = 0
		}

		if err := d.store.Ledger.UpdateProgress(p.SessionID, p.ledger()); err != nil {
			d.log.Warn("update session progress", zap.Int("session_id", p.SessionID), zap.Error(err))
		}

		if page%d.cfg.CheckpointEvery == 0 {
			if err := d.store.Checkpoint.Save(p.checkpoint()); err != nil {
				return Completed, p, err
			}
			d.log.Debug("checkpoint saved", zap.Int("page", page))
		}

		if d.cfg.MaxPage > 0 && page >= d.cfg.MaxPage {
			d.log.Info("page limit reached", zap.Int("max_page", d.cfg.MaxPage))
			return Completed, p, nil
		}

		ok, err := d.fetcher.AdvancePage(ctx)
		if err != nil {
			return Completed, p, fmt.Errorf("advance from page %d: %w", page, err)
		}
		if !ok {
			d.log.Info("no next page, finished", zap.Int("page", page))
			return Completed, p, nil
		}

		if pagesInSession >= d.cfg.RotateEvery {
			if err := d.store.Checkpoint.Save(p.checkpoint()); err != nil {
				return Rotating, p, err
			}
			d.log.Info("rotating fetcher identity", zap.Int("next_page", p.NextPage))
			return Rotating, p, nil
		}

		if err := d.sleeper.Sleep(ctx, d.pacing.InterPageDelay(page, d.rnd)); err != nil {
			return Completed, p, err
		}
		page++
	}
}
