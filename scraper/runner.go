// Package scraper drives a paginated registry scrape through the stores of
// package store: page fetch, normalization, upsert, checkpointing, and the
// rotation and cooldown loop around it.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/bizkut/callsignscrapper/store"
)

type RunnerConfig struct {
	// Fresh clears the record store and checkpoint before starting.
	Fresh bool
	// Resume is informational. A valid checkpoint is always resumed unless
	// Fresh is set.
	Resume bool

	Driver DriverConfig
	Pacing Pacing
	Logger *zap.Logger
}

// Summary describes a finished Run.
type Summary struct {
	SessionID int
	Resumed   bool
	StartPage int
	LastPage  int
	Found     int
	Added     int
	Updated   int
	Total     int
	Rotations int
	Blocks    int
	Elapsed   time.Duration
}

type Runner struct {
	cfg     RunnerConfig
	store   *store.Store
	factory FetcherFactory
	log     *zap.Logger

	sleeper     Sleeper
	rnd         *rand.Rand
	newIdentity func(attempt int) Identity
	now         func() time.Time
}

func NewRunner(cfg RunnerConfig, st *store.Store, factory FetcherFactory) (*Runner, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("fetcher factory is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.Driver = cfg.Driver.withDefaults()
	return &Runner{
		cfg:         cfg,
		store:       st,
		factory:     factory,
		log:         cfg.Logger,
		sleeper:     timerSleeper{},
		rnd:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		newIdentity: newIdentity,
		now:         time.Now,
	}, nil
}

// Run scrapes until the source is exhausted. On error the checkpoint is left
// at the last completed page and the session is marked failed. On context
// cancellation the checkpoint is saved and the session stays running.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	started := r.now()
	p, resumed, err := r.start()
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{SessionID: p.SessionID, Resumed: resumed, StartPage: p.NextPage}
	r.log.Info("scrape started",
		zap.Int("session_id", p.SessionID),
		zap.Bool("fresh", r.cfg.Fresh),
		zap.Bool("resumed", resumed),
		zap.Int("start_page", p.NextPage),
		zap.Int("records_scraped", p.Found),
	)

	attempt := 0
	consecutiveBlocks := 0
	for {
		attempt++
		before := p.LastCompletedPage
		disp, next, err := r.runOnce(ctx, p, attempt)
		p = next
		sum.fill(p)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return r.finish(sum, started), r.interrupt(p, err)
			}
			return r.finish(sum, started), r.fail(p, err)
		}

		switch disp {
		case Rotating:
			consecutiveBlocks = 0
			sum.Rotations++
			d := r.cfg.Pacing.Cooldown(Rotating, 0, r.rnd)
			r.log.Info("fetcher rotated, taking a break",
				zap.Int("next_page", p.NextPage), zap.Duration("pause", d))
			if err := r.sleeper.Sleep(ctx, d); err != nil {
				return r.finish(sum, started), r.interrupt(p, err)
			}
		case Blocked:
			if p.LastCompletedPage > before {
				consecutiveBlocks = 0
			}
			consecutiveBlocks++
			sum.Blocks++
			d := r.cfg.Pacing.Cooldown(Blocked, consecutiveBlocks, r.rnd)
			r.log.Warn("blocked by source, cooling down",
				zap.Int("page", p.NextPage),
				zap.Int("consecutive_blocks", consecutiveBlocks),
				zap.Duration("pause", d))
			if err := r.sleeper.Sleep(ctx, d); err != nil {
				return r.finish(sum, started), r.interrupt(p, err)
			}
		default:
			if err := r.complete(p); err != nil {
				return r.finish(sum, started), err
			}
			sum = r.finish(sum, started)
			r.log.Info("scrape complete",
				zap.Int("session_id", sum.SessionID),
				zap.Int("last_page", sum.LastPage),
				zap.Int("records_found", sum.Found),
				zap.Int("records_added", sum.Added),
				zap.Int("records_updated", sum.Updated),
				zap.Int("store_total", sum.Total),
				zap.Duration("elapsed", sum.Elapsed),
			)
			return sum, nil
		}
	}
}

func (r *Runner) start() (Progress, bool, error) {
	if r.cfg.Fresh {
		if err := r.store.Reset(); err != nil {
			return Progress{}, false, fmt.Errorf("reset store: %w", err)
		}
		if err := r.store.Checkpoint.Clear(); err != nil {
			return Progress{}, false, fmt.Errorf("clear checkpoint: %w", err)
		}
		id, err := r.store.Ledger.StartSession()
		if err != nil {
			return Progress{}, false, err
		}
		return Progress{SessionID: id, NextPage: 1}, false, nil
	}

	cp, state, err := r.store.Checkpoint.Load()
	if err != nil {
		return Progress{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if state == store.LoadOK {
		return Progress{
			SessionID:         cp.SessionID,
			NextPage:          cp.LastPage + 1,
			LastCompletedPage: cp.LastPage,
			Found:             cp.RecordsScraped,
			Added:             cp.RecordsAdded,
			Updated:           cp.RecordsUpdated,
		}, true, nil
	}
	if r.cfg.Resume {
		r.log.Info("no checkpoint to resume from, starting a new session", zap.Stringer("checkpoint", state))
	}
	id, err := r.store.Ledger.StartSession()
	if err != nil {
		return Progress{}, false, err
	}
	return Progress{SessionID: id, NextPage: 1}, false, nil
}

func (r *Runner) runOnce(ctx context.Context, p Progress, attempt int) (Disposition, Progress, error) {
	identity := r.newIdentity(attempt)
	r.log.Info("opening fetcher",
		zap.String("identity", identity.ID),
		zap.Int("attempt", attempt),
		zap.Int("page", p.NextPage))

	fetcher, err := r.factory.Open(ctx, identity, p.NextPage)
	if errors.Is(err, ErrPageOutOfRange) {
		r.log.Info("start page not reachable, nothing left to scrape", zap.Int("page", p.NextPage))
		return Completed, p, nil
	}
	if err != nil {
		return Completed, p, fmt.Errorf("open fetcher at page %d: %w", p.NextPage, err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			r.log.Debug("close fetcher", zap.Error(err))
		}
	}()

	driver := NewDriver(r.cfg.Driver, r.store, fetcher, r.cfg.Pacing, r.sleeper, r.rnd, r.log)
	return driver.Run(ctx, p)
}

func (r *Runner) complete(p Progress) error {
	if err := r.store.Checkpoint.Clear(); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	if err := r.store.Ledger.CompleteSession(p.SessionID, p.ledger(), store.SessionCompleted); err != nil {
		return fmt.Errorf("complete session %d: %w", p.SessionID, err)
	}
	return nil
}

func (r *Runner) fail(p Progress, cause error) error {
	if err := r.store.Checkpoint.Save(p.checkpoint()); err != nil {
		r.log.Error("save checkpoint after failure", zap.Error(err))
	}
	if err := r.store.Ledger.CompleteSession(p.SessionID, p.ledger(), store.SessionFailed); err != nil {
		r.log.Error("mark session failed", zap.Int("session_id", p.SessionID), zap.Error(err))
	}
	r.log.Error("scrape failed",
		zap.Int("session_id", p.SessionID),
		zap.Int("page", p.NextPage),
		zap.Int("last_completed_page", p.LastCompletedPage),
		zap.Error(cause))
	return fmt.Errorf("session %d failed at page %d: %w", p.SessionID, p.NextPage, cause)
}

func (r *Runner) interrupt(p Progress, cause error) error {
	if err := r.store.Checkpoint.Save(p.checkpoint()); err != nil {
		r.log.Error("save checkpoint on interrupt", zap.Error(err))
	}
	if err := r.store.Ledger.UpdateProgress(p.SessionID, p.ledger()); err != nil {
		r.log.Warn("update session progress", zap.Int("session_id", p.SessionID), zap.Error(err))
	}
	r.log.Warn("scrape interrupted",
		zap.Int("session_id", p.SessionID),
		zap.Int("last_completed_page", p.LastCompletedPage))
	return fmt.Errorf("interrupted after page %d: %w", p.LastCompletedPage, cause)
}

func (r *Runner) finish(sum Summary, started time.Time) Summary {
	if total, err := r.store.Records.Count(); err == nil {
		sum.Total = total
	}
	sum.Elapsed = r.now().Sub(started)
	return sum
}

func (s *Summary) fill(p Progress) {
	s.LastPage = p.LastCompletedPage
	s.Found = p.Found
	s.Added = p.Added
	s.Updated = p.Updated
}
