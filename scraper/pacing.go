package scraper

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacing holds the delays between pages and after a Driver run ends with
// Rotating or Blocked.
type Pacing struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`

	// Every LongBreakEvery pages the inter-page delay is drawn from
	// [LongBreakMin, LongBreakMax] instead. The same range is used after a
	// rotation.
	LongBreakEvery int           `yaml:"long_break_every"`
	LongBreakMin   time.Duration `yaml:"long_break_min"`
	LongBreakMax   time.Duration `yaml:"long_break_max"`

	// BlockedCooldown doubles for every consecutive block, up to MaxBlockedCooldown.
	BlockedCooldown    time.Duration `yaml:"blocked_cooldown"`
	MaxBlockedCooldown time.Duration `yaml:"max_blocked_cooldown"`
}

func DefaultPacing() Pacing {
	return Pacing{
		MinDelay:           2 * time.Second,
		MaxDelay:           5 * time.Second,
		LongBreakEvery:     50,
		LongBreakMin:       30 * time.Second,
		LongBreakMax:       60 * time.Second,
		BlockedCooldown:    5 * time.Minute,
		MaxBlockedCooldown: 30 * time.Minute,
	}
}

// InterPageDelay is the pause after finishing page.
func (p Pacing) InterPageDelay(page int, rnd *rand.Rand) time.Duration {
	if p.LongBreakEvery > 0 && page > 0 && page%p.LongBreakEvery == 0 {
		return uniform(rnd, p.LongBreakMin, p.LongBreakMax)
	}
	return uniform(rnd, p.MinDelay, p.MaxDelay)
}

// Cooldown is the pause before the next Driver run. attempt counts
// consecutive blocks starting at 1; it is ignored for other dispositions.
func (p Pacing) Cooldown(d Disposition, attempt int, rnd *rand.Rand) time.Duration {
	switch d {
	case Rotating:
		return uniform(rnd, p.LongBreakMin, p.LongBreakMax)
	case Blocked:
		if attempt < 1 {
			attempt = 1
		}
		c := p.BlockedCooldown
		for i := 1; i < attempt; i++ {
			if p.MaxBlockedCooldown > 0 && c >= p.MaxBlockedCooldown {
				break
			}
			c *= 2
		}
		if p.MaxBlockedCooldown > 0 && c > p.MaxBlockedCooldown {
			c = p.MaxBlockedCooldown
		}
		return c
	default:
		return 0
	}
}

func uniform(rnd *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64(hi-lo) + 1
	if rnd == nil {
		return lo + time.Duration(rand.Int64N(span))
	}
	return lo + time.Duration(rnd.Int64N(span))
}

type Sleeper interface {
	// Sleep pauses for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	return SleepContext(ctx, d)
}

// SleepContext pauses for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
