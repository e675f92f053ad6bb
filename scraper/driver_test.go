package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizkut/callsignscrapper/store"
)

func runDriver(t *testing.T, cfg DriverConfig, st *store.Store, src *mockSource, start int) (Disposition, Progress) {
	t.Helper()
	f, err := src.Open(context.Background(), Identity{ID: "driver"}, start)
	require.NoError(t, err)
	d := NewDriver(cfg, st, f, DefaultPacing(), &recordingSleeper{}, nil, nil)
	disp, p, err := d.Run(context.Background(), Progress{SessionID: 1, NextPage: start, LastCompletedPage: start - 1})
	require.NoError(t, err)
	return disp, p
}

func TestDriver_EmptyPageEndsWithoutCheckpoint(t *testing.T) {
	st := openScraperStore(t, store.BackendJSON, t.TempDir())
	pages := makePages(2, 3)
	pages = append(pages, []RawRow{})
	src := newMockSource(pages)

	disp, p := runDriver(t, DriverConfig{}, st, src, 1)
	require.Equal(t, Completed, disp)
	require.Equal(t, 2, p.LastCompletedPage)
	require.Equal(t, 3, p.NextPage)

	_, state, err := st.Checkpoint.Load()
	require.NoError(t, err)
	require.Equal(t, store.LoadAbsent, state)
}

func TestDriver_HeaderOnlyPageEnds(t *testing.T) {
	st := openScraperStore(t, store.BackendJSON, t.TempDir())
	pages := makePages(1, 3)
	pages = append(pages, []RawRow{
		{Ordinal: "No.", Holder: "Assignment Holder", CallSign: "Call Sign"},
		{Ordinal: "", Holder: "", CallSign: ""},
	})
	src := newMockSource(pages)

	disp, p := runDriver(t, DriverConfig{}, st, src, 1)
	require.Equal(t, Completed, disp)
	require.Equal(t, 1, p.LastCompletedPage)
	require.Equal(t, []int{1, 2}, src.Requested())
}

func TestDriver_BlockedPageCheckpointsLastCompletedPage(t *testing.T) {
	st := openScraperStore(t, store.BackendJSON, t.TempDir())
	src := newMockSource(makePages(3, 2))
	src.blocks[2] = 1

	disp, p := runDriver(t, DriverConfig{}, st, src, 1)
	require.Equal(t, Blocked, disp)
	require.Equal(t, 1, p.LastCompletedPage)
	require.Equal(t, 2, p.NextPage)

	cp, state, err := st.Checkpoint.Load()
	require.NoError(t, err)
	require.Equal(t, store.LoadOK, state)
	require.Equal(t, 1, cp.LastPage)
	require.Equal(t, 2, cp.RecordsScraped)
}

// checkpointProbe records the checkpointed page at every inter-page pause.
type checkpointProbe struct {
	st   *store.Store
	seen *[]int
}

func (c checkpointProbe) Sleep(ctx context.Context, _ time.Duration) error {
	cp, _, err := c.st.Checkpoint.Load()
	if err != nil {
		return err
	}
	*c.seen = append(*c.seen, cp.LastPage)
	return nil
}

func TestDriver_PeriodicCheckpoint(t *testing.T) {
	st := openScraperStore(t, store.BackendJSON, t.TempDir())
	src := newMockSource(makePages(9, 2))

	f, err := src.Open(context.Background(), Identity{}, 1)
	require.NoError(t, err)
	var seen []int
	d := NewDriver(DriverConfig{CheckpointEvery: 4}, st, f, DefaultPacing(), checkpointProbe{st: st, seen: &seen}, nil, nil)
	disp, p, err := d.Run(context.Background(), Progress{SessionID: 1, NextPage: 1})
	require.NoError(t, err)
	require.Equal(t, Completed, disp)
	require.Equal(t, 9, p.LastCompletedPage)
	require.Equal(t, []int{0, 0, 0, 4, 4, 4, 4, 8}, seen)
}

func TestDriver_MaxPage(t *testing.T) {
	st := openScraperStore(t, store.BackendJSON, t.TempDir())
	src := newMockSource(makePages(7, 2))

	disp, p := runDriver(t, DriverConfig{MaxPage: 3}, st, src, 1)
	require.Equal(t, Completed, disp)
	require.Equal(t, 3, p.LastCompletedPage)
	require.Equal(t, pageRange(1, 3), src.Requested())
}

func TestDriver_MaxPageBeforeRotation(t *testing.T) {
	st := openScraperStore(t, store.BackendJSON, t.TempDir())
	src := newMockSource(makePages(5, 2))

	disp, p := runDriver(t, DriverConfig{RotateEvery: 3, MaxPage: 3}, st, src, 1)
	require.Equal(t, Completed, disp)
	require.Equal(t, 3, p.LastCompletedPage)
	require.Equal(t, pageRange(1, 3), src.Requested())
}
