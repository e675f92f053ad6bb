package store

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

type ledgerFile struct {
	Sessions []Session `json:"sessions"`
}

// JSONLedger is the append-only scrape history kept in a JSON file.
type JSONLedger struct {
	path  string
	opts  Options
	data  ledgerFile
	state LoadState
}

func OpenJSONLedger(path string, opts Options) (*JSONLedger, error) {
	opts = opts.withDefaults()
	var data ledgerFile
	state, err := readJSON(path, &data)
	if err != nil {
		return nil, err
	}
	if state == LoadRecovered {
		recoverCorrupt(opts.Logger, path, opts.QuarantineDir)
		data = ledgerFile{}
	}
	if data.Sessions == nil {
		data.Sessions = []Session{}
	}
	return &JSONLedger{path: path, opts: opts, data: data, state: state}, nil
}

func (l *JSONLedger) LoadState() LoadState {
	return l.state
}

func (l *JSONLedger) StartSession() (int, error) {
	id := 1
	for _, s := range l.data.Sessions {
		if s.ID >= id {
			id = s.ID + 1
		}
	}
	next := ledgerFile{Sessions: append(slices.Clone(l.data.Sessions), Session{
		ID:        id,
		StartedAt: NewTimestamp(l.opts.Now()),
		Status:    SessionRunning,
	})}
	if err := writeJSONAtomic(l.path, next); err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	l.data = next
	l.opts.Logger.Debug("session started", zap.Int("session_id", id))
	return id, nil
}

func (l *JSONLedger) UpdateProgress(id int, p Progress) error {
	return l.mutate(id, func(s *Session) {
		applyProgress(s, p)
	})
}

func (l *JSONLedger) CompleteSession(id int, p Progress, status SessionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	now := NewTimestamp(l.opts.Now())
	return l.mutate(id, func(s *Session) {
		applyProgress(s, p)
		s.CompletedAt = now.Ptr()
		s.Status = status
	})
}

func (l *JSONLedger) Sessions() ([]Session, error) {
	return slices.Clone(l.data.Sessions), nil
}

func (l *JSONLedger) mutate(id int, fn func(*Session)) error {
	i := slices.IndexFunc(l.data.Sessions, func(s Session) bool { return s.ID == id })
	if i < 0 {
		l.opts.Logger.Debug("ledger entry not found, skipping update", zap.Int("session_id", id))
		return nil
	}
	next := ledgerFile{Sessions: slices.Clone(l.data.Sessions)}
	fn(&next.Sessions[i])
	if err := writeJSONAtomic(l.path, next); err != nil {
		return fmt.Errorf("update session %d: %w", id, err)
	}
	l.data = next
	return nil
}

func applyProgress(s *Session, p Progress) {
	s.RecordsFound = p.Found
	s.RecordsAdded = p.Added
	s.RecordsUpdated = p.Updated
	s.LastPage = p.LastPage
}
