package store

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

type recordsFile struct {
	Assignments []Assignment `json:"assignments"`
	Metadata    Metadata     `json:"metadata"`
}

// JSONRecords keeps the assignment collection in memory and rewrites the
// whole file after every mutation.
type JSONRecords struct {
	path       string
	checkpoint *JSONCheckpoint
	opts       Options

	data  recordsFile
	index map[string]int
	state LoadState
}

func OpenJSONRecords(path string, checkpoint *JSONCheckpoint, opts Options) (*JSONRecords, error) {
	opts = opts.withDefaults()
	r := &JSONRecords{path: path, checkpoint: checkpoint, opts: opts}

	var data recordsFile
	state, err := readJSON(path, &data)
	if err != nil {
		return nil, err
	}
	switch state {
	case LoadRecovered:
		recoverCorrupt(opts.Logger, path, opts.QuarantineDir)
		data = r.emptyData()
	case LoadAbsent:
		data = r.emptyData()
	}
	if data.Metadata.CreatedAt.IsZero() {
		data.Metadata.CreatedAt = NewTimestamp(opts.Now())
	}

	// Files edited by hand may repeat a key; the later entry wins.
	deduped := make([]Assignment, 0, len(data.Assignments))
	index := make(map[string]int, len(data.Assignments))
	for _, a := range data.Assignments {
		if a.CallSign == "" {
			continue
		}
		if i, ok := index[a.CallSign]; ok {
			deduped[i] = a
			continue
		}
		index[a.CallSign] = len(deduped)
		deduped = append(deduped, a)
	}
	data.Assignments = deduped
	data.Metadata.TotalCount = len(deduped)

	r.data = data
	r.index = index
	r.state = state
	opts.Logger.Debug("record store opened",
		zap.String("path", path), zap.Stringer("state", state), zap.Int("records", len(deduped)))
	return r, nil
}

func (r *JSONRecords) emptyData() recordsFile {
	return recordsFile{
		Assignments: []Assignment{},
		Metadata:    Metadata{CreatedAt: NewTimestamp(r.opts.Now())},
	}
}

// LoadState reports how the file was found when the store was opened.
func (r *JSONRecords) LoadState() LoadState {
	return r.state
}

func (r *JSONRecords) UpsertBatch(rows []Row) (int, int, error) {
	now := NewTimestamp(r.opts.Now())
	next := slices.Clone(r.data.Assignments)
	index := make(map[string]int, len(r.index)+len(rows))
	for k, v := range r.index {
		index[k] = v
	}

	added, updated := 0, 0
	for _, row := range rows {
		rec := Assignment{
			RowNumber:        row.RowNumber,
			AssignmentHolder: row.Holder,
			CallSign:         row.CallSign,
			AssignNo:         row.AssignNo,
			ExpiryDate:       row.Expiry,
		}
		if i, ok := index[row.CallSign]; ok {
			rec.FirstSeenAt = next[i].FirstSeenAt
			rec.LastUpdatedAt = now
			next[i] = rec
			updated++
			continue
		}
		rec.FirstSeenAt = now
		rec.LastUpdatedAt = now
		index[row.CallSign] = len(next)
		next = append(next, rec)
		added++
	}

	data := recordsFile{Assignments: next, Metadata: r.data.Metadata}
	data.Metadata.LastUpdated = now.Ptr()
	data.Metadata.TotalCount = len(next)
	if err := writeJSONAtomic(r.path, data); err != nil {
		return 0, 0, fmt.Errorf("persist records: %w", err)
	}
	r.data = data
	r.index = index
	return added, updated, nil
}

func (r *JSONRecords) Count() (int, error) {
	return len(r.data.Assignments), nil
}

func (r *JSONRecords) Get(callSign string) (Assignment, bool, error) {
	i, ok := r.index[callSign]
	if !ok {
		return Assignment{}, false, nil
	}
	return r.data.Assignments[i], true, nil
}

func (r *JSONRecords) All() ([]Assignment, error) {
	return slices.Clone(r.data.Assignments), nil
}

func (r *JSONRecords) Metadata() (Metadata, error) {
	return r.data.Metadata, nil
}

func (r *JSONRecords) Clear() error {
	data := r.emptyData()
	if err := writeJSONAtomic(r.path, data); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	r.data = data
	r.index = make(map[string]int)
	if r.checkpoint != nil {
		if err := r.checkpoint.Clear(); err != nil {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
	}
	r.opts.Logger.Info("cleared existing assignments and checkpoint", zap.String("path", r.path))
	return nil
}
