package store

import (
	"fmt"

	"go.uber.org/zap"
)

// JSONCheckpoint stores the single resume point in its own file.
type JSONCheckpoint struct {
	path string
	opts Options
}

func NewJSONCheckpoint(path string, opts Options) *JSONCheckpoint {
	return &JSONCheckpoint{path: path, opts: opts.withDefaults()}
}

func (c *JSONCheckpoint) Save(cp Checkpoint) error {
	cp.UpdatedAt = NewTimestamp(c.opts.Now())
	if err := writeJSONAtomic(c.path, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Peek reads the checkpoint like Load but leaves an unusable file where it is.
func (c *JSONCheckpoint) Peek() (Checkpoint, LoadState, error) {
	var cp Checkpoint
	state, err := readJSON(c.path, &cp)
	if err != nil {
		return Checkpoint{}, LoadAbsent, err
	}
	if state == LoadOK && !cp.valid() {
		state = LoadRecovered
	}
	if state != LoadOK {
		return Checkpoint{}, state, nil
	}
	return cp, LoadOK, nil
}

func (c *JSONCheckpoint) Load() (Checkpoint, LoadState, error) {
	cp, state, err := c.Peek()
	if err != nil {
		return cp, state, err
	}
	switch state {
	case LoadRecovered:
		recoverCorrupt(c.opts.Logger, c.path, c.opts.QuarantineDir)
	case LoadOK:
		c.opts.Logger.Debug("checkpoint loaded",
			zap.Int("session_id", cp.SessionID), zap.Int("last_page", cp.LastPage))
	}
	return cp, state, nil
}

func (c *JSONCheckpoint) Clear() error {
	return removeIfExists(c.path)
}
