package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Assignment is one row of the apparatus assignment register, keyed by CallSign.
type Assignment struct {
	RowNumber        int       `json:"row_number" csv:"row_number"`
	AssignmentHolder string    `json:"assignment_holder" csv:"assignment_holder"`
	CallSign         string    `json:"call_sign" csv:"call_sign"`
	AssignNo         string    `json:"assign_no" csv:"assign_no"`
	ExpiryDate       string    `json:"expiry_date" csv:"expiry_date"`
	FirstSeenAt      Timestamp `json:"first_seen_at" csv:"first_seen_at"`
	LastUpdatedAt    Timestamp `json:"last_updated_at" csv:"last_updated_at"`
}

// Row is a normalized register row ready to be upserted.
type Row struct {
	RowNumber int
	Holder    string
	CallSign  string
	AssignNo  string
	Expiry    string
}

type Metadata struct {
	CreatedAt   Timestamp  `json:"created_at"`
	LastUpdated *Timestamp `json:"last_updated,omitempty"`
	TotalCount  int        `json:"total_count"`
}

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session is one ledger entry. Its ID survives fetcher rotations and resumes.
type Session struct {
	ID             int           `json:"id"`
	StartedAt      Timestamp     `json:"started_at"`
	CompletedAt    *Timestamp    `json:"completed_at,omitempty"`
	Status         SessionStatus `json:"status"`
	RecordsFound   int           `json:"records_found"`
	RecordsAdded   int           `json:"records_added"`
	RecordsUpdated int           `json:"records_updated"`
	LastPage       int           `json:"last_page"`
}

// Progress carries the counters merged into a ledger entry.
type Progress struct {
	Found    int
	Added    int
	Updated  int
	LastPage int
}

// Checkpoint is the last safe resume point: every page <= LastPage is upserted.
type Checkpoint struct {
	SessionID      int       `json:"session_id"`
	LastPage       int       `json:"last_page"`
	RecordsScraped int       `json:"records_scraped"`
	RecordsAdded   int       `json:"records_added,omitempty"`
	RecordsUpdated int       `json:"records_updated,omitempty"`
	UpdatedAt      Timestamp `json:"updated_at"`
}

func (c Checkpoint) valid() bool {
	return c.SessionID >= 1 && c.LastPage >= 0 && c.RecordsScraped >= 0
}

// LoadState tells how persisted state was obtained.
type LoadState int

const (
	// LoadAbsent means nothing was persisted yet.
	LoadAbsent LoadState = iota
	// LoadRecovered means the persisted content was unreadable and defaults were used.
	LoadRecovered
	// LoadOK means the persisted content was read successfully.
	LoadOK
)

func (s LoadState) String() string {
	switch s {
	case LoadAbsent:
		return "absent"
	case LoadRecovered:
		return "recovered"
	case LoadOK:
		return "loaded"
	default:
		return fmt.Sprintf("LoadState(%d)", int(s))
	}
}

// Timestamp is a time.Time persisted as RFC 3339. Reading also accepts the
// zone-less ISO 8601 form written by earlier versions of the tool.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) Ptr() *Timestamp {
	return &t
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.Time.Format(time.RFC3339Nano)), nil
}

func (t *Timestamp) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = ts
		return nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = ts
			return nil
		}
	}
	return fmt.Errorf("unsupported time format: %q", s)
}

// time.Time's JSON methods would otherwise be promoted over the text ones.

func (t Timestamp) MarshalJSON() ([]byte, error) {
	b, err := t.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(b))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}
