// Package eventlog persists protocol events for later inspection. Two stores
// are available: a rotating JSONL file and a SQLite database.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/ocppcore/core/logger"
	"github.com/kilianp07/ocppcore/core/observe"
)

// Record is the stored form of an observe.Event.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	Local            string    `json:"local"`
	Peer             string    `json:"peer"`
	Direction        string    `json:"direction"`
	Transport        string    `json:"transport"`
	Kind             string    `json:"kind"`
	Type             string    `json:"type,omitempty"`
	ID               string    `json:"id,omitempty"`
	Action           string    `json:"action,omitempty"`
	Source           string    `json:"source,omitempty"`
	Destination      string    `json:"destination,omitempty"`
	Path             []string  `json:"path,omitempty"`
	Payload          []byte    `json:"payload,omitempty"`
	ErrorCode        string    `json:"error_code,omitempty"`
	ErrorDescription string    `json:"error_description,omitempty"`
	Handler          string    `json:"handler,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Query defines filters for retrieving records. Zero values match
// everything. Limit keeps the most recent records.
type Query struct {
	Start     time.Time
	End       time.Time
	Peer      string
	Action    string
	Direction string
	Kind      string
	Limit     int
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// RecordFromEvent converts an event. Payloads are only kept for messages.
func RecordFromEvent(e observe.Event) Record {
	m := e.Message
	r := Record{
		Timestamp:   e.Time,
		Local:       string(e.Local),
		Peer:        e.Peer,
		Direction:   e.Direction.String(),
		Transport:   e.Transport.String(),
		Kind:        e.Kind.String(),
		ID:          string(m.ID),
		Action:      m.Action,
		Source:      string(m.Source),
		Destination: string(m.Destination),
		Path:        m.Path.Strings(),
		Handler:     e.Handler,
	}
	if m.Type.Valid() {
		r.Type = m.Type.String()
	}
	if e.Kind == observe.KindMessage {
		r.Payload = m.Payload
		r.ErrorCode = string(m.ErrorCode)
		r.ErrorDescription = m.ErrorDescription
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
	}
	return r
}

func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Peer != "" && r.Peer != q.Peer {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	if q.Direction != "" && r.Direction != q.Direction {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	return true
}

func (q Query) limit(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// Recorder appends every observed event to a store.
type Recorder struct {
	store   Store
	log     logger.Logger
	timeout time.Duration
}

// NewRecorder returns an observe.Observer writing into store.
func NewRecorder(store Store, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Recorder{store: store, log: log, timeout: 5 * time.Second}
}

func (r *Recorder) Observe(e observe.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Append(ctx, RecordFromEvent(e)); err != nil {
		r.log.Errorf("event log append: %v", err)
	}
}

// Config selects and tunes the store.
type Config struct {
	Enabled bool `json:"enabled"`
	// Backend is "jsonl" or "sqlite".
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// Rotation settings of the jsonl backend.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "ocpp-events.jsonl"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 100
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// Open creates the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "jsonl", "":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	default:
		return nil, fmt.Errorf("eventlog: unknown backend %s", cfg.Backend)
	}
}
