// Package session owns the live event stream and derived counters for one
// editing session. The host application delivers typed events serially;
// the aggregator is the only writer. At finalize the event sequence is
// frozen into a Transcript consumed by the classification engine and the
// proof builder.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors surfaced by the aggregator.
var (
	// ErrSessionClosed is returned for any mutation after Finalize.
	ErrSessionClosed = errors.New("session: closed")

	// ErrEventLimit is returned when the event cap is reached.
	ErrEventLimit = errors.New("session: event limit reached")
)

// MaxEvents caps the in-memory event log of a single session.
const MaxEvents = 50_000

// Metadata describes the environment a session ran in. It travels with
// the session and feeds the aggregate (non-identifying) proof fields.
type Metadata struct {
	DocumentName      string   `json:"document_name,omitempty"`
	CanvasWidth       int      `json:"canvas_width,omitempty"`
	CanvasHeight      int      `json:"canvas_height,omitempty"`
	HostVersion       string   `json:"host_version,omitempty"`
	OS                string   `json:"os,omitempty"`
	AIToolsUsed       bool     `json:"ai_tools_used"`
	AIToolsList       []string `json:"ai_tools_list"`
	AIPluginsDetected bool     `json:"ai_plugins_detected"`
	ReferencesUsed    bool     `json:"references_used"`
	DetectedImports   []string `json:"detected_imports,omitempty"`
}

// Counters are the derived aggregates maintained incrementally as events
// arrive. They are cheap to copy and safe to hand out.
type Counters struct {
	TotalEvents     int   `json:"total_events"`
	StrokeCount     int   `json:"stroke_count"`
	LayerCount      int   `json:"layer_count"`
	ImportCount     int   `json:"import_count"`
	UndoRedoCount   int   `json:"undo_redo_count"`
	DrawingTimeSecs int64 `json:"drawing_time_secs"`
	DurationSecs    int64 `json:"duration_secs"`
}

// Snapshot is an immutable counters/metadata view of an open or closed
// session. Taking one never finalizes the session.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Counters  Counters
	Metadata  Metadata
	Closed    bool
}

// Transcript is the frozen form of a session produced by Finalize. It is
// read-only and consumed exactly once by the proof builder.
type Transcript struct {
	ID        string
	CreatedAt time.Time
	Events    []Event
	Counters  Counters
	Metadata  Metadata
	StartTime time.Time
	EndTime   time.Time
}

// Session aggregates the event stream for one editing session.
//
// Capture is single-threaded, but snapshots and background persistence
// may run from other goroutines, so internal state is mutex-guarded.
type Session struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	events    []Event
	counters  Counters
	metadata  Metadata
	drawing   int64
	closed    bool

	// 1-based: the default layer always exists.
	layerCount int
}

// New creates a session under a fresh temporary identity.
func New() *Session {
	return &Session{
		id:         TemporaryIdentity(),
		createdAt:  time.Now().UTC(),
		layerCount: 1,
	}
}

// Restore rebuilds a session from previously persisted state. The session
// reopens for further capture; signing capability is re-established
// separately.
func Restore(id string, createdAt time.Time, events []Event, meta Metadata, drawingSecs int64) *Session {
	s := &Session{
		id:         id,
		createdAt:  createdAt,
		metadata:   meta,
		drawing:    drawingSecs,
		layerCount: 1,
	}
	for _, ev := range events {
		s.applyLocked(ev)
	}
	return s
}

// ID returns the session identity.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetMetadata replaces the session metadata. AI tool flags already
// derived from events are preserved.
func (s *Session) SetMetadata(meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	aiUsed := s.metadata.AIToolsUsed
	aiList := s.metadata.AIToolsList
	refs := s.metadata.ReferencesUsed
	imports := s.metadata.DetectedImports

	s.metadata = meta
	s.metadata.AIToolsUsed = s.metadata.AIToolsUsed || aiUsed
	s.metadata.ReferencesUsed = s.metadata.ReferencesUsed || refs
	s.metadata.AIToolsList = mergeUnique(aiList, meta.AIToolsList)
	s.metadata.DetectedImports = mergeUnique(imports, meta.DetectedImports)
	return nil
}

// Record appends an event to the session log.
//
// Well-formed events never fail while the session is open. A malformed
// event is rejected with an error wrapping ErrMalformedEvent and the
// session continues; ErrSessionClosed is returned after Finalize.
func (s *Session) Record(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if len(s.events) >= MaxEvents {
		return fmt.Errorf("%w: %d", ErrEventLimit, MaxEvents)
	}

	s.applyLocked(ev)
	return nil
}

// applyLocked appends an event and updates derived state. Caller holds mu.
func (s *Session) applyLocked(ev Event) {
	s.events = append(s.events, ev)
	s.counters.TotalEvents++

	switch ev.Kind {
	case KindStroke:
		s.counters.StrokeCount++
	case KindLayerAdded:
		s.layerCount++
		s.counters.LayerCount = s.layerCount
	case KindLayerRemoved:
		if s.layerCount > 0 {
			s.layerCount--
		}
		s.counters.LayerCount = s.layerCount
	case KindImport:
		s.counters.ImportCount++
		s.metadata.DetectedImports = mergeUnique(s.metadata.DetectedImports, []string{ev.FileHash})
		if ev.IsReference() {
			s.metadata.ReferencesUsed = true
		}
	case KindPluginEnabled:
		if strings.Contains(ev.PluginType, "AI") || strings.Contains(ev.PluginType, "GENERATION") {
			s.metadata.AIToolsUsed = true
			s.metadata.AIPluginsDetected = true
			s.metadata.AIToolsList = mergeUnique(s.metadata.AIToolsList, []string{ev.PluginName})
		}
	case KindUndo, KindRedo:
		s.counters.UndoRedoCount++
	}
}

// AddDrawingTime accrues active drawing time. The host calls this while
// the user is working; idle periods are excluded from the total.
func (s *Session) AddDrawingTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.drawing += int64(d.Seconds())
}

// Snapshot returns an immutable view of the current counters and
// metadata without finalizing.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Counters:  s.countersLocked(),
		Metadata:  copyMetadata(s.metadata),
		Closed:    s.closed,
	}
}

// Events returns a copy of the event log. Intended for persistence.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// DrawingTimeSecs returns accrued active drawing time.
func (s *Session) DrawingTimeSecs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawing
}

// Finalize freezes the event sequence and returns the transcript. Any
// subsequent Record fails with ErrSessionClosed. Finalize is idempotent
// in effect but returns ErrSessionClosed on a second call, matching the
// consume-exactly-once lifecycle.
func (s *Session) Finalize() (*Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}
	s.closed = true

	events := make([]Event, len(s.events))
	copy(events, s.events)

	start, end := s.spanLocked()

	return &Transcript{
		ID:        s.id,
		CreatedAt: s.createdAt,
		Events:    events,
		Counters:  s.countersLocked(),
		Metadata:  copyMetadata(s.metadata),
		StartTime: start,
		EndTime:   end,
	}, nil
}

// countersLocked returns counters with time-derived fields filled in.
// Caller holds mu.
func (s *Session) countersLocked() Counters {
	c := s.counters
	c.DrawingTimeSecs = s.drawing

	if len(s.events) == 0 {
		c.DurationSecs = int64(time.Since(s.createdAt).Seconds())
	} else {
		first := s.events[0].Timestamp
		last := s.events[len(s.events)-1].Timestamp
		c.DurationSecs = last - first
	}
	if c.DurationSecs < 0 {
		c.DurationSecs = 0
	}
	return c
}

// spanLocked returns the session's start and end instants. Caller holds mu.
func (s *Session) spanLocked() (time.Time, time.Time) {
	if len(s.events) == 0 {
		now := time.Now().UTC()
		return s.createdAt, now
	}
	start := time.Unix(s.events[0].Timestamp, 0).UTC()
	end := time.Unix(s.events[len(s.events)-1].Timestamp, 0).UTC()
	return start, end
}

// TemporaryIdentity returns a fresh random session identity.
func TemporaryIdentity() string {
	return uuid.NewString()
}

func mergeUnique(base, add []string) []string {
	seen := make(map[string]bool, len(base))
	out := append([]string(nil), base...)
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range add {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func copyMetadata(m Metadata) Metadata {
	out := m
	out.AIToolsList = append([]string(nil), m.AIToolsList...)
	out.DetectedImports = append([]string(nil), m.DetectedImports...)
	return out
}
