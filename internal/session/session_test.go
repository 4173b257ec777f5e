package session

import (
	"errors"
	"testing"
	"time"
)

func stroke(ts int64) Event {
	return Event{Kind: KindStroke, Timestamp: ts, X: 10, Y: 20, Pressure: 0.8, BrushName: "round"}
}

func TestRecordAndCounters(t *testing.T) {
	s := New()

	base := time.Now().Unix()
	for i := 0; i < 5; i++ {
		if err := s.Record(stroke(base + int64(i))); err != nil {
			t.Fatalf("Record stroke %d: %v", i, err)
		}
	}
	if err := s.Record(Event{Kind: KindLayerAdded, Timestamp: base + 5, LayerID: "l2", LayerType: "paint"}); err != nil {
		t.Fatalf("Record layer: %v", err)
	}
	if err := s.Record(Event{Kind: KindUndo, Timestamp: base + 6}); err != nil {
		t.Fatalf("Record undo: %v", err)
	}

	snap := s.Snapshot()
	if snap.Counters.TotalEvents != 7 {
		t.Errorf("TotalEvents = %d, want 7", snap.Counters.TotalEvents)
	}
	if snap.Counters.StrokeCount != 5 {
		t.Errorf("StrokeCount = %d, want 5", snap.Counters.StrokeCount)
	}
	// Default layer plus one added.
	if snap.Counters.LayerCount != 2 {
		t.Errorf("LayerCount = %d, want 2", snap.Counters.LayerCount)
	}
	if snap.Counters.UndoRedoCount != 1 {
		t.Errorf("UndoRedoCount = %d, want 1", snap.Counters.UndoRedoCount)
	}
	if snap.Counters.DurationSecs != 6 {
		t.Errorf("DurationSecs = %d, want 6", snap.Counters.DurationSecs)
	}
	if snap.Closed {
		t.Error("snapshot reports closed before finalize")
	}
}

func TestMalformedEventDroppedSessionContinues(t *testing.T) {
	s := New()

	err := s.Record(Event{Kind: KindStroke, Timestamp: 0})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}

	// Session still accepts well-formed events.
	if err := s.Record(stroke(time.Now().Unix())); err != nil {
		t.Fatalf("session did not continue after malformed event: %v", err)
	}
	if got := s.Snapshot().Counters.TotalEvents; got != 1 {
		t.Errorf("malformed event was recorded: TotalEvents = %d", got)
	}
}

func TestUnknownKindRejected(t *testing.T) {
	s := New()
	err := s.Record(Event{Kind: "teleport", Timestamp: time.Now().Unix()})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent for unknown kind, got %v", err)
	}
}

func TestFinalizeFreezes(t *testing.T) {
	s := New()
	base := time.Now().Unix()
	s.Record(stroke(base))

	tr, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(tr.Events) != 1 {
		t.Fatalf("transcript has %d events, want 1", len(tr.Events))
	}

	if err := s.Record(stroke(base + 1)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Record after Finalize = %v, want ErrSessionClosed", err)
	}
	if _, err := s.Finalize(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Finalize = %v, want ErrSessionClosed", err)
	}
}

func TestZeroEventFinalize(t *testing.T) {
	s := New()
	tr, err := s.Finalize()
	if err != nil {
		t.Fatalf("zero-event Finalize: %v", err)
	}
	if tr.Counters.TotalEvents != 0 {
		t.Errorf("TotalEvents = %d, want 0", tr.Counters.TotalEvents)
	}
	if tr.StartTime.After(tr.EndTime) {
		t.Error("start after end for zero-event transcript")
	}
}

func TestAIPluginUpdatesMetadata(t *testing.T) {
	s := New()
	ts := time.Now().Unix()
	s.Record(Event{Kind: KindPluginEnabled, Timestamp: ts, PluginName: "dream-diffuser", PluginType: AIPluginType})
	s.Record(Event{Kind: KindPluginEnabled, Timestamp: ts, PluginName: "color-picker", PluginType: "UTILITY"})

	meta := s.Snapshot().Metadata
	if !meta.AIToolsUsed {
		t.Error("AIToolsUsed not set after AI plugin event")
	}
	if len(meta.AIToolsList) != 1 || meta.AIToolsList[0] != "dream-diffuser" {
		t.Errorf("AIToolsList = %v", meta.AIToolsList)
	}
}

func TestHiddenReferenceSetsReferencesUsed(t *testing.T) {
	s := New()
	s.Record(Event{
		Kind: KindImport, Timestamp: time.Now().Unix(),
		FileHash: "abc", ImportType: ImportReference, Visible: false,
	})

	meta := s.Snapshot().Metadata
	if !meta.ReferencesUsed {
		t.Error("ReferencesUsed not set for hidden reference import")
	}
}

func TestDrawingTimeAccrual(t *testing.T) {
	s := New()
	s.AddDrawingTime(90 * time.Second)
	s.AddDrawingTime(30 * time.Second)
	if got := s.DrawingTimeSecs(); got != 120 {
		t.Errorf("DrawingTimeSecs = %d, want 120", got)
	}
}

func TestRestoreRebuildsCounters(t *testing.T) {
	base := time.Now().Unix()
	events := []Event{
		stroke(base),
		{Kind: KindImport, Timestamp: base + 1, FileHash: "h1", ImportType: ImportPaste, Visible: true},
	}

	s := Restore("some-id", time.Now().Add(-time.Hour), events, Metadata{OS: "linux"}, 55)

	snap := s.Snapshot()
	if snap.Counters.StrokeCount != 1 || snap.Counters.ImportCount != 1 {
		t.Errorf("restored counters wrong: %+v", snap.Counters)
	}
	if snap.Counters.DrawingTimeSecs != 55 {
		t.Errorf("DrawingTimeSecs = %d, want 55", snap.Counters.DrawingTimeSecs)
	}
	if err := s.Record(stroke(base + 2)); err != nil {
		t.Errorf("restored session not open: %v", err)
	}
}

func TestRegistrySingleWriter(t *testing.T) {
	r := NewRegistry()

	a := New()
	if err := r.Acquire(a); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// A second session restored under the same identity must be refused.
	b := Restore(a.ID(), time.Now(), nil, Metadata{}, 0)
	if err := r.Acquire(b); !errors.Is(err, ErrIdentityBusy) {
		t.Errorf("second Acquire = %v, want ErrIdentityBusy", err)
	}

	r.Release(a.ID())
	if err := r.Acquire(b); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
}

func TestRegistryMigrate(t *testing.T) {
	r := NewRegistry()
	s := New()
	oldID := s.ID()
	s.Record(stroke(time.Now().Unix()))
	if err := r.Acquire(s); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	newID := "doc-" + oldID
	if err := r.Migrate(oldID, newID); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if s.ID() != newID {
		t.Errorf("session id = %s, want %s", s.ID(), newID)
	}
	if r.Held(oldID) {
		t.Error("old identity still held after migration")
	}
	if !r.Held(newID) {
		t.Error("new identity not held after migration")
	}
	// Rename, not copy: the event log survives.
	if len(s.Events()) != 1 {
		t.Errorf("events lost in migration: %d", len(s.Events()))
	}
}

func TestMigrateUnknownIdentity(t *testing.T) {
	r := NewRegistry()
	if err := r.Migrate("nope", "other"); !errors.Is(err, ErrIdentityUnknown) {
		t.Errorf("Migrate unknown = %v, want ErrIdentityUnknown", err)
	}
}
