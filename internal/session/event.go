package session

import (
	"errors"
	"fmt"
)

// EventKind identifies the type of a captured editing event.
type EventKind string

// Event kinds delivered by the host application.
const (
	KindStroke        EventKind = "stroke"
	KindLayerAdded    EventKind = "layer_added"
	KindLayerRemoved  EventKind = "layer_removed"
	KindImport        EventKind = "import"
	KindPluginEnabled EventKind = "plugin_enabled"
	KindUndo          EventKind = "undo"
	KindRedo          EventKind = "redo"
	KindIdle          EventKind = "idle"
)

// AIPluginType marks a plugin event as an AI generation tool.
// Any plugin whose type contains this marker forces the AIAssisted
// classification.
const AIPluginType = "AI_GENERATION"

// Import types. Reference imports are study references that never appear
// in the exported artifact; they do not demote classification.
const (
	ImportReference = "reference_image"
	ImportTexture   = "texture"
	ImportPaste     = "paste"
)

// Event is a single captured editing action. Events are immutable and
// arrival-ordered; only the fields for the event's kind are populated.
type Event struct {
	Kind      EventKind `json:"type"`
	Timestamp int64     `json:"timestamp"` // unix seconds

	// Stroke payload.
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Pressure  float64 `json:"pressure,omitempty"`
	BrushName string  `json:"brush_name,omitempty"`

	// Layer payload.
	LayerID   string `json:"layer_id,omitempty"`
	LayerType string `json:"layer_type,omitempty"`

	// Import payload. FileHash is the SHA-256 of the imported bytes.
	FileHash   string `json:"file_hash,omitempty"`
	ImportType string `json:"import_type,omitempty"`
	FileSize   uint64 `json:"file_size,omitempty"`
	// Visible reports whether the imported content remains composited
	// in the final export. Hidden references carry Visible=false.
	Visible bool `json:"visible,omitempty"`

	// Plugin payload.
	PluginName string `json:"plugin_name,omitempty"`
	PluginType string `json:"plugin_type,omitempty"`

	// Idle payload.
	IdleSecs int64 `json:"idle_secs,omitempty"`
}

// ErrMalformedEvent is the base error for capture validation failures.
// A malformed event is dropped; the session continues.
var ErrMalformedEvent = errors.New("session: malformed event")

// Validate checks that an event is well-formed for its kind.
func (e Event) Validate() error {
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}

	switch e.Kind {
	case KindStroke:
		if e.Pressure < 0 || e.Pressure > 1 {
			return fmt.Errorf("%w: stroke pressure %v out of range", ErrMalformedEvent, e.Pressure)
		}
	case KindLayerAdded, KindLayerRemoved:
		if e.LayerID == "" {
			return fmt.Errorf("%w: layer event without layer_id", ErrMalformedEvent)
		}
	case KindImport:
		if e.FileHash == "" {
			return fmt.Errorf("%w: import event without file_hash", ErrMalformedEvent)
		}
	case KindPluginEnabled:
		if e.PluginName == "" {
			return fmt.Errorf("%w: plugin event without plugin_name", ErrMalformedEvent)
		}
	case KindUndo, KindRedo, KindIdle:
		// No kind-specific payload required.
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}

	return nil
}

// IsReference reports whether an import event is a hidden study reference.
func (e Event) IsReference() bool {
	return e.Kind == KindImport && e.ImportType == ImportReference && !e.Visible
}
