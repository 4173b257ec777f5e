// Package proof builds, signs, and verifies authorship proof documents.
//
// A proof is a JSON document split into a critical field set, covered by
// the signature, and a non_critical block that may be corrected after
// issuance without invalidating the signature. The split is reified in
// Schema so tests and tools enumerate it instead of re-deriving it.
package proof

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the proof document format version.
const Version = "1.0"

// Signature schemes, selected by signature_version.
const (
	// SigEd25519V1 is the preferred scheme. The private key is held
	// behind a trust boundary the end user cannot reach.
	SigEd25519V1 = "ed25519-v1"

	// SigHMACV1 is the deprecated symmetric fallback. It proves
	// internal consistency only, not third-party non-repudiation, and
	// is never selected silently.
	SigHMACV1 = "hmac-v1"
)

// EventSummary carries the aggregate counts covered by the signature.
type EventSummary struct {
	TotalEvents int `json:"total_events"`
	StrokeCount int `json:"stroke_count"`
	LayerCount  int `json:"layer_count"`
	ImportCount int `json:"import_count"`
}

// Metadata is the signed, non-identifying session metadata.
type Metadata struct {
	AIToolsUsed bool     `json:"ai_tools_used"`
	AIToolsList []string `json:"ai_tools_list"`
}

// NonCritical holds the fields deliberately excluded from signing.
// They may be corrected post-issuance; verification ignores them.
// Extra holds unknown fields added by later versions, preserved on
// round-trip.
type NonCritical struct {
	StartTime       string `json:"start_time,omitempty"`
	EndTime         string `json:"end_time,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	DocumentID      string `json:"document_id,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Document is a complete authorship proof.
type Document struct {
	Version          string       `json:"version"`
	SessionID        string       `json:"session_id"`
	EventsHash       string       `json:"events_hash"`
	FileHash         string       `json:"file_hash"`
	PerceptualHash   string       `json:"perceptual_hash"`
	Classification   string       `json:"classification"`
	EventSummary     EventSummary `json:"event_summary"`
	Metadata         Metadata     `json:"metadata"`
	NonCritical      NonCritical  `json:"non_critical"`
	Signature        string       `json:"signature"`
	SignatureVersion string       `json:"signature_version"`
}

// FieldSpec is one row of the proof schema: a top-level field and
// whether the signature covers it.
type FieldSpec struct {
	Name   string
	Signed bool
}

// Schema is the authoritative critical/non-critical split. The
// signature fields themselves are unsigned by construction.
var Schema = []FieldSpec{
	{Name: "version", Signed: true},
	{Name: "session_id", Signed: true},
	{Name: "events_hash", Signed: true},
	{Name: "file_hash", Signed: true},
	{Name: "perceptual_hash", Signed: true},
	{Name: "classification", Signed: true},
	{Name: "event_summary", Signed: true},
	{Name: "metadata", Signed: true},
	{Name: "signature_version", Signed: true},
	{Name: "non_critical", Signed: false},
	{Name: "signature", Signed: false},
}

// SignedFields returns the names of signature-covered fields.
func SignedFields() []string {
	var out []string
	for _, f := range Schema {
		if f.Signed {
			out = append(out, f.Name)
		}
	}
	return out
}

// Parse decodes a proof document. Unknown fields inside non_critical
// are preserved rather than rejected, so documents from newer issuers
// still verify.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("proof: parse document: %w", err)
	}
	return &doc, nil
}

// Encode serializes a proof document for storage or transport.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// UnmarshalJSON keeps unknown non_critical fields.
func (nc *NonCritical) UnmarshalJSON(data []byte) error {
	type known NonCritical
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*nc = NonCritical(k)

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, name := range []string{"start_time", "end_time", "duration_seconds", "document_id"} {
		delete(all, name)
	}
	if len(all) > 0 {
		nc.Extra = all
	}
	return nil
}

// MarshalJSON writes known fields plus any preserved unknown ones.
func (nc NonCritical) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4+len(nc.Extra))
	if nc.StartTime != "" {
		out["start_time"] = nc.StartTime
	}
	if nc.EndTime != "" {
		out["end_time"] = nc.EndTime
	}
	if nc.DurationSeconds != 0 {
		out["duration_seconds"] = nc.DurationSeconds
	}
	if nc.DocumentID != "" {
		out["document_id"] = nc.DocumentID
	}
	for name, raw := range nc.Extra {
		out[name] = raw
	}
	return json.Marshal(out)
}

// formatTime renders a proof timestamp.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
