package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"easeld/internal/session"
)

// Canonical byte forms. Signing and verification must produce identical
// bytes from the same critical fields, so both go through one function.
// encoding/json gives us the canonical form directly: object keys are
// emitted sorted and without insignificant whitespace.

// CanonicalPayload returns the exact bytes the signature covers.
func CanonicalPayload(d *Document) ([]byte, error) {
	payload := map[string]any{
		"version":         d.Version,
		"session_id":      d.SessionID,
		"events_hash":     d.EventsHash,
		"file_hash":       d.FileHash,
		"perceptual_hash": d.PerceptualHash,
		"classification":  d.Classification,
		"event_summary": map[string]any{
			"total_events": d.EventSummary.TotalEvents,
			"stroke_count": d.EventSummary.StrokeCount,
			"layer_count":  d.EventSummary.LayerCount,
			"import_count": d.EventSummary.ImportCount,
		},
		"metadata": map[string]any{
			"ai_tools_used": d.Metadata.AIToolsUsed,
			"ai_tools_list": toolsList(d.Metadata.AIToolsList),
		},
		"signature_version": d.SignatureVersion,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("proof: canonical payload: %w", err)
	}
	return data, nil
}

// toolsList normalizes nil to an empty array so issuers agree on bytes.
func toolsList(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// EventsHash hashes the frozen event sequence in arrival order. Event
// serialization is order-preserving (a JSON array of fixed-shape
// objects), so any reordering or edit changes the hash.
func EventsHash(events []session.Event) (string, error) {
	if events == nil {
		events = []session.Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("proof: serialize events: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FileHash hashes exact artifact bytes, prefixed with the algorithm.
func FileHash(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return "sha256:" + hex.EncodeToString(sum[:])
}
