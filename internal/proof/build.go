package proof

import (
	"encoding/hex"
	"errors"
	"fmt"

	"easeld/internal/classify"
	"easeld/internal/logging"
	"easeld/internal/phash"
	"easeld/internal/session"
)

// Warning is a non-fatal capability note produced while building a
// proof. The proof is still issued.
type Warning struct {
	Code    string
	Message string
}

// WarnPerceptualHashUnavailable marks an artifact that could not be
// fingerprinted; the proof records the explicit "unavailable" marker.
const WarnPerceptualHashUnavailable = "perceptual_hash_unavailable"

// Builder issues proofs for finalized sessions using an explicitly
// scoped credential.
type Builder struct {
	cred   Credential
	logger *logging.Logger
}

// NewBuilder returns a builder bound to one signing credential.
func NewBuilder(cred Credential, logger *logging.Logger) (*Builder, error) {
	if cred == nil {
		return nil, &SigningUnavailableError{Reason: "no credential configured"}
	}
	if logger == nil {
		logger = logging.Default()
	}
	b := &Builder{cred: cred, logger: logger.WithComponent("proof")}
	if cred.Version() == SigHMACV1 {
		// Symmetric fallback is legal but never quiet.
		b.logger.Warn("signing with deprecated symmetric fallback",
			"signature_version", SigHMACV1)
	}
	return b, nil
}

// Build assembles and signs a proof for a frozen session and the exact
// exported artifact bytes. Warnings are non-fatal.
func (b *Builder) Build(t *session.Transcript, artifact []byte) (*Document, []Warning, error) {
	if t == nil {
		return nil, nil, errors.New("proof: nil transcript")
	}

	eventsHash, err := EventsHash(t.Events)
	if err != nil {
		return nil, nil, err
	}

	var warnings []Warning
	perceptual, err := phash.Compute(artifact)
	if err != nil {
		perceptual = phash.Unavailable
		warnings = append(warnings, Warning{
			Code:    WarnPerceptualHashUnavailable,
			Message: err.Error(),
		})
		b.logger.Warn("perceptual hash unavailable", "error", err)
	}

	cls := classify.ClassifyTranscript(t)

	doc := &Document{
		Version:        Version,
		SessionID:      t.ID,
		EventsHash:     eventsHash,
		FileHash:       FileHash(artifact),
		PerceptualHash: perceptual,
		Classification: string(cls.Classification),
		EventSummary: EventSummary{
			TotalEvents: t.Counters.TotalEvents,
			StrokeCount: t.Counters.StrokeCount,
			LayerCount:  t.Counters.LayerCount,
			ImportCount: t.Counters.ImportCount,
		},
		Metadata: Metadata{
			AIToolsUsed: t.Metadata.AIToolsUsed,
			AIToolsList: toolsList(t.Metadata.AIToolsList),
		},
		NonCritical: NonCritical{
			StartTime:       formatTime(t.StartTime),
			EndTime:         formatTime(t.EndTime),
			DurationSeconds: t.Counters.DurationSecs,
			DocumentID:      t.Metadata.DocumentName,
		},
		SignatureVersion: b.cred.Version(),
	}

	payload, err := CanonicalPayload(doc)
	if err != nil {
		return nil, warnings, err
	}
	sig, err := b.cred.Sign(payload)
	if err != nil {
		return nil, warnings, fmt.Errorf("proof: sign: %w", err)
	}
	doc.Signature = hex.EncodeToString(sig)

	b.logger.Info("proof issued",
		"session_id", t.ID,
		"classification", doc.Classification,
		"signature_version", doc.SignatureVersion,
		"events", doc.EventSummary.TotalEvents)
	return doc, warnings, nil
}
