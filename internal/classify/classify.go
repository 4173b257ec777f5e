// Package classify derives an authorship classification from the facts
// of a finalized editing session. The rules are ordered and first-match;
// the result depends only on what happened in the session, never on the
// order events happened to arrive in.
package classify

import (
	"easeld/internal/session"
)

// Classification is the authorship verdict carried in a proof.
type Classification string

const (
	// HumanMade: no AI tool ran and no external content is composited
	// in the exported artifact.
	HumanMade Classification = "human-made"

	// MixedMedia: human work plus imported external content that is
	// visible in the export (textures, pasted images).
	MixedMedia Classification = "mixed-media"

	// AIAssisted: an AI generation plugin was enabled during the
	// session. Strongest rule; nothing upgrades away from it.
	AIAssisted Classification = "ai-assisted"
)

// Confidence qualifies a classification without changing it.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Result is the full classification output.
type Result struct {
	Classification Classification `json:"classification"`
	Confidence     Confidence     `json:"confidence"`

	// LowConfidence marks verdicts derived from too little signal,
	// most notably a zero-event session.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// Reasons lists the facts that drove the verdict, for logs and
	// diagnostics. Never included in signed material.
	Reasons []string `json:"reasons,omitempty"`
}

// Facts are the session-derived inputs the rules consume. Two sessions
// with equal Facts always classify identically.
type Facts struct {
	AIPluginDetected          bool
	VisibleNonReferenceImport bool
	ReferencesUsed            bool
	TotalEvents               int
	DurationSecs              int64
	UndoRedoCount             int
	StrokeCount               int
}

// FactsFromTranscript extracts classification facts from a frozen
// session.
func FactsFromTranscript(t *session.Transcript) Facts {
	f := Facts{
		AIPluginDetected: t.Metadata.AIPluginsDetected || t.Metadata.AIToolsUsed,
		ReferencesUsed:   t.Metadata.ReferencesUsed,
		TotalEvents:      t.Counters.TotalEvents,
		DurationSecs:     t.Counters.DurationSecs,
		UndoRedoCount:    t.Counters.UndoRedoCount,
		StrokeCount:      t.Counters.StrokeCount,
	}
	for _, ev := range t.Events {
		if ev.Kind != session.KindImport {
			continue
		}
		if ev.ImportType == session.ImportReference && !ev.Visible {
			// Hidden study reference; never demotes.
			continue
		}
		if ev.Visible {
			f.VisibleNonReferenceImport = true
		}
	}
	return f
}

// Classify applies the ordered rules to a set of facts.
func Classify(f Facts) Result {
	r := Result{Confidence: ConfidenceHigh}

	switch {
	case f.AIPluginDetected:
		r.Classification = AIAssisted
		r.Reasons = append(r.Reasons, "ai generation plugin enabled")
	case f.VisibleNonReferenceImport:
		r.Classification = MixedMedia
		r.Reasons = append(r.Reasons, "imported content composited in export")
	default:
		r.Classification = HumanMade
	}

	if f.ReferencesUsed {
		r.Reasons = append(r.Reasons, "hidden references used")
	}

	// Confidence shading. The verdict above never changes here.
	if f.TotalEvents == 0 {
		r.LowConfidence = true
		r.Confidence = ConfidenceLow
		r.Reasons = append(r.Reasons, "no events captured")
		return r
	}
	if f.TotalEvents < 10 {
		r.Confidence = ConfidenceLow
		r.Reasons = append(r.Reasons, "very short event log")
	}
	if f.DurationSecs > 0 && f.DurationSecs < 60 {
		r.Confidence = ConfidenceLow
		r.Reasons = append(r.Reasons, "very short session")
	}
	// A working undo rate reads as an iterative human process.
	if r.Confidence == ConfidenceLow && f.StrokeCount > 0 {
		rate := float64(f.UndoRedoCount) / float64(f.StrokeCount)
		if rate > 0.02 && rate < 0.5 {
			r.Confidence = ConfidenceHigh
			r.Reasons = append(r.Reasons, "healthy undo rate")
		}
	}
	return r
}

// ClassifyTranscript is the common entry point: facts extraction plus
// rule evaluation.
func ClassifyTranscript(t *session.Transcript) Result {
	return Classify(FactsFromTranscript(t))
}
