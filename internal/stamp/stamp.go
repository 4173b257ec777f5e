// Package stamp anchors issued proofs in time across independent
// backends. Each backend is its own failure domain: submissions run
// concurrently with per-backend timeouts, and one backend going dark
// never blocks the others.
//
// A proof is usable once any backend succeeds; full trust additionally
// needs at least one success from a backend outside this machine.
package stamp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"easeld/internal/logging"
	"easeld/internal/proof"
)

// Record status values.
const (
	StatusRecorded = "recorded"
	StatusFailed   = "failed"
)

// ErrNoBackends is returned when the orchestrator has nothing to
// submit to.
var ErrNoBackends = errors.New("stamp: no backends configured")

// TimestampRecord is the durable outcome of one backend attempt.
type TimestampRecord struct {
	ServiceName       string    `json:"service_name"`
	ExternalReference string    `json:"external_reference,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
}

// BackendError wraps a backend failure so it lands in a record instead
// of aborting the submission.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("stamp: backend %s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Summary is the aggregate payload sent to backends. It carries proof
// details only; host or user identifying information never leaves the
// machine.
type Summary struct {
	FileHash       string `json:"file_hash"`
	PerceptualHash string `json:"perceptual_hash"`
	EventsHash     string `json:"events_hash"`
	Classification string `json:"classification"`
	TotalEvents    int    `json:"total_events"`
	StrokeCount    int    `json:"stroke_count"`
	SessionID      string `json:"session_id"`
}

// SummaryFromProof projects a proof document onto the wire summary.
func SummaryFromProof(d *proof.Document) Summary {
	return Summary{
		FileHash:       d.FileHash,
		PerceptualHash: d.PerceptualHash,
		EventsHash:     d.EventsHash,
		Classification: d.Classification,
		TotalEvents:    d.EventSummary.TotalEvents,
		StrokeCount:    d.EventSummary.StrokeCount,
		SessionID:      d.SessionID,
	}
}

// Backend submits a proof summary to one timestamping service.
type Backend interface {
	// Name is the service_name recorded in timestamp records.
	Name() string
	// External reports whether the backend is outside this machine's
	// control. Full trust requires one external success.
	External() bool
	// Submit anchors the summary and returns a durable reference.
	Submit(ctx context.Context, s Summary) (string, error)
}

// Result is the outcome of one orchestrated submission.
type Result struct {
	Records []TimestampRecord `json:"records"`
	// SuccessCount counts recorded backends. The proof is usable at
	// >= 1.
	SuccessCount int `json:"success_count"`
	// ExternalSuccess is true when a non-local backend recorded.
	ExternalSuccess bool `json:"external_success"`
}

// Orchestrator fans a submission out to all configured backends.
type Orchestrator struct {
	backends []Backend
	timeout  time.Duration
	logger   *logging.Logger
}

// DefaultBackendTimeout bounds one backend attempt.
const DefaultBackendTimeout = 15 * time.Second

// NewOrchestrator builds an orchestrator. A zero timeout selects
// DefaultBackendTimeout.
func NewOrchestrator(backends []Backend, timeout time.Duration, logger *logging.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		backends: backends,
		timeout:  timeout,
		logger:   logger.WithComponent("stamp"),
	}
}

// Submit anchors a proof with every backend concurrently and returns
// once all have settled. Cancellation stops the wait and returns the
// records completed so far; in-flight attempts are abandoned, since a
// late timestamp is still valid evidence.
func (o *Orchestrator) Submit(ctx context.Context, d *proof.Document) (*Result, error) {
	if len(o.backends) == 0 {
		return nil, ErrNoBackends
	}
	summary := SummaryFromProof(d)

	type outcome struct {
		backend Backend
		record  TimestampRecord
	}
	results := make(chan outcome, len(o.backends))

	var wg sync.WaitGroup
	for _, b := range o.backends {
		wg.Add(1)
		go func(b Backend) {
			defer wg.Done()
			results <- outcome{backend: b, record: o.attempt(ctx, b, summary)}
		}(b)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	res := &Result{}
	settled := 0
	for settled < len(o.backends) {
		select {
		case out, ok := <-results:
			if !ok {
				settled = len(o.backends)
				break
			}
			settled++
			res.Records = append(res.Records, out.record)
			if out.record.Status == StatusRecorded {
				res.SuccessCount++
				if out.backend.External() {
					res.ExternalSuccess = true
				}
			}
		case <-ctx.Done():
			o.logger.Warn("submission cancelled, abandoning in-flight backends",
				"settled", settled, "total", len(o.backends))
			return res, ctx.Err()
		}
	}

	o.logger.Info("timestamp submission settled",
		"success_count", res.SuccessCount,
		"external_success", res.ExternalSuccess,
		"backends", len(o.backends))
	return res, nil
}

// attempt runs one backend with its own timeout and a single retry.
func (o *Orchestrator) attempt(ctx context.Context, b Backend, s Summary) TimestampRecord {
	var lastErr error
	for try := 0; try < 2; try++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		ref, err := b.Submit(attemptCtx, s)
		cancel()
		if err == nil {
			return TimestampRecord{
				ServiceName:       b.Name(),
				ExternalReference: ref,
				RecordedAt:        time.Now().UTC(),
				Status:            StatusRecorded,
			}
		}
		lastErr = &BackendError{Backend: b.Name(), Err: err}
		if ctx.Err() != nil {
			break
		}
	}

	o.logger.Warn("backend failed", "backend", b.Name(), "error", lastErr)
	return TimestampRecord{
		ServiceName: b.Name(),
		RecordedAt:  time.Now().UTC(),
		Status:      StatusFailed,
		Error:       lastErr.Error(),
	}
}
