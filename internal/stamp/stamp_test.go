package stamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"easeld/internal/config"
	"easeld/internal/proof"
)

func testDocument() *proof.Document {
	return &proof.Document{
		Version:        proof.Version,
		SessionID:      "session-test",
		EventsHash:     strings.Repeat("ab", 32),
		FileHash:       "sha256:" + strings.Repeat("cd", 32),
		PerceptualHash: "phash:v1:" + strings.Repeat("ef", 32),
		Classification: "human-made",
		EventSummary:   proof.EventSummary{TotalEvents: 120, StrokeCount: 100, LayerCount: 3, ImportCount: 0},
	}
}

// fakeBackend is a scriptable in-process backend.
type fakeBackend struct {
	name     string
	external bool
	delay    time.Duration
	// ignoreCancel simulates a backend that cannot be interrupted, so
	// cancellation must abandon it rather than wait.
	ignoreCancel bool
	failures     int32
	calls        int32
}

func (f *fakeBackend) Name() string   { return f.name }
func (f *fakeBackend) External() bool { return f.external }

func (f *fakeBackend) Submit(ctx context.Context, s Summary) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		if f.ignoreCancel {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return "", errors.New("backend down")
	}
	return "ref://" + f.name, nil
}

func TestSubmitAllSucceed(t *testing.T) {
	o := NewOrchestrator([]Backend{
		&fakeBackend{name: "a", external: true},
		&fakeBackend{name: "b", external: true},
		&fakeBackend{name: "c"},
	}, time.Second, nil)

	res, err := o.Submit(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SuccessCount != 3 {
		t.Errorf("success_count = %d, want 3", res.SuccessCount)
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3", len(res.Records))
	}
	if !res.ExternalSuccess {
		t.Error("external success not reported")
	}
	for _, r := range res.Records {
		if r.Status != StatusRecorded || r.ExternalReference == "" {
			t.Errorf("record %s: status=%s ref=%q", r.ServiceName, r.Status, r.ExternalReference)
		}
	}
}

func TestSubmitPartialOutage(t *testing.T) {
	// Two external backends down, only the local one answers.
	o := NewOrchestrator([]Backend{
		&fakeBackend{name: "gist", external: true, failures: 10},
		&fakeBackend{name: "archive", external: true, failures: 10},
		&fakeBackend{name: "local"},
	}, 200*time.Millisecond, nil)

	start := time.Now()
	res, err := o.Submit(context.Background(), testDocument())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if res.SuccessCount != 1 {
		t.Errorf("success_count = %d, want 1", res.SuccessCount)
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d, want 3 (failures must still produce records)", len(res.Records))
	}
	if res.ExternalSuccess {
		t.Error("external success reported with all external backends down")
	}
	// Failures ran concurrently, so total time is bounded by one
	// backend's attempts, not the sum over backends.
	if elapsed > 2*time.Second {
		t.Errorf("submission took %v, backends did not run concurrently", elapsed)
	}

	failed := 0
	for _, r := range res.Records {
		if r.Status == StatusFailed {
			failed++
			if r.Error == "" {
				t.Errorf("failed record %s missing error detail", r.ServiceName)
			}
		}
	}
	if failed != 2 {
		t.Errorf("failed records = %d, want 2", failed)
	}
}

func TestSubmitRetriesOnce(t *testing.T) {
	b := &fakeBackend{name: "flaky", external: true, failures: 1}
	o := NewOrchestrator([]Backend{b}, time.Second, nil)

	res, err := o.Submit(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SuccessCount != 1 {
		t.Errorf("success_count = %d, want 1 (single retry should recover)", res.SuccessCount)
	}
	if got := atomic.LoadInt32(&b.calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestSubmitCancellationReturnsCompleted(t *testing.T) {
	o := NewOrchestrator([]Backend{
		&fakeBackend{name: "fast", external: true},
		&fakeBackend{name: "slow", delay: 10 * time.Second, ignoreCancel: true},
	}, 30*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	res, err := o.Submit(ctx, testDocument())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || len(res.Records) != 1 {
		t.Fatalf("completed records not returned on cancellation: %+v", res)
	}
	if res.Records[0].ServiceName != "fast" {
		t.Errorf("completed record = %s, want fast", res.Records[0].ServiceName)
	}
}

func TestSubmitNoBackends(t *testing.T) {
	o := NewOrchestrator(nil, time.Second, nil)
	if _, err := o.Submit(context.Background(), testDocument()); !errors.Is(err, ErrNoBackends) {
		t.Errorf("err = %v, want ErrNoBackends", err)
	}
}

func TestGistLogPayloadIsAggregateOnly(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var req struct {
			Public bool                      `json:"public"`
			Files  map[string]map[string]any `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Public {
			t.Error("gist must be public")
		}
		for _, f := range req.Files {
			captured = []byte(f["content"].(string))
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "g1", "html_url": "https://gist.test/g1"})
	}))
	defer srv.Close()

	g := NewGistLog(srv.URL, "tok", "", srv.Client())
	ref, err := g.Submit(context.Background(), SummaryFromProof(testDocument()))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ref != "https://gist.test/g1" {
		t.Errorf("ref = %q", ref)
	}

	var posted map[string]any
	if err := json.Unmarshal(captured, &posted); err != nil {
		t.Fatalf("posted content not JSON: %v", err)
	}
	for _, forbidden := range []string{"os", "host_version", "document_name", "document_id"} {
		if _, ok := posted[forbidden]; ok {
			t.Errorf("gist payload leaks %q", forbidden)
		}
	}
	if posted["file_hash"] == "" || posted["classification"] == "" {
		t.Error("gist payload missing aggregate proof fields")
	}
}

func TestGistLogRequiresToken(t *testing.T) {
	g := NewGistLog("http://unused", "", "", nil)
	if _, err := g.Submit(context.Background(), Summary{}); !errors.Is(err, ErrGistUnconfigured) {
		t.Errorf("err = %v, want ErrGistUnconfigured", err)
	}
}

func TestWebArchiveSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/save/") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Location", "/web/2026/https%3A%2F%2Fgist.test%2Fg1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wa := NewWebArchive(srv.URL, func(s Summary) string { return "https://gist.test/g1" }, srv.Client())
	ref, err := wa.Submit(context.Background(), Summary{SessionID: "s"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(ref, srv.URL+"/web/") {
		t.Errorf("ref = %q", ref)
	}
}

func TestLocalLogChain(t *testing.T) {
	dir := t.TempDir()
	l := NewLocalLog(filepath.Join(dir, "timestamps.jsonl"))

	for i := 0; i < 3; i++ {
		ref, err := l.Submit(context.Background(), Summary{
			SessionID: fmt.Sprintf("s%d", i),
			FileHash:  "sha256:" + strings.Repeat("0", 64),
		})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		if !strings.HasSuffix(ref, fmt.Sprintf("#%d", i)) {
			t.Errorf("ref = %q, want index suffix %d", ref, i)
		}
	}

	count, err := l.VerifyChain()
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if count != 3 {
		t.Errorf("chain length = %d, want 3", count)
	}

	info, err := os.Stat(filepath.Join(dir, "timestamps.jsonl.secret"))
	if err != nil {
		t.Fatalf("stat secret: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secret mode = %o, want 0600", perm)
	}
}

func TestLocalLogDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timestamps.jsonl")
	l := NewLocalLog(path)

	for i := 0; i < 3; i++ {
		if _, err := l.Submit(context.Background(), Summary{SessionID: fmt.Sprintf("s%d", i)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	// Edit the middle entry's summary.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	tampered := strings.Replace(string(data), `"session_id":"s1"`, `"session_id":"sX"`, 1)
	if tampered == string(data) {
		t.Fatal("tamper replacement did not apply")
	}
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatalf("write tampered log: %v", err)
	}

	if _, err := l.VerifyChain(); !errors.Is(err, ErrChainBroken) {
		t.Errorf("err = %v, want ErrChainBroken", err)
	}
}

func TestOrchestratorEndToEndWithLocalLog(t *testing.T) {
	dir := t.TempDir()
	o := NewOrchestrator([]Backend{
		NewLocalLog(filepath.Join(dir, "timestamps.jsonl")),
	}, time.Second, nil)

	res, err := o.Submit(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SuccessCount != 1 {
		t.Errorf("success_count = %d, want 1", res.SuccessCount)
	}
	if res.ExternalSuccess {
		t.Error("local-only submission must not report external success")
	}
}

func TestWebArchiveDefaultTarget(t *testing.T) {
	var saved string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		saved = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wa := NewWebArchive(srv.URL, nil, srv.Client())
	fileHash := "sha256:" + strings.Repeat("ab", 32)
	if _, err := wa.Submit(context.Background(), Summary{SessionID: "s", FileHash: fileHash}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.Contains(saved, "gist.github.com") || !strings.Contains(saved, strings.Repeat("ab", 32)) {
		t.Errorf("archived target = %q, want hash-addressed search page", saved)
	}
}

func TestFromConfigLocalOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StampConfig{
		Local:        config.StampBackendConfig{Enabled: true, TimeoutSec: 5},
		LocalLogPath: filepath.Join(dir, "timestamps.jsonl"),
	}

	o := FromConfig(cfg, nil)
	res, err := o.Submit(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SuccessCount != 1 {
		t.Errorf("success_count = %d, want 1", res.SuccessCount)
	}
	if res.ExternalSuccess {
		t.Error("local-only configuration must not report external success")
	}
	if _, err := os.Stat(cfg.LocalLogPath); err != nil {
		t.Errorf("chained log not written: %v", err)
	}
}

func TestFromConfigSkipsGistWithoutToken(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StampConfig{
		Gist:         config.StampBackendConfig{Enabled: true},
		Local:        config.StampBackendConfig{Enabled: true},
		LocalLogPath: filepath.Join(dir, "timestamps.jsonl"),
	}

	o := FromConfig(cfg, nil)
	res, err := o.Submit(context.Background(), testDocument())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].ServiceName != "local-chained-log" {
		t.Errorf("records = %+v, want the local backend only", res.Records)
	}
}

func TestNewHTTPClientFallsBackToSystemRoots(t *testing.T) {
	client := NewHTTPClient(TLSPolicy{BundlePath: filepath.Join(t.TempDir(), "missing.pem")}, time.Second, nil)
	if client == nil {
		t.Fatal("nil client")
	}
	tr, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T", client.Transport)
	}
	if tr.TLSClientConfig != nil && tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("unverified TLS selected without permission")
	}
}
