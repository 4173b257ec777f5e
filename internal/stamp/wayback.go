package stamp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// WebArchive requests a snapshot of the proof's public log page from a
// web-archive service, producing an independently dated copy.
type WebArchive struct {
	baseURL string
	// targetFor maps a summary to the public URL worth archiving,
	// normally the gist page carrying the same file hash.
	targetFor func(Summary) string
	client    *http.Client
}

const defaultArchiveURL = "https://web.archive.org"

// NewWebArchive builds the snapshot backend. baseURL overrides the
// service endpoint for tests. targetFor may be nil; the file hash is
// then archived through a hash-addressed lookup URL.
func NewWebArchive(baseURL string, targetFor func(Summary) string, client *http.Client) *WebArchive {
	if baseURL == "" {
		baseURL = defaultArchiveURL
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultBackendTimeout}
	}
	return &WebArchive{baseURL: baseURL, targetFor: targetFor, client: client}
}

func (w *WebArchive) Name() string   { return "web-archive" }
func (w *WebArchive) External() bool { return true }

func (w *WebArchive) Submit(ctx context.Context, s Summary) (string, error) {
	target := ""
	if w.targetFor != nil {
		target = w.targetFor(s)
	}
	if target == "" {
		target = defaultArchiveTarget(s)
	}
	if target == "" {
		return "", fmt.Errorf("no archive target for session %s", s.SessionID)
	}

	saveURL := w.baseURL + "/save/" + url.PathEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, saveURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("archive status %d", resp.StatusCode)
	}

	// The archive returns the snapshot location when it has one;
	// otherwise the save URL itself resolves to the latest snapshot.
	if loc := resp.Header.Get("Content-Location"); loc != "" {
		return w.baseURL + loc, nil
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		return loc, nil
	}
	return saveURL, nil
}

// defaultArchiveTarget is the hash-addressed public search page for the
// proof's file hash, used when no gist page URL is wired in.
func defaultArchiveTarget(s Summary) string {
	if s.FileHash == "" {
		return ""
	}
	return "https://gist.github.com/search?q=" + url.QueryEscape(s.FileHash)
}
