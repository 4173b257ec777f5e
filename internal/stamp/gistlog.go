package stamp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GistLog appends proof summaries to a public append-only gist. The
// gist is world-readable, so the payload is strictly the aggregate
// summary: hashes, classification, counts. Nothing about the host or
// the user is ever posted.
type GistLog struct {
	baseURL string
	token   string
	gistID  string
	client  *http.Client
}

const defaultGistAPI = "https://api.github.com"

// ErrGistUnconfigured is returned when no API token is set.
var ErrGistUnconfigured = errors.New("stamp: gist log requires an api token")

// NewGistLog builds the public-log backend. baseURL overrides the API
// endpoint for tests; empty selects the real API. gistID may be empty,
// in which case each submission creates a fresh public gist.
func NewGistLog(baseURL, token, gistID string, client *http.Client) *GistLog {
	if baseURL == "" {
		baseURL = defaultGistAPI
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultBackendTimeout}
	}
	return &GistLog{baseURL: baseURL, token: token, gistID: gistID, client: client}
}

func (g *GistLog) Name() string   { return "public-gist-log" }
func (g *GistLog) External() bool { return true }

type gistFile struct {
	Content string `json:"content"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	ID      string `json:"id"`
	HTMLURL string `json:"html_url"`
}

func (g *GistLog) Submit(ctx context.Context, s Summary) (string, error) {
	if g.token == "" {
		return "", ErrGistUnconfigured
	}

	entry, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}

	filename := fmt.Sprintf("proof-%s-%d.json", s.SessionID, time.Now().UTC().Unix())
	body, err := json.Marshal(gistRequest{
		Description: "authorship proof timestamp",
		Public:      true,
		Files:       map[string]gistFile{filename: {Content: string(entry)}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	method, url := http.MethodPost, g.baseURL+"/gists"
	if g.gistID != "" {
		method, url = http.MethodPatch, g.baseURL+"/gists/"+g.gistID
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("gist api status %d: %s", resp.StatusCode, snippet)
	}

	var parsed gistResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.HTMLURL != "" {
		return parsed.HTMLURL, nil
	}
	return parsed.ID, nil
}
