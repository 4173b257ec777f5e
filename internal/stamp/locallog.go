package stamp

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"easeld/internal/security"
)

// LocalLog is the always-available fallback backend: an append-only
// JSONL file where each entry is HMAC-chained to the previous entry's
// signature. Truncating or editing the middle of the log breaks every
// signature after the edit.
type LocalLog struct {
	mu         sync.Mutex
	path       string
	secretPath string
}

// ErrChainBroken is returned by VerifyChain at the first entry whose
// signature does not match.
var ErrChainBroken = errors.New("stamp: local log chain broken")

// chainSeed anchors the first entry of a fresh log.
const chainSeed = "genesis"

// LocalLogEntry is one line of the append log.
type LocalLogEntry struct {
	Index         int     `json:"index"`
	Summary       Summary `json:"summary"`
	RecordedAt    string  `json:"recorded_at"`
	PrevSignature string  `json:"prev_signature"`
	Signature     string  `json:"signature"`
}

// NewLocalLog builds the local backend. The chaining secret lives next
// to the log and is created 0600 on first use.
func NewLocalLog(path string) *LocalLog {
	return &LocalLog{
		path:       path,
		secretPath: path + ".secret",
	}
}

func (l *LocalLog) Name() string   { return "local-chained-log" }
func (l *LocalLog) External() bool { return false }

func (l *LocalLog) Submit(ctx context.Context, s Summary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	secret, err := l.loadOrCreateSecret()
	if err != nil {
		return "", err
	}
	defer security.Wipe(secret)

	prev, index, err := l.tail()
	if err != nil {
		return "", err
	}

	entry := LocalLogEntry{
		Index:         index,
		Summary:       s,
		RecordedAt:    time.Now().UTC().Format(time.RFC3339),
		PrevSignature: prev,
	}
	sig, err := signEntry(secret, entry)
	if err != nil {
		return "", err
	}
	entry.Signature = sig

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return "", fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("append entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync log: %w", err)
	}

	return fmt.Sprintf("%s#%d", l.path, entry.Index), nil
}

// VerifyChain walks the whole log and checks every signature against
// its predecessor. Returns the entry count on success.
func (l *LocalLog) VerifyChain() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	secret, err := l.loadOrCreateSecret()
	if err != nil {
		return 0, err
	}
	defer security.Wipe(secret)

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	prev := chainSeed
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LocalLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return count, fmt.Errorf("%w: entry %d unreadable: %v", ErrChainBroken, count, err)
		}
		if entry.PrevSignature != prev || entry.Index != count {
			return count, fmt.Errorf("%w: entry %d", ErrChainBroken, count)
		}
		want, err := signEntry(secret, LocalLogEntry{
			Index: entry.Index, Summary: entry.Summary,
			RecordedAt: entry.RecordedAt, PrevSignature: entry.PrevSignature,
		})
		if err != nil {
			return count, err
		}
		if !chainSigEqual(want, entry.Signature) {
			return count, fmt.Errorf("%w: entry %d", ErrChainBroken, count)
		}
		prev = entry.Signature
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// tail returns the last entry's signature and the next index.
func (l *LocalLog) tail() (string, int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return chainSeed, 0, nil
		}
		return "", 0, err
	}
	defer f.Close()

	prev := chainSeed
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry LocalLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return "", 0, fmt.Errorf("log entry %d unreadable: %w", count, err)
		}
		prev = entry.Signature
		count++
	}
	if err := scanner.Err(); err != nil {
		return "", 0, err
	}
	return prev, count, nil
}

func (l *LocalLog) loadOrCreateSecret() ([]byte, error) {
	secret, err := os.ReadFile(l.secretPath)
	if err == nil {
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read log secret: %w", err)
	}

	secret, err = security.GenerateKey(security.RecommendedKeySize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(l.secretPath), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := os.WriteFile(l.secretPath, secret, 0600); err != nil {
		return nil, fmt.Errorf("write log secret: %w", err)
	}
	return secret, nil
}

// chainSigEqual compares two hex-encoded chain signatures in constant
// time. Anything that is not a well-formed SHA-256 digest never
// matches.
func chainSigEqual(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil || len(ab) != sha256.Size {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil || len(bb) != sha256.Size {
		return false
	}
	return security.SecureCompareHash([32]byte(ab), [32]byte(bb))
}

// signEntry computes the chained signature over the entry's canonical
// bytes with the Signature field empty.
func signEntry(secret []byte, entry LocalLogEntry) (string, error) {
	entry.Signature = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode entry for signing: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
