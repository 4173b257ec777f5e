// Package match answers "was this artifact certified?" against the
// index of issued proofs. Resolution is exact file hash first, then
// nearest perceptual fingerprint within a Hamming threshold, then no
// match. A miss is a result value, never an error.
package match

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"easeld/internal/phash"
	"easeld/internal/proof"
)

// Schema for the proof index.
const schema = `
CREATE TABLE IF NOT EXISTS proofs (
    session_id      TEXT PRIMARY KEY,
    file_hash       TEXT NOT NULL,
    perceptual_hash TEXT NOT NULL,
    classification  TEXT NOT NULL,
    issued_at       INTEGER NOT NULL,
    document        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_proofs_file_hash ON proofs(file_hash);
CREATE INDEX IF NOT EXISTS idx_proofs_perceptual ON proofs(perceptual_hash);
`

// Match kinds, in decreasing confidence.
const (
	MatchOriginal  = "original-file"
	MatchReencoded = "re-encoded"
	MatchNone      = "no-match"
)

// DefaultHammingThreshold is the widest fingerprint distance still
// accepted as a re-encode, out of 256 bits.
const DefaultHammingThreshold = 16

// ErrDuplicateProof is returned when a session's proof is indexed twice.
var ErrDuplicateProof = errors.New("match: proof already indexed")

// MatchResult resolves a verification query. Kind MatchNone means the
// artifact has no certified ancestor in the index; that is an answer,
// not a failure.
type MatchResult struct {
	Kind       string `json:"kind"`
	Confidence string `json:"confidence,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	// Distance is the fingerprint Hamming distance for re-encoded
	// matches.
	Distance int `json:"distance,omitempty"`
	// Document is the matched proof, when any.
	Document *proof.Document `json:"document,omitempty"`
}

// Index is the SQLite-backed registry of issued proofs.
type Index struct {
	db        *sql.DB
	threshold int
}

// Open opens or creates the proof index. threshold <= 0 selects
// DefaultHammingThreshold.
func Open(path string, threshold int) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if threshold <= 0 {
		threshold = DefaultHammingThreshold
	}
	return &Index{db: db, threshold: threshold}, nil
}

// Close releases the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Add indexes an issued proof.
func (ix *Index) Add(d *proof.Document) error {
	doc, err := d.Encode()
	if err != nil {
		return fmt.Errorf("encode proof: %w", err)
	}
	_, err = ix.db.Exec(
		`INSERT INTO proofs (session_id, file_hash, perceptual_hash, classification, issued_at, document)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.FileHash, d.PerceptualHash, d.Classification,
		time.Now().UTC().Unix(), string(doc),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateProof, d.SessionID)
		}
		return fmt.Errorf("index proof: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// Matching on the message avoids importing the driver's error
	// types here.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Lookup resolves an uploaded artifact's hashes against the index.
// Both hashes must come from the same algorithms the issuing side used;
// a mismatched algorithm silently looks like no match, which is why the
// encodings carry version prefixes.
func (ix *Index) Lookup(fileHash, perceptualHash string) (*MatchResult, error) {
	// Exact byte identity first.
	row := ix.db.QueryRow(`SELECT session_id, document FROM proofs WHERE file_hash = ? LIMIT 1`, fileHash)
	var sessionID, docJSON string
	err := row.Scan(&sessionID, &docJSON)
	switch {
	case err == nil:
		doc, perr := proof.Parse([]byte(docJSON))
		if perr != nil {
			return nil, perr
		}
		return &MatchResult{
			Kind:       MatchOriginal,
			Confidence: "high",
			SessionID:  sessionID,
			Document:   doc,
		}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("query file hash: %w", err)
	}

	// Nearest fingerprint within the threshold.
	if !phash.Valid(perceptualHash) {
		return &MatchResult{Kind: MatchNone}, nil
	}

	rows, err := ix.db.Query(`SELECT session_id, perceptual_hash, document FROM proofs WHERE perceptual_hash != ?`, phash.Unavailable)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	best := &MatchResult{Kind: MatchNone}
	bestDist := ix.threshold + 1
	for rows.Next() {
		var sid, fp, doc string
		if err := rows.Scan(&sid, &fp, &doc); err != nil {
			return nil, err
		}
		dist, err := phash.Distance(perceptualHash, fp)
		if err != nil {
			continue
		}
		if dist < bestDist {
			bestDist = dist
			best = &MatchResult{
				Kind:       MatchReencoded,
				Confidence: "lower",
				SessionID:  sid,
				Distance:   dist,
			}
			parsed, perr := proof.Parse([]byte(doc))
			if perr == nil {
				best.Document = parsed
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return best, nil
}

// LookupArtifact recomputes both hashes from raw bytes with the issuing
// algorithms and resolves them.
func (ix *Index) LookupArtifact(artifact []byte) (*MatchResult, error) {
	fileHash := proof.FileHash(artifact)
	perceptual, err := phash.Compute(artifact)
	if err != nil {
		perceptual = phash.Unavailable
	}
	return ix.Lookup(fileHash, perceptual)
}

// Count returns the number of indexed proofs.
func (ix *Index) Count() (int, error) {
	var n int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM proofs`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
