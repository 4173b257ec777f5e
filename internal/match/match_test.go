package match

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"testing"

	"easeld/internal/proof"
	"easeld/internal/session"
)

func paintedImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 150, A: 255})
		}
	}
	for y := 40; y < 120; y++ {
		for x := 60; x < 200; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 200, B: 80, A: 255})
		}
	}
	return img
}

func issueProof(t *testing.T, artifact []byte) *proof.Document {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cred, err := proof.NewEd25519Credential(priv)
	if err != nil {
		t.Fatalf("credential: %v", err)
	}
	b, err := proof.NewBuilder(cred, nil)
	if err != nil {
		t.Fatalf("builder: %v", err)
	}

	s := session.New()
	for i := 0; i < 20; i++ {
		if err := s.Record(session.Event{Kind: session.KindStroke, Timestamp: int64(1000 + i), Pressure: 0.5}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	tr, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	doc, _, err := b.Build(tr, artifact)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return doc
}

func openIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "proofs.db"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestExactMatch(t *testing.T) {
	ix := openIndex(t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, paintedImage()); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	artifact := buf.Bytes()

	doc := issueProof(t, artifact)
	if err := ix.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := ix.LookupArtifact(artifact)
	if err != nil {
		t.Fatalf("LookupArtifact: %v", err)
	}
	if res.Kind != MatchOriginal {
		t.Errorf("kind = %s, want %s", res.Kind, MatchOriginal)
	}
	if res.Confidence != "high" {
		t.Errorf("confidence = %s, want high", res.Confidence)
	}
	if res.SessionID != doc.SessionID {
		t.Errorf("session = %s, want %s", res.SessionID, doc.SessionID)
	}
	if res.Document == nil || res.Document.FileHash != doc.FileHash {
		t.Error("matched document not returned intact")
	}
}

func TestReencodedMatch(t *testing.T) {
	ix := openIndex(t)
	img := paintedImage()

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	doc := issueProof(t, pngBuf.Bytes())
	if err := ix.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The verifier only sees a JPEG re-encode of the certified PNG.
	var jpgBuf bytes.Buffer
	if err := jpeg.Encode(&jpgBuf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}

	res, err := ix.LookupArtifact(jpgBuf.Bytes())
	if err != nil {
		t.Fatalf("LookupArtifact: %v", err)
	}
	if res.Kind != MatchReencoded {
		t.Fatalf("kind = %s, want %s", res.Kind, MatchReencoded)
	}
	if res.Distance > DefaultHammingThreshold {
		t.Errorf("distance = %d, above threshold", res.Distance)
	}
	if res.SessionID != doc.SessionID {
		t.Errorf("session = %s, want %s", res.SessionID, doc.SessionID)
	}
}

func TestNoMatch(t *testing.T) {
	ix := openIndex(t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, paintedImage()); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	if err := ix.Add(issueProof(t, buf.Bytes())); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// An unrelated flat image.
	flat := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			if (x/16+y/16)%2 == 0 {
				flat.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				flat.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var other bytes.Buffer
	if err := png.Encode(&other, flat); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	res, err := ix.LookupArtifact(other.Bytes())
	if err != nil {
		t.Fatalf("LookupArtifact: %v", err)
	}
	if res.Kind != MatchNone {
		t.Errorf("kind = %s, want %s (distance %d)", res.Kind, MatchNone, res.Distance)
	}
}

func TestLookupNonImageArtifact(t *testing.T) {
	ix := openIndex(t)
	res, err := ix.LookupArtifact([]byte("just a text file"))
	if err != nil {
		t.Fatalf("LookupArtifact: %v", err)
	}
	if res.Kind != MatchNone {
		t.Errorf("kind = %s, want %s", res.Kind, MatchNone)
	}
}

func TestDuplicateProofRejected(t *testing.T) {
	ix := openIndex(t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, paintedImage()); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	doc := issueProof(t, buf.Bytes())

	if err := ix.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Add(doc); !errors.Is(err, ErrDuplicateProof) {
		t.Errorf("err = %v, want ErrDuplicateProof", err)
	}

	n, err := ix.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestUnavailableFingerprintNeverMatches(t *testing.T) {
	ix := openIndex(t)

	// A certified non-image artifact: indexed with the unavailable
	// marker.
	doc := issueProof(t, []byte("binary blob artifact"))
	if err := ix.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A different non-image artifact must not fuzzy-match it.
	res, err := ix.LookupArtifact([]byte("another binary blob"))
	if err != nil {
		t.Fatalf("LookupArtifact: %v", err)
	}
	if res.Kind != MatchNone {
		t.Errorf("kind = %s, want %s", res.Kind, MatchNone)
	}

	// The exact bytes still match by file hash.
	res, err = ix.LookupArtifact([]byte("binary blob artifact"))
	if err != nil {
		t.Fatalf("LookupArtifact: %v", err)
	}
	if res.Kind != MatchOriginal {
		t.Errorf("kind = %s, want %s", res.Kind, MatchOriginal)
	}
}
