// Package phash computes a perceptual fingerprint of an exported
// artifact. Unlike the exact file hash, the fingerprint survives
// format conversion and mild recompression, so a verifier can still
// match a JPEG re-encode of a PNG original.
//
// The fingerprint is a 16x16 gradient hash: 256 bits of horizontal
// brightness differences over a downscaled grayscale image. Two
// fingerprints are compared by Hamming distance.
package phash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math/bits"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
)

// Prefix versions the fingerprint encoding. Comparisons require equal
// versions on both sides.
const Prefix = "phash:v1:"

// Unavailable is the explicit marker recorded when no fingerprint could
// be computed (undecodable or non-image artifact). It participates in
// proofs but never matches anything.
const Unavailable = "unavailable"

// Bits is the fingerprint width.
const Bits = 256

// Decode errors.
var (
	ErrUndecodable = errors.New("phash: artifact is not a decodable image")
	ErrBadEncoding = errors.New("phash: malformed fingerprint encoding")
)

// Compute decodes an artifact and returns its encoded fingerprint.
func Compute(artifact []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(artifact))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return FromImage(img)
}

// FromImage fingerprints an already decoded image.
func FromImage(img image.Image) (string, error) {
	h, err := goimagehash.ExtDifferenceHash(img, 16, 16)
	if err != nil {
		return "", fmt.Errorf("phash: hash image: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(Prefix)
	for _, word := range h.GetHash() {
		fmt.Fprintf(&sb, "%016x", word)
	}
	return sb.String(), nil
}

// Distance returns the Hamming distance between two encoded
// fingerprints, in bits.
func Distance(a, b string) (int, error) {
	wa, err := decode(a)
	if err != nil {
		return 0, err
	}
	wb, err := decode(b)
	if err != nil {
		return 0, err
	}
	if len(wa) != len(wb) {
		return 0, fmt.Errorf("%w: width mismatch", ErrBadEncoding)
	}
	dist := 0
	for i := range wa {
		dist += bits.OnesCount64(wa[i] ^ wb[i])
	}
	return dist, nil
}

// Valid reports whether s is a well-formed fingerprint (and not the
// Unavailable marker).
func Valid(s string) bool {
	_, err := decode(s)
	return err == nil
}

func decode(s string) ([]uint64, error) {
	raw, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrBadEncoding, Prefix)
	}
	if len(raw) != Bits/4 || len(raw)%16 != 0 {
		return nil, fmt.Errorf("%w: bad length %d", ErrBadEncoding, len(raw))
	}
	words := make([]uint64, 0, len(raw)/16)
	for i := 0; i < len(raw); i += 16 {
		b, err := hex.DecodeString(raw[i : i+16])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
		}
		var w uint64
		for _, x := range b {
			w = w<<8 | uint64(x)
		}
		words = append(words, w)
	}
	return words, nil
}
