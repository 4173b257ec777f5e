package proof

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// TrustAnchors are the verifying-side credentials. Either side may be
// absent; a proof whose scheme has no anchor fails verification.
type TrustAnchors struct {
	Ed25519Public ed25519.PublicKey
	HMACSecret    []byte
}

// Verify recomputes the canonical payload from the critical fields
// present in the document and checks the embedded signature. It returns
// false, never an error, on tamper, forgery, a missing anchor, or an
// unrecognized signature_version. Non-critical fields never affect the
// outcome.
func Verify(d *Document, anchors TrustAnchors) bool {
	if d == nil {
		return false
	}
	sig, err := hex.DecodeString(d.Signature)
	if err != nil {
		return false
	}
	payload, err := CanonicalPayload(d)
	if err != nil {
		return false
	}

	switch d.SignatureVersion {
	case SigEd25519V1:
		if len(anchors.Ed25519Public) != ed25519.PublicKeySize {
			return false
		}
		if len(sig) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(anchors.Ed25519Public, payload, sig)

	case SigHMACV1:
		if len(anchors.HMACSecret) == 0 {
			return false
		}
		mac := hmac.New(sha256.New, anchors.HMACSecret)
		mac.Write(payload)
		return hmac.Equal(mac.Sum(nil), sig)

	default:
		// Unknown scheme: refuse rather than guess.
		return false
	}
}
