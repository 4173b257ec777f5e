package proof

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"easeld/internal/security"
)

// Key loading errors.
var (
	ErrInvalidKeyFormat = errors.New("proof: invalid key format")
	ErrUnsupportedKey   = errors.New("proof: unsupported key type (expected Ed25519)")
	ErrKeyEncrypted     = errors.New("proof: key is encrypted (passphrase required)")
)

// SigningUnavailableError reports that no usable signing credential
// exists. Callers decide whether to fall back or refuse to issue.
type SigningUnavailableError struct {
	Reason string
}

func (e *SigningUnavailableError) Error() string {
	return "proof: signing unavailable: " + e.Reason
}

// Credential signs canonical proof payloads. It is an explicit value
// passed to the builder; nothing in this package holds a process-wide
// default.
type Credential interface {
	// Version is the signature_version the credential produces.
	Version() string
	// Sign returns the signature over the canonical payload.
	Sign(payload []byte) ([]byte, error)
}

// Ed25519Credential signs with an asymmetric key. Signatures may be
// nondeterministic but always verify against the public key.
type Ed25519Credential struct {
	key ed25519.PrivateKey
}

// NewEd25519Credential wraps an in-memory private key.
func NewEd25519Credential(key ed25519.PrivateKey) (*Ed25519Credential, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, &SigningUnavailableError{Reason: "malformed ed25519 private key"}
	}
	return &Ed25519Credential{key: key}, nil
}

func (c *Ed25519Credential) Version() string { return SigEd25519V1 }

func (c *Ed25519Credential) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(c.key, payload), nil
}

// Public returns the verifying key.
func (c *Ed25519Credential) Public() ed25519.PublicKey {
	return c.key.Public().(ed25519.PublicKey)
}

// HMACCredential is the deterministic symmetric fallback. Same payload,
// same signature.
type HMACCredential struct {
	secret []byte
}

// NewHMACCredential validates the secret and wraps it.
func NewHMACCredential(secret []byte) (*HMACCredential, error) {
	if err := security.ValidateKeyStrength(secret); err != nil {
		return nil, &SigningUnavailableError{Reason: err.Error()}
	}
	return &HMACCredential{secret: secret}, nil
}

func (c *HMACCredential) Version() string { return SigHMACV1 }

func (c *HMACCredential) Sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// LoadPrivateKey reads an Ed25519 private key from file. Supports raw
// 32-byte seeds, raw 64-byte keys, and OpenSSH format.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if len(keyData) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(keyData), nil
	}
	if len(keyData) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(keyData), nil
	}
	return parseOpenSSHKey(keyData)
}

func parseOpenSSHKey(keyData []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, ErrInvalidKeyFormat
	}

	parsedKey, err := ssh.ParseRawPrivateKey(keyData)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, ErrKeyEncrypted
		}
		return nil, fmt.Errorf("parse key: %w", err)
	}

	switch k := parsedKey.(type) {
	case *ed25519.PrivateKey:
		return *k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, parsedKey)
	}
}

// LoadPublicKey reads an Ed25519 public key from file. Supports raw
// 32-byte keys and OpenSSH authorized_keys format.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if len(keyData) == ed25519.PublicKeySize {
		return ed25519.PublicKey(keyData), nil
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	cryptoPubKey, ok := pubKey.(ssh.CryptoPublicKey)
	if !ok {
		return nil, ErrInvalidKeyFormat
	}
	edKey, ok := cryptoPubKey.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKey, cryptoPubKey.CryptoPublicKey())
	}
	return edKey, nil
}
