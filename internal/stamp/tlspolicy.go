package stamp

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"time"

	"easeld/internal/logging"
)

// TLS trust is layered: a bundled root PEM when configured, then the
// platform certificate store, then unverified as a last resort. The
// unverified layer is never selected silently; it logs at error level
// on every client built with it.

// TLSPolicy selects how backend connections authenticate the server.
type TLSPolicy struct {
	// BundlePath points at a PEM root bundle shipped with the
	// application. Empty means skip this layer.
	BundlePath string
	// AllowUnverified permits the final fallback. Off by default.
	AllowUnverified bool
}

// NewHTTPClient builds an HTTP client for backend traffic under the
// policy. It degrades one layer at a time and reports which layer won.
func NewHTTPClient(policy TLSPolicy, timeout time.Duration, logger *logging.Logger) *http.Client {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("stamp")

	if policy.BundlePath != "" {
		pem, err := os.ReadFile(policy.BundlePath)
		if err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				logger.Debug("tls trust: bundled roots", "bundle", policy.BundlePath)
				return clientWith(&tls.Config{RootCAs: pool}, timeout)
			}
			logger.Warn("tls bundle contained no usable certificates", "bundle", policy.BundlePath)
		} else {
			logger.Warn("tls bundle unreadable, falling back to system roots",
				"bundle", policy.BundlePath, "error", err)
		}
	}

	if pool, err := x509.SystemCertPool(); err == nil && pool != nil {
		logger.Debug("tls trust: system roots")
		return clientWith(&tls.Config{RootCAs: pool}, timeout)
	}

	if policy.AllowUnverified {
		logger.Error("tls trust: UNVERIFIED connections in use; timestamps gain no transport authenticity")
		return clientWith(&tls.Config{InsecureSkipVerify: true}, timeout)
	}

	// No system pool and no unverified permission: default verifier,
	// which will fail closed on handshake.
	logger.Warn("tls trust: no usable root store, connections will likely fail")
	return clientWith(nil, timeout)
}

func clientWith(cfg *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: cfg},
	}
}
