package stamp

import (
	"net/http"
	"time"

	"easeld/internal/config"
	"easeld/internal/logging"
)

// FromConfig assembles the orchestrator described by a stamp
// configuration section: the enabled backends, one HTTP client under
// the configured TLS policy, and the widest configured backend timeout
// as the per-attempt bound.
func FromConfig(cfg config.StampConfig, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}

	timeout := DefaultBackendTimeout
	for _, b := range []config.StampBackendConfig{cfg.Gist, cfg.Archive, cfg.Local} {
		if b.Enabled && b.BackendTimeout(DefaultBackendTimeout) > timeout {
			timeout = b.BackendTimeout(DefaultBackendTimeout)
		}
	}

	var client *http.Client
	if cfg.Gist.Enabled || cfg.Archive.Enabled {
		policy := TLSPolicy{
			BundlePath:      cfg.TLSBundlePath,
			AllowUnverified: cfg.AllowUnverifiedTLS,
		}
		// Client timeout slightly over the attempt bound so the
		// orchestrator's context, not the transport, decides.
		client = NewHTTPClient(policy, timeout+time.Second, logger)
	}

	var backends []Backend
	if cfg.Gist.Enabled {
		if cfg.GistToken == "" {
			logger.WithComponent("stamp").Warn("gist backend enabled without a token, skipping")
		} else {
			backends = append(backends, NewGistLog("", cfg.GistToken, cfg.GistID, client))
		}
	}
	if cfg.Archive.Enabled {
		backends = append(backends, NewWebArchive("", nil, client))
	}
	if cfg.Local.Enabled {
		backends = append(backends, NewLocalLog(cfg.LocalLogPath))
	}

	return NewOrchestrator(backends, timeout, logger)
}
