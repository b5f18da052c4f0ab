package service

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/pkg/apperror"
)

// SourceVerifierService implements ports.VerifierService. It selects an
// authentication strategy per source from static configuration:
// hmac (signed body), token (shared bearer token), none (internal only).
type SourceVerifierService struct {
	sources   map[string]config.SourceConfig
	signature ports.SignatureService
}

// NewSourceVerifierService creates a verifier over the configured sources.
func NewSourceVerifierService(sources map[string]config.SourceConfig, signature ports.SignatureService) *SourceVerifierService {
	return &SourceVerifierService{
		sources:   sources,
		signature: signature,
	}
}

// Verify authenticates one delivery and returns its trust level.
func (s *SourceVerifierService) Verify(source domain.Source, header http.Header, body []byte) (domain.TrustLevel, error) {
	cfg, ok := s.sources[string(source)]
	if !ok {
		return "", apperror.ErrUnsupportedSource(string(source))
	}
	if !cfg.Enabled {
		return "", apperror.ErrSourceDisabled(string(source))
	}

	switch cfg.AuthMode {
	case "hmac":
		return s.verifyHMAC(cfg, header, body)
	case "token":
		return s.verifyToken(cfg, header)
	case "none":
		return domain.TrustLevelLow, nil
	default:
		return "", apperror.ErrUnsupportedSource(string(source))
	}
}

func (s *SourceVerifierService) verifyHMAC(cfg config.SourceConfig, header http.Header, body []byte) (domain.TrustLevel, error) {
	signature := header.Get(cfg.SignatureHeader)
	if signature == "" {
		return "", apperror.ErrMissingAuthMaterial()
	}
	if !s.signature.Verify(cfg.Secret, body, signature) {
		return "", apperror.ErrInvalidSignature()
	}
	return domain.TrustLevelHigh, nil
}

func (s *SourceVerifierService) verifyToken(cfg config.SourceConfig, header http.Header) (domain.TrustLevel, error) {
	token := header.Get(cfg.SignatureHeader)
	if token == "" {
		// Fall back to the Authorization header bearer scheme.
		auth := header.Get("Authorization")
		token = strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			token = ""
		}
	}
	if token == "" {
		return "", apperror.ErrMissingAuthMaterial()
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Secret)) != 1 {
		return "", apperror.ErrInvalidToken()
	}
	return domain.TrustLevelMed, nil
}
