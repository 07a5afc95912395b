package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/xenking/legacyshop/internal/domain/auth"
)

// Security authenticates admin requests via HMAC-SHA256 hashed API keys
// carried in the X-API-Key header.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and
// HMAC pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Require wraps next with API key authentication. A nil Security or a
// missing/unknown key yields 401.
func (s *Security) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s == nil || !s.authenticate(r) {
			writeProblem(w, r, newProblem("unauthorized", "Unauthorized", http.StatusUnauthorized,
				"a valid X-API-Key header is required"))
			return
		}
		next(w, r)
	}
}

// authenticate computes the HMAC-SHA256 of the presented API key, looks
// it up, and performs a constant-time comparison to prevent timing
// attacks.
func (s *Security) authenticate(r *http.Request) bool {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
	if err != nil {
		return false
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(hash, stored) == 1
}
