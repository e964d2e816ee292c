package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"hookrouter/internal/types"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// healthPath is public and never rate limited.
const healthPath = "/health"

// skipsAPIKey reports whether path authenticates some other way. Signed
// webhook routes carry an HMAC signature instead of an API key.
func skipsAPIKey(path string) bool {
	if path == healthPath {
		return true
	}
	return strings.HasPrefix(path, "/v1/webhooks/") && strings.HasSuffix(path, "/secure")
}

// APIKeyAuth verifies API keys against bcrypt hashes. Keys that verified
// once are remembered by their SHA-256 fingerprint so bcrypt runs once per
// key per process.
type APIKeyAuth struct {
	hashes   [][]byte
	disabled bool

	mu       sync.RWMutex
	verified map[string]struct{}
}

// NewAPIKeyAuth parses hashes. With no hashes, local mode disables
// verification and every other mode rejects all requests.
func NewAPIKeyAuth(hashes []string, local bool) (*APIKeyAuth, error) {
	a := &APIKeyAuth{verified: make(map[string]struct{})}
	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("api key hash %d: %w", i, err)
		}
		a.hashes = append(a.hashes, []byte(h))
	}
	a.disabled = len(a.hashes) == 0 && local
	return a, nil
}

// Disabled reports whether verification is skipped.
func (a *APIKeyAuth) Disabled() bool { return a.disabled }

// Fingerprint is the log-safe identity of a key.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// Verify reports whether key matches one of the configured hashes.
func (a *APIKeyAuth) Verify(key string) bool {
	if key == "" {
		return false
	}
	sum := sha256.Sum256([]byte(key))
	fp := string(sum[:])

	a.mu.RLock()
	_, ok := a.verified[fp]
	a.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			a.mu.Lock()
			a.verified[fp] = struct{}{}
			a.mu.Unlock()
			return true
		}
	}
	return false
}

// APIKeyMiddleware requires a valid X-API-Key except where skipsAPIKey and
// stores the rate limit identity in the context: the key fingerprint when
// authenticated, the client IP otherwise.
func (s *Server) APIKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipsAPIKey(r.URL.Path) || s.Auth == nil || s.Auth.Disabled() {
			ctx := types.WithClientKey(r.Context(), "ip:"+clientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthAPIKeyMissing, "missing "+APIKeyHeader+" header", nil))
			return
		}
		if !s.Auth.Verify(key) {
			if log := types.LoggerFromContext(r.Context()); log != nil {
				log.Warn("invalid api key", "ip", clientIP(r), "path", r.URL.Path)
			}
			Error(w, r, types.NewAppError(types.ErrCodeAuthAPIKeyInvalid, "invalid API key", nil))
			return
		}

		ctx := types.WithClientKey(r.Context(), "key:"+Fingerprint(key))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP takes the first X-Forwarded-For entry when present, otherwise the
// host part of RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
