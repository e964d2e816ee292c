package core

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"hookrouter/internal/security"
	"hookrouter/internal/types"
)

// RequireSignature verifies X-Webhook-Signature against the raw body using
// the comma separated secrets in secret, so an old and a new secret can be
// live during rotation. The body is buffered and handed on unchanged. With
// no secret configured every request is rejected.
func (s *Server) RequireSignature(secret types.SecretString) func(http.Handler) http.Handler {
	var secrets []string
	for _, part := range strings.Split(secret.Unmask(), ",") {
		if p := strings.TrimSpace(part); p != "" {
			secrets = append(secrets, p)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(security.SignatureHeader)
			if header == "" {
				Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureMissing, "missing "+security.SignatureHeader+" header", nil))
				return
			}

			body, err := ReadBody(w, r, s.BodyLimit())
			if err != nil {
				Error(w, r, err)
				return
			}
			if len(secrets) == 0 || !security.Verify(body, header, secrets...) {
				if log := types.LoggerFromContext(r.Context()); log != nil {
					log.Warn("webhook signature rejected", "ip", clientIP(r), "path", r.URL.Path)
				}
				Error(w, r, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "invalid webhook signature", nil))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
