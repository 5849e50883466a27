package httpx

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// requireAuth ensures the request carries the operator bearer token before
// invoking the handler. Comparison is constant time.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.adminToken == "" {
			r.logger.Warn("request rejected, admin token not configured", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "admin token not configured")
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(r.adminToken)) != 1 {
			r.logger.Warn("admin token mismatch", "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		next(w, req)
	}
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("authorization header missing")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("authorization header malformed")
	}
	return strings.TrimSpace(token), nil
}
