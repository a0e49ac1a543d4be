package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAuth rejects requests without the configured token. The token may
// come from a bearer header or a ?token= query (EventSource cannot set headers).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" && secureEqual(t, s.cfg.Token) {
		return true
	}
	if t := bearerToken(r.Header.Get("Authorization")); t != "" && secureEqual(t, s.cfg.Token) {
		return true
	}
	return false
}

func bearerToken(header string) string {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
