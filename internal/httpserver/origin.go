package httpserver

import (
	"net/http"
	"strings"
)

// withOriginPolicy rejects cross-origin browser requests that are not in
// ALLOWED_ORIGINS and answers CORS preflights for the ones that are.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		normalizedOrigin, ok := s.cors.Check(r)
		if !ok {
			if s.opts.Metrics != nil {
				s.opts.Metrics.AuthFailure("origin")
			}
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if normalizedOrigin == "" {
			next(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
