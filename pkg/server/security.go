package server

import (
	"net/http"
)

// apiHeaders are set on every response. The API only serves JSON, so nothing
// may be loaded, framed or cached from it.
var apiHeaders = map[string]string{
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
	"X-Content-Type-Options":    "nosniff",
	"Referrer-Policy":           "no-referrer",
	"Cache-Control":             "no-store",
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range apiHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}
