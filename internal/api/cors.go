package api

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// preflightMaxAge lets a browser reuse a preflight for ten minutes; a web
// client writing a practice session otherwise pays one per PUT.
const preflightMaxAge = "600"

// CORSMiddleware lets browser clients read and write a user's collections from
// the origins in Config.CORSAllowedOrigins. With none configured, or for a
// request from another origin, it adds no headers and the browser blocks the
// response. The live feed checks the same origins at websocket upgrade.
func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !s.originAllowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", preflightMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.config.CORSAllowedOrigins, "*") ||
		slices.Contains(s.config.CORSAllowedOrigins, origin)
}

// originHosts turns configured CORS origins into websocket origin host patterns.
func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" || !strings.Contains(o, "://") {
			out = append(out, o)
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
