package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// The API is read and write only through GET and POST.
const corsMethods = "GET, POST, OPTIONS"

var corsHeaders = strings.Join([]string{
	"Content-Type", "Authorization", "X-API-Key",
	OwnerHeader, OwnerSignatureHeader, OwnerTimestampHeader, RequestIDHeader,
}, ", ")

// CORS returns middleware that lets browser clients from allowedOrigins call
// the ledger with owner and signature headers and read the request id of the
// response. An empty list or "*" allows every origin. Preflights from other
// origins are refused.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	allowed := func(origin string) bool {
		return allowAll || slices.ContainsFunc(allowedOrigins, func(o string) bool {
			return strings.EqualFold(o, origin)
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				if !allowed(origin) {
					if preflight {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
				if preflight {
					w.Header().Set("Access-Control-Allow-Methods", corsMethods)
					w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
