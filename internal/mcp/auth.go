package mcp

import (
	"encoding/json"
	"net/http"
	"strings"
)

// requireBearerToken wraps next with the bearer-auth check §4.8 mandates:
// when enabled, every request must carry "Authorization: Bearer <token>"
// matching apiKey, checked before the request reaches the MCP handler —
// and so before any tool body runs. A mismatch or absent header never
// calls next; it writes the same MCPError shape a tool failure would.
func requireBearerToken(enabled bool, apiKey string, next http.Handler) http.Handler {
	if !enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || token != apiKey {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(&MCPError{Code: ErrCodeAuth, Message: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
