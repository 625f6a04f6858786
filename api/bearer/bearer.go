// Package bearer checks the static bearer token of the HTTP API.
package bearer

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Authorized reports whether r carries "Authorization: Bearer <token>". An
// empty token disables the check.
func Authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// Require answers 401 and returns false when r is not authorized.
func Require(w http.ResponseWriter, r *http.Request, token string) bool {
	if !Authorized(r, token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}
