package security

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth guards the dashboard with a fixed set of shared credentials.
// Secrets starting with "$2" are treated as bcrypt hashes.
type BasicAuth struct {
	realm  string
	users  map[string]string
	exempt map[string]bool
	onDeny func()
}

// NewBasicAuth builds the guard. With no users configured every request
// passes through. onDeny may be nil.
func NewBasicAuth(realm string, users map[string]string, exemptPaths []string, onDeny func()) *BasicAuth {
	ba := &BasicAuth{
		realm:  realm,
		users:  make(map[string]string, len(users)),
		exempt: make(map[string]bool, len(exemptPaths)),
		onDeny: onDeny,
	}
	for u, s := range users {
		ba.users[u] = s
	}
	for _, p := range exemptPaths {
		ba.exempt[p] = true
	}
	return ba
}

// Enabled reports whether any credentials are configured.
func (ba *BasicAuth) Enabled() bool { return len(ba.users) > 0 }

// Check verifies a username and password pair.
func (ba *BasicAuth) Check(user, password string) bool {
	secret, ok := ba.users[user]
	if !ok {
		return false
	}
	if strings.HasPrefix(secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(password)) == 1
}

func (ba *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ba.Enabled() || ba.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		user, password, ok := r.BasicAuth()
		if !ok || !ba.Check(user, password) {
			if ok {
				slog.WarnContext(r.Context(), "Authentication failed", "component", "security", "user", user, "path", r.URL.Path)
			}
			if ba.onDeny != nil {
				ba.onDeny()
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="`+ba.realm+`", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
