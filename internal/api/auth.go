package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/projecthelena/pulsewarden/internal/cache"
)

// AdminAuth builds the admin bearer-token middleware (§6: "constant-time
// token comparison against config.adminAPI.token"). The token is read from
// the live cache snapshot on every request so a hot reload rotates it
// without a restart.
func AdminAuth(cacheMgr *cache.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			want := cacheMgr.Current().Document().Admin.Token
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// compareToken is the same constant-time check used by the reload endpoint,
// which carries its token as a path parameter rather than a header.
func compareToken(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
