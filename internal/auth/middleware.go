package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Authenticate verifies the bearer token of every request outside openPaths and stores the
// claims on the request context. Failures get a 401 problem body.
func Authenticate(v *Verifier, openPaths ...string) func(next http.Handler) http.Handler {
	open := make(map[string]struct{}, len(openPaths))
	for _, p := range openPaths {
		open[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, skip := open[r.URL.Path]; skip {
				next.ServeHTTP(w, r)
				return
			}

			token, err := bearerToken(r.Header.Get("Authorization"))
			if err == nil {
				var claims *Claims
				if claims, err = v.Verify(token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
					return
				}
			}
			deny(w, http.StatusUnauthorized, "unauthorized", err.Error())
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidToken
	}
	return token, nil
}

// RequireScope rejects requests whose claims hold none of scopes. Requests without claims pass through,
// which is the case when authentication is disabled.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			for _, scope := range scopes {
				if claims.HasScope(scope) {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, http.StatusForbidden, "forbidden", "missing scope "+strings.Join(scopes, " or "))
		})
	}
}

func deny(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": code, "detail": detail})
}
