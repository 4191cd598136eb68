package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// ctxKey is the private context key type for request identity.
type ctxKey int

const userKey ctxKey = iota

// Token mints the bearer token a client presents for userID:
// "<user_id>.<hex hmac-sha256(secret, user_id)>". The issuing side shares
// the secret with this service.
func Token(secret, userID string) string {
	return userID + "." + sign(secret, userID)
}

func sign(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// authenticated wraps next with bearer-token verification and stores the
// authenticated user id on the request context.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(raw, prefix) {
			s.unauthorized(w, "missing bearer token")
			return
		}

		uid, ok := s.verify(strings.TrimPrefix(raw, prefix))
		if !ok {
			s.unauthorized(w, "invalid token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, uid)))
	})
}

// verify splits a token at the last dot so user ids may themselves contain
// dots, then compares signatures in constant time.
func (s *Server) verify(token string) (string, bool) {
	i := strings.LastIndex(token, ".")
	if i <= 0 {
		return "", false
	}
	uid := token[:i]

	got, err := hex.DecodeString(token[i+1:])
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(uid))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", false
	}
	return uid, true
}

func (s *Server) unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, msg)
}

// userID returns the authenticated user id, or "" outside the auth
// middleware.
func userID(ctx context.Context) string {
	uid, _ := ctx.Value(userKey).(string)
	return uid
}
