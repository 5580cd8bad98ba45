package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// RequireIdentity rejects requests without a valid bearer credential and stores
// the verified Identity in the request context for downstream handlers.
func RequireIdentity(v Verifier, log *slog.Logger, next http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := Authenticate(r, v, time.Now().UTC())
		if err != nil {
			log.Info("auth.reject", "path", r.URL.Path, "remote", r.RemoteAddr, "reason", err.Error())
			WriteUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// WriteUnauthorized writes a 401 JSON body carrying the authentication error text.
func WriteUnauthorized(w http.ResponseWriter, err error) {
	msg := ErrInvalidToken.Error()
	if errors.Is(err, ErrAuthenticationRequired) {
		msg = ErrAuthenticationRequired.Error()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="messenger"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}
