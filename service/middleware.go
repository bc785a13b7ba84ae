// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const actorKey contextKey = "actor"

// Actor identifies the authenticated caller extracted from the bearer token.
type Actor struct {
	ID   string
	Role string
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// parseToken validates an HMAC-signed bearer token and extracts the caller
// identity from its claims.
func parseToken(tokenString string, secret []byte) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Actor{}, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Actor{}, fmt.Errorf("invalid token claims")
	}

	actor := Actor{
		ID:   getClaimString(claims, "sub"),
		Role: getClaimString(claims, "role"),
	}
	if actor.ID == "" {
		actor.ID = getClaimString(claims, "user_id")
	}
	if actor.ID == "" {
		return Actor{}, fmt.Errorf("token missing subject claim")
	}
	return actor, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

// authMiddleware validates the Authorization header on every request. When
// no secret is configured, authentication is disabled and the middleware
// passes requests through unchanged.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := parseToken(strings.TrimPrefix(header, "Bearer "), s.jwtSecret)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware emits one structured log line per request and feeds the
// request-level Prometheus series.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		endpoint := r.URL.Path
		promRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", rec.status)).Inc()
		promRequestDuration.WithLabelValues(endpoint).Observe(float64(elapsed.Milliseconds()))

		s.log.InfoWithDuration("", "request handled", float64(elapsed.Milliseconds()), map[string]interface{}{
			"method": r.Method,
			"path":   endpoint,
			"status": rec.status,
		})
	})
}
