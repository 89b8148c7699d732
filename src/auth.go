package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const adminRole = "admin"

// Claims carried by admin tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// tokenHandler exchanges ADMIN_KEY for a signed admin token.
func (s *server) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminKey == "" {
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "admin tokens are disabled"})
		return
	}

	var creds struct {
		Key     string `json:"key"`
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(creds.Key), []byte(s.cfg.AdminKey)) != 1 {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid admin key"})
		return
	}
	if creds.Subject == "" {
		creds.Subject = adminRole
	}

	tokenString, err := s.generateJWT(creds.Subject)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "token generation failed"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"token":      tokenString,
		"expires_in": s.cfg.JWTExpire.String(),
	})
}

func (s *server) generateJWT(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpire)),
			Issuer:    serviceName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

func (s *server) validateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithIssuer(serviceName))

	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != adminRole {
		return nil, errors.New("admin role required")
	}

	return claims, nil
}

// AuthMiddleware guards the admin routes with a bearer token.
func (s *server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization header required"})
			return
		}

		authParts := strings.Split(authHeader, " ")
		if len(authParts) != 2 || authParts[0] != "Bearer" {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid Authorization header format"})
			return
		}

		claims, err := s.validateToken(authParts[1])
		if err != nil {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware applies the RATE_LIMIT budget per client IP.
func (s *server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.limiter.Get(r.Context(), s.limiter.GetIPKey(r))
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "rate limit error"})
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))

		if ctx.Reached {
			respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
