package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTTL     = 24 * time.Hour
	bearerPrefix = "Bearer "
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.adminConfigured() {
		s.respondError(w, http.StatusServiceUnavailable, "admin authentication is not configured")

		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if !s.checkCredentials(req.Username, req.Password) {
		s.logger.Warn().Str("username", req.Username).Msg("Rejected login attempt")
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")

		return
	}

	token, err := s.issueToken(req.Username, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sign token")
		s.respondError(w, http.StatusInternalServerError, "failed to issue token")

		return
	}

	s.respondJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(tokenTTL.Seconds()),
	})
}

func (s *Server) adminConfigured() bool {
	return s.cfg.AdminUsername != "" && s.cfg.AdminPassword != "" && s.cfg.JWTSecret != ""
}

// checkCredentials runs both comparisons unconditionally so timing does not
// reveal which field failed.
func (s *Server) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.AdminPassword)) == 1

	return userOK && passOK
}

func (s *Server) issueToken(username string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// requireAdmin guards admin routes. Without configured credentials every
// request is denied rather than let the endpoints run open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.adminConfigured() {
			s.respondError(w, http.StatusUnauthorized, "admin authentication is not configured")

			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")

			return
		}

		tokenStr := strings.TrimPrefix(header, bearerPrefix)

		parsed, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}

			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			s.respondError(w, http.StatusUnauthorized, "invalid or expired token")

			return
		}

		next.ServeHTTP(w, r)
	})
}
