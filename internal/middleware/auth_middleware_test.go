package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulsepal-service/internal/auth"
	"pulsepal-service/internal/config"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewTokenManager(config.AuthConfig{
		JWTSecret: "0123456789abcdef0123",
		Issuer:    "pulsepal-service",
		TokenTTL:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	full, _, err := tokens.GenerateToken("operator", false)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	readOnly, _, err := tokens.GenerateToken("viewer", true)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	router := gin.New()
	router.Use(RequestIDMiddleware(), AuthMiddleware(tokens, zap.NewNop()))
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	router.GET("/devices", ok)
	router.POST("/devices/COM5/abort", ok)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no token", http.MethodGet, "/devices", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/devices", "Basic " + full, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/devices", "Bearer nope", http.StatusUnauthorized},
		{"valid", http.MethodGet, "/devices", "Bearer " + full, http.StatusNoContent},
		{"lowercase scheme", http.MethodPost, "/devices/COM5/abort", "bearer " + full, http.StatusNoContent},
		{"query token", http.MethodGet, "/devices?access_token=" + full, "", http.StatusNoContent},
		{"read-only get", http.MethodGet, "/devices", "Bearer " + readOnly, http.StatusNoContent},
		{"read-only command", http.MethodPost, "/devices/COM5/abort", "Bearer " + readOnly, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
