package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	signed, expiresAt, err := GenerateToken("op-1", "admin", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("expiry must be in the future")
	}

	token, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !token.Valid {
		t.Fatalf("parse token: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if claims["sub"] != "op-1" || claims["username"] != "admin" {
		t.Errorf("claims = %v", claims)
	}
}

func TestOperatorIDFromContext(t *testing.T) {
	signed, _, err := GenerateToken("op-1", "admin", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	token, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("user", token)

	id, err := OperatorIDFromContext(c)
	if err != nil {
		t.Fatalf("OperatorIDFromContext: %v", err)
	}
	if id != "op-1" {
		t.Errorf("operator id = %q, want %q", id, "op-1")
	}
}

func TestOperatorIDFromContextMissingToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if _, err := OperatorIDFromContext(c); err == nil {
		t.Error("missing token must fail")
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	if _, _, err := GenerateToken("", "admin", "secret", time.Hour); err == nil {
		t.Error("empty operator id must fail")
	}
	if _, _, err := GenerateToken("op-1", "admin", "", time.Hour); err == nil {
		t.Error("empty secret must fail")
	}
	if _, _, err := GenerateToken("op-1", "admin", "secret", 0); err == nil {
		t.Error("non-positive expiry must fail")
	}
}
