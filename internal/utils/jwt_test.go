package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := IssueToken(secret, "u1", "user", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ParseToken(secret, tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := ParseToken([]byte("other"), tok); err == nil {
		t.Fatal("token accepted with the wrong secret")
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("test-secret")

	expired, _ := IssueToken(secret, "u1", "user", -time.Minute)
	if _, err := ParseToken(secret, expired); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expired token err = %v", err)
	}

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1", "role": "user"}).SignedString(secret)
	if _, err := ParseToken(secret, noExp); err == nil {
		t.Fatal("token without exp accepted")
	}

	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	if _, err := ParseToken(secret, noRole); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without role err = %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, err := BearerToken("Bearer abc.def"); err != nil || tok != "abc.def" {
		t.Fatalf("BearerToken = %q, %v", tok, err)
	}
	for _, h := range []string{"", "abc.def", "Bearer ", "Basic dXNlcjpwYXNz"} {
		if _, err := BearerToken(h); err == nil {
			t.Errorf("BearerToken(%q) accepted", h)
		}
	}
}
